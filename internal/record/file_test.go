package record

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeRecordFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func utf8Loader(t *testing.T, limit int) *Loader {
	t.Helper()
	return NewLoader(context.Background(), LoaderOptions{MaxConcurrent: limit, Encoding: "utf-8"})
}

func TestFileDiagnosticsWaitsForLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeRecordFile(t, dir, "foo.d", "3\t0\tunused variable\n10\t4\tmissing semicolon")

	f := NewFile("foo")
	f.Load(utf8Loader(t, 1), path)

	diags, err := f.Diagnostics(context.Background())
	if err != nil {
		t.Fatalf("diagnostics: %v", err)
	}
	if len(diags) != 2 {
		t.Fatalf("expected 2 diagnostics, got %d", len(diags))
	}
	if diags[0].Message != "unused variable" || diags[0].Range.Start.Line != 3 {
		t.Fatalf("unexpected first diagnostic %+v", diags[0])
	}
	if diags[1].Message != "missing semicolon" || diags[1].Range.Start.Column != 4 {
		t.Fatalf("unexpected second diagnostic %+v", diags[1])
	}

	again, err := f.Diagnostics(context.Background())
	if err != nil {
		t.Fatalf("second diagnostics: %v", err)
	}
	if len(again) != len(diags) || again[0] != diags[0] || again[1] != diags[1] {
		t.Fatalf("diagnostics not idempotent: %+v vs %+v", again, diags)
	}
}

func TestFileAccumulatesLoadsInStartOrder(t *testing.T) {
	dir := t.TempDir()
	first := writeRecordFile(t, dir, "a.d", "1\t0\tfrom a\n2\t0\tfrom a again")
	second := writeRecordFile(t, dir, "b.d", "5\t0\tfrom b")

	l := utf8Loader(t, 4)
	f := NewFile("same")
	f.Load(l, first)
	f.Load(l, second)

	records, err := f.Records(context.Background())
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	want := []string{"from a", "from a again", "from b"}
	if len(records) != len(want) {
		t.Fatalf("expected %d records, got %+v", len(want), records)
	}
	for i, msg := range want {
		if records[i].Message != msg {
			t.Fatalf("record %d = %q, want %q", i, records[i].Message, msg)
		}
	}
	if paths := f.paths(); len(paths) != 2 || paths[0] != first || paths[1] != second {
		t.Fatalf("unexpected paths %v", paths)
	}
}

func TestFileLoadFailurePropagates(t *testing.T) {
	dir := t.TempDir()
	good := writeRecordFile(t, dir, "good.d", "1\t1\tok")
	missing := filepath.Join(dir, "gone.d")

	l := utf8Loader(t, 2)
	f := NewFile("k")
	f.Load(l, good)
	f.Load(l, missing)

	diags, err := f.Diagnostics(context.Background())
	if err == nil {
		t.Fatal("expected load error")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
	if len(diags) != 1 || diags[0].Message != "ok" {
		t.Fatalf("records of successful loads should survive, got %+v", diags)
	}
}

func TestFileClearDiscardsStaleLoads(t *testing.T) {
	dir := t.TempDir()
	stale := writeRecordFile(t, dir, "old.d", "1\t0\tstale")
	fresh := writeRecordFile(t, dir, "new.d", "2\t0\tfresh")

	l := utf8Loader(t, 1)
	// Hold the only slot so both loads are in flight across the Clear.
	if err := l.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	f := NewFile("k")
	f.Load(l, stale)
	gen := f.generation()
	f.Clear()
	if f.generation() != gen+1 {
		t.Fatalf("expected generation bump, got %d", f.generation())
	}
	f.Load(l, fresh)
	l.sem.Release(1)

	records, err := f.Records(context.Background())
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != 1 || records[0].Message != "fresh" {
		t.Fatalf("expected only fresh record, got %+v", records)
	}

	// Give the stale load time to land; it must stay invisible.
	time.Sleep(20 * time.Millisecond)
	records, err = f.Records(context.Background())
	if err != nil {
		t.Fatalf("records after settle: %v", err)
	}
	if len(records) != 1 || records[0].Message != "fresh" {
		t.Fatalf("stale load resurrected records: %+v", records)
	}
}

func TestFileClearWithoutReloadIsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := writeRecordFile(t, dir, "a.d", "1\t0\tx")
	f := NewFile("a")
	f.Load(utf8Loader(t, 1), path)
	if _, err := f.Records(context.Background()); err != nil {
		t.Fatalf("records: %v", err)
	}
	f.Clear()
	diags, err := f.Diagnostics(context.Background())
	if err != nil {
		t.Fatalf("diagnostics: %v", err)
	}
	if diags == nil || len(diags) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", diags)
	}
}

func TestFileRecordsHonorsContext(t *testing.T) {
	dir := t.TempDir()
	path := writeRecordFile(t, dir, "a.d", "1\t0\tx")
	l := utf8Loader(t, 1)
	if err := l.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer l.sem.Release(1)

	f := NewFile("a")
	f.Load(l, path)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Records(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

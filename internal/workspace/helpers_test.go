package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"lspbase/internal/config"
	"lspbase/internal/record"
	"lspbase/internal/testkit"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func testSettings(pattern, ext string) config.Settings {
	s := config.Default()
	s.InputPathPattern = pattern
	s.RecordExtension = ext
	s.Encoding = "utf-8"
	s.MaxConcurrentLoads = 2
	return s
}

func newTestIndex(t *testing.T, root string, settings *config.Settings) *Index {
	t.Helper()
	idx := New(root, Options{
		Settings: func() config.Settings { return *settings },
		Loader: func(s config.Settings) *record.Loader {
			return record.NewLoader(context.Background(), record.LoaderOptions{
				MaxConcurrent: s.MaxConcurrentLoads,
				Encoding:      s.Encoding,
			})
		},
	})
	checkInvariants(t, idx)
	return idx
}

func checkInvariants(t *testing.T, idx *Index) {
	t.Helper()
	if err := testkit.CheckDiscovery(idx.Root(), idx.InputDirs(), idx.Keys()); err != nil {
		t.Fatalf("index invariants: %v", err)
	}
}

func resolveMessages(t *testing.T, idx *Index, p string) ([]string, bool) {
	t.Helper()
	diags, ok, err := idx.Resolve(context.Background(), p)
	if err != nil {
		t.Fatalf("resolve %s: %v", p, err)
	}
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(diags))
	for _, d := range diags {
		out = append(out, d.Message)
	}
	return out, true
}

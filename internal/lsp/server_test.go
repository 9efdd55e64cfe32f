package lsp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lspbase/internal/record"
)

func TestPublishDiagnosticsForCandidate(t *testing.T) {
	ws := t.TempDir()
	writeTree(t, ws, map[string]string{"diag/foo.d": "2\t4\tboom\nbad line\n0\tx\tcol fallback"})
	server, out := newTestServer(t, "diag", ".d", ws)

	uri := openDoc(t, server, filepath.Join(ws, "foo.c"))
	drain(t, out)
	server.validateDocument(canonicalURI(uri))

	got := publishes(t, drain(t, out))
	if len(got) != 1 {
		t.Fatalf("expected one publish, got %d", len(got))
	}
	pub := got[0]
	if pub.URI != uri {
		t.Fatalf("publish uri = %q, want %q", pub.URI, uri)
	}
	if pub.Version == nil || *pub.Version != 1 {
		t.Fatalf("unexpected version: %v", pub.Version)
	}
	if len(pub.Diagnostics) != 2 {
		t.Fatalf("expected 2 diagnostics, got %+v", pub.Diagnostics)
	}
	first := pub.Diagnostics[0]
	want := position{Line: 2, Character: 4}
	if first.Range.Start != want || first.Range.End != want {
		t.Fatalf("unexpected range: %+v", first.Range)
	}
	if first.Severity != int(record.SeverityWarning) || first.Source != record.Source || first.Message != "boom" {
		t.Fatalf("unexpected diagnostic: %+v", first)
	}
	second := pub.Diagnostics[1]
	if second.Range.Start != (position{}) || second.Message != "col fallback" {
		t.Fatalf("unexpected fallback diagnostic: %+v", second)
	}
}

func TestAbsentDocumentPublishesNothing(t *testing.T) {
	ws := t.TempDir()
	writeTree(t, ws, map[string]string{"diag/foo.d": "1\t0\tboom"})
	server, out := newTestServer(t, "diag", ".d", ws)

	for _, p := range []string{
		filepath.Join(ws, "bar.c"),
		filepath.Join(ws, "diag", "foo.d"),
		filepath.Join(t.TempDir(), "foo.c"),
	} {
		uri := openDoc(t, server, p)
		server.validateDocument(canonicalURI(uri))
	}
	if got := publishes(t, drain(t, out)); len(got) != 0 {
		t.Fatalf("expected no publish, got %+v", got)
	}
}

func TestCloseClearsDiagnostics(t *testing.T) {
	ws := t.TempDir()
	server, out := newTestServer(t, "diag", ".d", ws)

	uri := openDoc(t, server, filepath.Join(ws, "foo.c"))
	notify(t, server, "textDocument/didClose", didCloseTextDocumentParams{
		TextDocument: textDocumentIdentifier{URI: uri},
	})

	msgs := drain(t, out)
	if len(msgs) != 1 || msgs[0].Method != "textDocument/publishDiagnostics" {
		t.Fatalf("expected a single publish, got %+v", msgs)
	}
	if !strings.Contains(string(msgs[0].Params), `"diagnostics":[]`) {
		t.Fatalf("close must publish an empty list: %s", msgs[0].Params)
	}

	server.validateDocument(canonicalURI(uri))
	if got := drain(t, out); len(got) != 0 {
		t.Fatalf("closed document must not be validated, got %+v", got)
	}
}

func TestDidChangePublishesLatestVersion(t *testing.T) {
	ws := t.TempDir()
	writeTree(t, ws, map[string]string{"diag/foo.d": "1\t0\tboom"})
	server, out := newTestServer(t, "diag", ".d", ws)
	uri := openDoc(t, server, filepath.Join(ws, "foo.c"))

	notify(t, server, "textDocument/didChange", didChangeTextDocumentParams{
		TextDocument:   versionedTextDocumentIdentifier{URI: uri, Version: 5},
		ContentChanges: []textDocumentContentChangeEvent{{Text: "y"}},
	})
	server.mu.Lock()
	state := server.openDocs[canonicalURI(uri)]
	server.mu.Unlock()
	if state.snapshotID != 2 {
		t.Fatalf("expected snapshot 2 after change, got %d", state.snapshotID)
	}

	server.validateDocument(canonicalURI(uri))
	got := publishes(t, drain(t, out))
	if len(got) != 1 || got[0].Version == nil || *got[0].Version != 5 {
		t.Fatalf("expected publish for version 5, got %+v", got)
	}
}

func TestInitializeAppliesOptionsAndFolders(t *testing.T) {
	ws := t.TempDir()
	writeTree(t, ws, map[string]string{"logs/foo.e": "3\t1\tfrom options"})
	server, out := newTestServer(t, "diag", ".d")

	request(t, server, 1, "initialize", map[string]any{
		"workspaceFolders":      []workspaceFolder{{URI: pathToURI(ws), Name: "ws"}},
		"initializationOptions": map[string]any{"lspbase": map[string]any{"path": map[string]any{"input": "logs", "ext": ".e"}}},
		"capabilities":          map[string]any{},
	})

	msgs := drain(t, out)
	if len(msgs) != 1 {
		t.Fatalf("expected initialize response, got %+v", msgs)
	}
	var result initializeResult
	if err := json.Unmarshal(msgs[0].Result, &result); err != nil {
		t.Fatalf("decode initialize result: %v", err)
	}
	syncOpts := result.Capabilities.TextDocumentSync
	if !syncOpts.OpenClose || syncOpts.Change != 2 {
		t.Fatalf("unexpected sync options: %+v", syncOpts)
	}
	if result.Capabilities.ExecuteCommandProvider == nil || len(result.Capabilities.ExecuteCommandProvider.Commands) != 1 ||
		result.Capabilities.ExecuteCommandProvider.Commands[0] != CommandReload {
		t.Fatalf("unexpected commands: %+v", result.Capabilities.ExecuteCommandProvider)
	}
	if !result.Capabilities.Workspace.WorkspaceFolders.Supported {
		t.Fatal("workspace folders should be supported")
	}
	if got := server.engine.Settings().InputPathPattern; got != "logs" {
		t.Fatalf("initializationOptions not applied: %q", got)
	}

	uri := openDoc(t, server, filepath.Join(ws, "foo.txt"))
	server.validateDocument(canonicalURI(uri))
	got := publishes(t, drain(t, out))
	if len(got) != 1 || len(got[0].Diagnostics) != 1 || got[0].Diagnostics[0].Message != "from options" {
		t.Fatalf("unexpected publish: %+v", got)
	}
}

func TestInitializeFallsBackToRootURI(t *testing.T) {
	ws := t.TempDir()
	server, out := newTestServer(t, "diag", ".d")
	request(t, server, 1, "initialize", map[string]any{"rootUri": pathToURI(ws)})
	drain(t, out)

	stats := server.engine.Workspaces()
	if len(stats) != 1 || stats[0].Root != filepath.Clean(ws) {
		t.Fatalf("unexpected workspaces: %+v", stats)
	}
}

func TestInitializedRequestsConfiguration(t *testing.T) {
	ws := t.TempDir()
	writeTree(t, ws, map[string]string{"other/foo.e": "1\t0\tpulled"})
	server, out := newTestServer(t, "diag", ".d")

	request(t, server, 1, "initialize", map[string]any{
		"workspaceFolders": []workspaceFolder{{URI: pathToURI(ws)}},
		"capabilities":     map[string]any{"workspace": map[string]any{"configuration": true}},
	})
	notify(t, server, "initialized", map[string]any{})

	msgs := drain(t, out)
	if _, ok := findRequest(msgs, "client/registerCapability"); !ok {
		t.Fatalf("expected registerCapability request, got %+v", msgs)
	}
	cfgReq, ok := findRequest(msgs, "workspace/configuration")
	if !ok {
		t.Fatalf("expected workspace/configuration request, got %+v", msgs)
	}
	var params configurationParams
	if err := json.Unmarshal(cfgReq.Params, &params); err != nil {
		t.Fatalf("decode configuration params: %v", err)
	}
	if len(params.Items) != 1 || params.Items[0].Section != "lspbase" {
		t.Fatalf("unexpected configuration items: %+v", params.Items)
	}

	server.handleResponse(&rpcMessage{
		ID:     cfgReq.ID,
		Result: json.RawMessage(`[{"path":{"input":"other","ext":".e"}}]`),
	})
	if got := server.engine.Settings(); got.InputPathPattern != "other" || got.RecordExtension != ".e" {
		t.Fatalf("configuration response not applied: %+v", got)
	}

	uri := openDoc(t, server, filepath.Join(ws, "foo.go"))
	server.validateDocument(canonicalURI(uri))
	got := publishes(t, drain(t, out))
	if len(got) != 1 || got[0].Diagnostics[0].Message != "pulled" {
		t.Fatalf("unexpected publish: %+v", got)
	}
}

func TestDidChangeConfigurationReloads(t *testing.T) {
	ws := t.TempDir()
	writeTree(t, ws, map[string]string{
		"diag/foo.d":  "1\t0\told",
		"other/foo.e": "1\t0\tnew",
	})
	server, out := newTestServer(t, "diag", ".d", ws)
	uri := openDoc(t, server, filepath.Join(ws, "foo.c"))

	notify(t, server, "workspace/didChangeConfiguration", map[string]any{
		"settings": map[string]any{"lspbase": map[string]any{"path": map[string]any{"input": "other", "ext": ".e"}}},
	})
	server.validateDocument(canonicalURI(uri))

	got := publishes(t, drain(t, out))
	if len(got) != 1 || len(got[0].Diagnostics) != 1 || got[0].Diagnostics[0].Message != "new" {
		t.Fatalf("unexpected publish: %+v", got)
	}
}

func TestDidChangeConfigurationWithoutPathKeepsSettings(t *testing.T) {
	ws := t.TempDir()
	server, _ := newTestServer(t, "diag", ".d", ws)
	before := server.engine.Settings()

	notify(t, server, "workspace/didChangeConfiguration", map[string]any{
		"settings": map[string]any{"lspbase": map[string]any{"record": map[string]any{"encoding": "utf-8"}}},
	})
	notify(t, server, "workspace/didChangeConfiguration", map[string]any{
		"settings": map[string]any{"lspbase": map[string]any{"path": map[string]any{"input": "(", "ext": ".d"}}},
	})
	if after := server.engine.Settings(); after != before {
		t.Fatalf("settings changed: %+v -> %+v", before, after)
	}
}

func TestDidChangeWorkspaceFolders(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()
	writeTree(t, b, map[string]string{"diag/foo.d": "1\t0\tfrom b"})
	server, out := newTestServer(t, "diag", ".d", a)

	notify(t, server, "workspace/didChangeWorkspaceFolders", didChangeWorkspaceFoldersParams{
		Event: workspaceFoldersChangeEvent{
			Added:   []workspaceFolder{{URI: pathToURI(b)}},
			Removed: []workspaceFolder{{URI: pathToURI(a)}},
		},
	})
	stats := server.engine.Workspaces()
	if len(stats) != 1 || stats[0].Root != filepath.Clean(b) {
		t.Fatalf("unexpected workspaces: %+v", stats)
	}

	uri := openDoc(t, server, filepath.Join(b, "foo.c"))
	server.validateDocument(canonicalURI(uri))
	got := publishes(t, drain(t, out))
	if len(got) != 1 || got[0].Diagnostics[0].Message != "from b" {
		t.Fatalf("unexpected publish: %+v", got)
	}
}

func TestExecuteReloadPicksUpNewRecords(t *testing.T) {
	ws := t.TempDir()
	writeTree(t, ws, map[string]string{"diag/foo.d": "1\t0\tfoo"})
	server, out := newTestServer(t, "diag", ".d", ws)
	writeTree(t, ws, map[string]string{"diag/bar.d": "1\t0\tbar"})

	uri := openDoc(t, server, filepath.Join(ws, "bar.c"))
	server.validateDocument(canonicalURI(uri))
	if got := publishes(t, drain(t, out)); len(got) != 0 {
		t.Fatalf("record created after discovery must be absent before reload: %+v", got)
	}

	request(t, server, 7, "workspace/executeCommand", executeCommandParams{Command: CommandReload})
	msgs := drain(t, out)
	if len(msgs) != 1 || string(msgs[0].ID) != "7" || msgs[0].Error != nil {
		t.Fatalf("unexpected executeCommand response: %+v", msgs)
	}

	server.validateDocument(canonicalURI(uri))
	got := publishes(t, drain(t, out))
	if len(got) != 1 || got[0].Diagnostics[0].Message != "bar" {
		t.Fatalf("unexpected publish after reload: %+v", got)
	}
}

func TestReloadInvalidatesValidationsFirst(t *testing.T) {
	server, _ := newTestServer(t, "diag", ".d", t.TempDir())
	before := server.epoch.Load()
	ran := false
	server.reload(func() {
		ran = true
		if server.epoch.Load() == before {
			t.Fatal("validations started before the reload must be stale while it runs")
		}
	})
	if !ran {
		t.Fatal("reload did not run its body")
	}
	if server.epoch.Load() <= before+1 {
		t.Fatalf("expected revalidation after the reload, epoch %d -> %d", before, server.epoch.Load())
	}
}

func TestErrorResponses(t *testing.T) {
	server, out := newTestServer(t, "diag", ".d")

	request(t, server, 1, "workspace/executeCommand", executeCommandParams{Command: "nope"})
	request(t, server, 2, "textDocument/hover", map[string]any{})
	notify(t, server, "$/cancelRequest", map[string]any{"id": 1})

	msgs := drain(t, out)
	if len(msgs) != 2 {
		t.Fatalf("expected two error responses, got %+v", msgs)
	}
	if msgs[0].Error == nil || msgs[0].Error.Code != codeInvalidParams {
		t.Fatalf("unexpected command error: %+v", msgs[0].Error)
	}
	if msgs[1].Error == nil || msgs[1].Error.Code != codeMethodNotFound {
		t.Fatalf("unexpected method error: %+v", msgs[1].Error)
	}
}

func TestExitWithoutShutdown(t *testing.T) {
	server, _ := newTestServer(t, "diag", ".d")
	if err := server.handleMessage(&rpcMessage{Method: "exit"}); !errors.Is(err, ErrExitWithoutShutdown) {
		t.Fatalf("expected ErrExitWithoutShutdown, got %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	ws := t.TempDir()
	var in bytes.Buffer
	for _, raw := range []string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"rootUri":"` + pathToURI(ws) + `"}}`,
		`not json`,
		`{"jsonrpc":"2.0","id":2,"method":"shutdown"}`,
		`{"jsonrpc":"2.0","method":"exit"}`,
	} {
		if err := writeMessage(&in, []byte(raw)); err != nil {
			t.Fatalf("write message: %v", err)
		}
	}
	var out bytes.Buffer
	server := NewServer(&in, &out, ServerOptions{Debounce: time.Hour, Log: io.Discard})

	if err := server.Run(context.Background()); !errors.Is(err, ErrExit) {
		t.Fatalf("expected ErrExit, got %v", err)
	}
	msgs := drain(t, &out)
	if len(msgs) != 2 || string(msgs[0].ID) != "1" || string(msgs[1].ID) != "2" {
		t.Fatalf("unexpected responses: %+v", msgs)
	}
}

func TestRunStopsAtEOF(t *testing.T) {
	var out bytes.Buffer
	server := NewServer(bytes.NewReader(nil), &out, ServerOptions{Log: io.Discard})
	if err := server.Run(context.Background()); err != nil {
		t.Fatalf("expected clean stop at EOF, got %v", err)
	}
}

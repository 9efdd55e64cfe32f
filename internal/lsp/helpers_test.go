package lsp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lspbase/internal/config"
	"lspbase/internal/engine"
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

// newTestServer returns a server whose debounce never fires, so tests drive
// validateDocument directly.
func newTestServer(t *testing.T, pattern, ext string, roots ...string) (*Server, *bytes.Buffer) {
	t.Helper()
	s := config.Default()
	s.InputPathPattern = pattern
	s.RecordExtension = ext
	s.Encoding = "utf-8"
	eng := engine.New(engine.Options{Settings: s})
	eng.SetWorkspaces(roots)
	var out bytes.Buffer
	server := NewServer(bytes.NewReader(nil), &out, ServerOptions{
		Debounce: time.Hour,
		Engine:   eng,
		Log:      io.Discard,
	})
	t.Cleanup(server.stopTimers)
	return server, &out
}

func notify(t *testing.T, server *Server, method string, params any) {
	t.Helper()
	payload, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal %s: %v", method, err)
	}
	if err := server.handleMessage(&rpcMessage{JSONRPC: "2.0", Method: method, Params: payload}); err != nil {
		t.Fatalf("%s: %v", method, err)
	}
}

func request(t *testing.T, server *Server, id int, method string, params any) {
	t.Helper()
	payload, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal %s: %v", method, err)
	}
	rawID, _ := json.Marshal(id)
	if err := server.handleMessage(&rpcMessage{JSONRPC: "2.0", ID: rawID, Method: method, Params: payload}); err != nil {
		t.Fatalf("%s: %v", method, err)
	}
}

func openDoc(t *testing.T, server *Server, path string) string {
	t.Helper()
	uri := pathToURI(path)
	notify(t, server, "textDocument/didOpen", didOpenTextDocumentParams{
		TextDocument: textDocumentItem{URI: uri, Version: 1, Text: "x"},
	})
	return uri
}

// drain decodes every framed message written so far and resets out.
func drain(t *testing.T, out *bytes.Buffer) []rpcMessage {
	t.Helper()
	reader := bufio.NewReader(bytes.NewReader(out.Bytes()))
	out.Reset()
	var msgs []rpcMessage
	for {
		payload, err := readMessage(reader)
		if errors.Is(err, io.EOF) {
			return msgs
		}
		if err != nil {
			t.Fatalf("read message: %v", err)
		}
		var msg rpcMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		msgs = append(msgs, msg)
	}
}

func publishes(t *testing.T, msgs []rpcMessage) []publishDiagnosticsParams {
	t.Helper()
	var out []publishDiagnosticsParams
	for _, msg := range msgs {
		if msg.Method != "textDocument/publishDiagnostics" {
			continue
		}
		var params publishDiagnosticsParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			t.Fatalf("decode publish: %v", err)
		}
		out = append(out, params)
	}
	return out
}

func findRequest(msgs []rpcMessage, method string) (rpcMessage, bool) {
	for _, msg := range msgs {
		if msg.Method == method && len(msg.ID) > 0 {
			return msg, true
		}
	}
	return rpcMessage{}, false
}

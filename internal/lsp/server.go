package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"lspbase/internal/engine"
	"lspbase/internal/trace"
	"lspbase/internal/version"
)

var (
	// ErrExit signals a graceful shutdown after receiving "exit".
	ErrExit = errors.New("lsp exit")
	// ErrExitWithoutShutdown signals an "exit" without a preceding "shutdown".
	ErrExitWithoutShutdown = errors.New("lsp exit without shutdown")
)

// CommandReload asks the server to rescan every workspace.
const CommandReload = "lspbase.reload"

// ServerOptions configures LSP server behavior.
type ServerOptions struct {
	// Debounce delays validation after open/change notifications.
	Debounce time.Duration
	// Engine answers validations. A default engine is created when nil.
	Engine *engine.Engine
	// Tracer is handed to the default engine.
	Tracer trace.Tracer
	// Log receives human-readable server logs. Defaults to stderr.
	Log io.Writer
}

type docState struct {
	uri        string // as sent by the client
	version    int
	snapshotID int64
}

type responseHandler func(result json.RawMessage, rpcErr *rpcError)

// Server handles stdio JSON-RPC for the record relay.
type Server struct {
	in     *bufio.Reader
	out    *bufio.Writer
	sendMu sync.Mutex
	log    io.Writer
	engine *engine.Engine

	mu                sync.Mutex
	openDocs          map[string]docState
	timers            map[string]*time.Timer
	pending           map[string]responseHandler
	shutdownRequested bool
	debounce          time.Duration
	baseCtx           context.Context
	canConfigure      bool
	canFolders        bool

	epoch    atomic.Uint64
	nextID   atomic.Int64
	inflight singleflight.Group
}

// NewServer constructs a new LSP server.
func NewServer(in io.Reader, out io.Writer, opts ServerOptions) *Server {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 150 * time.Millisecond
	}
	eng := opts.Engine
	if eng == nil {
		eng = engine.New(engine.Options{Tracer: opts.Tracer})
	}
	logw := opts.Log
	if logw == nil {
		logw = os.Stderr
	}
	return &Server{
		in:       bufio.NewReader(in),
		out:      bufio.NewWriter(out),
		log:      logw,
		engine:   eng,
		openDocs: make(map[string]docState),
		timers:   make(map[string]*time.Timer),
		pending:  make(map[string]responseHandler),
		debounce: debounce,
		baseCtx:  context.Background(),
	}
}

// Run serves LSP requests until exit or end of input.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
	defer s.stopTimers()
	for {
		payload, err := readMessage(s.in)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var msg rpcMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.logf("failed to parse message: %v", err)
			continue
		}
		if msg.Method == "" {
			if len(msg.ID) > 0 {
				s.handleResponse(&msg)
			}
			continue
		}
		if err := s.handleMessage(&msg); err != nil {
			return err
		}
	}
}

func (s *Server) handleMessage(msg *rpcMessage) error {
	switch msg.Method {
	case "initialize":
		return s.handleInitialize(msg)
	case "initialized":
		return s.handleInitialized()
	case "shutdown":
		return s.handleShutdown(msg)
	case "exit":
		if s.isShutdown() {
			return ErrExit
		}
		return ErrExitWithoutShutdown
	case "workspace/didChangeConfiguration":
		return s.handleDidChangeConfiguration(msg)
	case "workspace/didChangeWorkspaceFolders":
		return s.handleDidChangeWorkspaceFolders(msg)
	case "workspace/executeCommand":
		return s.handleExecuteCommand(msg)
	case "textDocument/didOpen":
		return s.handleDidOpen(msg)
	case "textDocument/didChange":
		return s.handleDidChange(msg)
	case "textDocument/didSave":
		return nil
	case "textDocument/didClose":
		return s.handleDidClose(msg)
	default:
		if len(msg.ID) > 0 {
			return s.sendError(msg.ID, codeMethodNotFound, "method not found")
		}
		return nil
	}
}

func (s *Server) handleInitialize(msg *rpcMessage) error {
	var params initializeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return s.sendError(msg.ID, codeInvalidParams, "invalid params")
		}
	}
	s.mu.Lock()
	if ws := params.Capabilities.Workspace; ws != nil {
		s.canConfigure = ws.Configuration
		s.canFolders = ws.WorkspaceFolders
	}
	s.mu.Unlock()

	if len(params.InitializationOptions) > 0 {
		s.engine.Reconfigure(params.InitializationOptions)
	}
	roots := initialRoots(params)
	s.engine.SetWorkspaces(roots)
	s.logf("initialized %d workspace folder(s)", len(roots))

	result := initializeResult{
		Capabilities: serverCapabilities{
			TextDocumentSync: textDocumentSyncOptions{
				OpenClose: true,
				Change:    2,
			},
			ExecuteCommandProvider: &executeCommandOptions{
				Commands: []string{CommandReload},
			},
			Workspace: workspaceServerCapabilities{
				WorkspaceFolders: workspaceFoldersServerCapabilities{
					Supported:           true,
					ChangeNotifications: true,
				},
			},
		},
		ServerInfo: serverInfo{Name: "lspbase", Version: version.Plain()},
	}
	return s.sendResponse(msg.ID, result)
}

func initialRoots(params initializeParams) []string {
	var roots []string
	for _, folder := range params.WorkspaceFolders {
		if p := uriToPath(folder.URI); p != "" {
			roots = append(roots, p)
		}
	}
	if len(roots) > 0 {
		return roots
	}
	if p := uriToPath(params.RootURI); p != "" {
		return []string{p}
	}
	if params.RootPath != "" {
		return []string{params.RootPath}
	}
	return nil
}

func (s *Server) handleInitialized() error {
	s.mu.Lock()
	canConfigure := s.canConfigure
	s.mu.Unlock()
	if canConfigure {
		if err := s.sendRequest("client/registerCapability", registrationParams{
			Registrations: []registration{{
				ID:     "lspbase-configuration",
				Method: "workspace/didChangeConfiguration",
			}},
		}, nil); err != nil {
			return err
		}
		if err := s.requestConfiguration(); err != nil {
			return err
		}
	}
	s.revalidateAll()
	return nil
}

func (s *Server) handleShutdown(msg *rpcMessage) error {
	s.mu.Lock()
	s.shutdownRequested = true
	s.mu.Unlock()
	s.stopTimers()
	return s.sendResponse(msg.ID, nil)
}

func (s *Server) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdownRequested
}

func (s *Server) handleDidChangeWorkspaceFolders(msg *rpcMessage) error {
	var params didChangeWorkspaceFoldersParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.logf("invalid didChangeWorkspaceFolders params: %v", err)
		return nil
	}
	added := make([]string, 0, len(params.Event.Added))
	for _, f := range params.Event.Added {
		if p := uriToPath(f.URI); p != "" {
			added = append(added, p)
		}
	}
	removed := make([]string, 0, len(params.Event.Removed))
	for _, f := range params.Event.Removed {
		if p := uriToPath(f.URI); p != "" {
			removed = append(removed, p)
		}
	}
	s.reload(func() {
		s.engine.ApplyWorkspaceChange(added, removed)
	})
	s.logf("workspace folders changed: +%d -%d", len(added), len(removed))
	return nil
}

func (s *Server) handleExecuteCommand(msg *rpcMessage) error {
	var params executeCommandParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return s.sendError(msg.ID, codeInvalidParams, "invalid params")
	}
	if params.Command != CommandReload {
		return s.sendError(msg.ID, codeInvalidParams, fmt.Sprintf("unknown command %q", params.Command))
	}
	s.reload(func() {
		s.engine.DropCaches()
		s.engine.ReloadAll()
	})
	return s.sendResponse(msg.ID, nil)
}

func (s *Server) handleDidOpen(msg *rpcMessage) error {
	var params didOpenTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	key := canonicalURI(params.TextDocument.URI)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	prev := s.openDocs[key]
	s.openDocs[key] = docState{
		uri:        params.TextDocument.URI,
		version:    params.TextDocument.Version,
		snapshotID: prev.snapshotID + 1,
	}
	s.mu.Unlock()
	s.scheduleValidation(key)
	return nil
}

func (s *Server) handleDidChange(msg *rpcMessage) error {
	var params didChangeTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	key := canonicalURI(params.TextDocument.URI)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	state, ok := s.openDocs[key]
	if !ok {
		state.uri = params.TextDocument.URI
	}
	state.version = params.TextDocument.Version
	state.snapshotID++
	s.openDocs[key] = state
	s.mu.Unlock()
	s.scheduleValidation(key)
	return nil
}

func (s *Server) handleDidClose(msg *rpcMessage) error {
	var params didCloseTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	key := canonicalURI(params.TextDocument.URI)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	delete(s.openDocs, key)
	if timer, ok := s.timers[key]; ok {
		timer.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()
	if err := s.sendPublish(params.TextDocument.URI, nil, nil); err != nil {
		s.logf("failed to clear diagnostics: %v", err)
	}
	return nil
}

func (s *Server) sendResponse(id json.RawMessage, result any) error {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	}
	return s.send(msg)
}

func (s *Server) sendError(id json.RawMessage, code int, message string) error {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": rpcError{
			Code:    code,
			Message: message,
		},
	}
	return s.send(msg)
}

// sendRequest issues a server-to-client request. handler, when set, runs on
// the read loop once the matching response arrives.
func (s *Server) sendRequest(method string, params any, handler responseHandler) error {
	id := json.RawMessage(strconv.FormatInt(s.nextID.Add(1), 10))
	if handler != nil {
		s.mu.Lock()
		s.pending[string(id)] = handler
		s.mu.Unlock()
	}
	return s.send(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	})
}

func (s *Server) handleResponse(msg *rpcMessage) {
	s.mu.Lock()
	handler, ok := s.pending[string(msg.ID)]
	delete(s.pending, string(msg.ID))
	s.mu.Unlock()
	if !ok {
		return
	}
	handler(msg.Result, msg.Error)
}

func (s *Server) sendPublish(uri string, version *int, list []lspDiagnostic) error {
	if list == nil {
		list = []lspDiagnostic{}
	}
	msg := map[string]any{
		"jsonrpc": "2.0",
		"method":  "textDocument/publishDiagnostics",
		"params": publishDiagnosticsParams{
			URI:         uri,
			Version:     version,
			Diagnostics: list,
		},
	}
	return s.send(msg)
}

func (s *Server) send(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := writeMessage(s.out, payload); err != nil {
		return err
	}
	return s.out.Flush()
}

func (s *Server) logf(format string, args ...any) {
	fmt.Fprintf(s.log, "lsp: "+format+"\n", args...)
}

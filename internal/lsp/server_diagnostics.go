package lsp

import (
	"strconv"
	"time"

	"lspbase/internal/record"
)

type validation struct {
	diags []record.Diagnostic
	ok    bool
}

func (s *Server) scheduleValidation(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdownRequested {
		return
	}
	if timer, ok := s.timers[key]; ok {
		timer.Stop()
	}
	s.timers[key] = time.AfterFunc(s.debounce, func() {
		s.validateDocument(key)
	})
}

// reload runs fn with every in-flight validation already invalidated, so a
// validation racing fn cannot publish records fn is replacing. Open
// documents are revalidated once fn returns.
func (s *Server) reload(fn func()) {
	s.epoch.Add(1)
	fn()
	s.revalidateAll()
}

// revalidateAll invalidates every in-flight validation and schedules a new
// one for each open document.
func (s *Server) revalidateAll() {
	s.epoch.Add(1)
	s.mu.Lock()
	keys := make([]string, 0, len(s.openDocs))
	for key := range s.openDocs {
		keys = append(keys, key)
	}
	s.mu.Unlock()
	for _, key := range keys {
		s.scheduleValidation(key)
	}
}

func (s *Server) stopTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
	}
}

func (s *Server) validateDocument(key string) {
	s.mu.Lock()
	state, open := s.openDocs[key]
	ctx := s.baseCtx
	s.mu.Unlock()
	if !open {
		return
	}
	path := uriToPath(key)
	if path == "" {
		return
	}

	epoch := s.epoch.Load()
	flight := key + "@" + strconv.FormatUint(epoch, 10)
	v, err, _ := s.inflight.Do(flight, func() (any, error) {
		diags, ok, err := s.engine.Validate(ctx, path)
		return validation{diags: diags, ok: ok}, err
	})
	if err != nil {
		s.logf("validate %s: %v", path, err)
	}
	res, _ := v.(validation)
	if !res.ok || ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	current, open := s.openDocs[key]
	if !open || current.snapshotID != state.snapshotID || s.epoch.Load() != epoch {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	version := state.version
	if err := s.sendPublish(state.uri, &version, toLSPDiagnostics(res.diags)); err != nil {
		s.logf("failed to publish diagnostics: %v", err)
	}
}

func toLSPDiagnostics(diags []record.Diagnostic) []lspDiagnostic {
	out := make([]lspDiagnostic, 0, len(diags))
	for _, d := range diags {
		out = append(out, lspDiagnostic{
			Range: lspRange{
				Start: position{Line: d.Range.Start.Line, Character: d.Range.Start.Column},
				End:   position{Line: d.Range.End.Line, Character: d.Range.End.Column},
			},
			Severity: int(d.Severity),
			Source:   d.Source,
			Message:  d.Message,
		})
	}
	return out
}

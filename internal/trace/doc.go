// Package trace provides the observer sink used by the lspbase engine.
//
// The engine, the workspace indexes and the record loaders report what they
// do through a Tracer: discovery passes, record enumeration, reloads,
// validations, skipped subtrees and failed loads. Tracing is off by default
// and costs a single interface call per event when disabled.
//
// # Usage
//
//	lspbase lsp --trace=lsp.ndjson --trace-level=detail
//
// # Tracers
//
//   - Nop: default, drops everything
//   - StreamTracer: writes each event to an io.Writer (text or NDJSON)
//   - RingTracer: keeps the last N events in memory
//   - MultiTracer: fans out to several tracers
//
// # Levels and scopes
//
// Events carry a Scope (engine, workspace, record). The Level decides which
// scopes are emitted: LevelPhase keeps engine events, LevelDetail adds
// workspace events, LevelDebug adds per-record events. LevelError emits only
// events of KindError.
//
// # Context propagation
//
//	ctx = trace.WithTracer(ctx, tracer)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopeWorkspace, "discover", 0)
//	defer span.End("")
package trace

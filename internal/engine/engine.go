// Package engine routes workspace folder changes, configuration changes and
// document validations to per-folder workspace indexes.
package engine

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strconv"
	"sync"

	"lspbase/internal/config"
	"lspbase/internal/record"
	"lspbase/internal/trace"
	"lspbase/internal/workspace"
)

// Options configures an Engine.
type Options struct {
	// Settings seeds the discovery settings. Zero value means config.Default().
	Settings config.Settings
	// Tracer observes engine activity. Defaults to trace.Nop.
	Tracer trace.Tracer
	// Cache overrides the record cache selected by Settings.CacheDir.
	Cache record.Cache
	// Context bounds the lifetime of background record loads.
	Context context.Context
}

// Engine owns one workspace.Index per open workspace folder.
// Indexes are kept in the order they were added; Validate asks them in
// that order and the first candidate wins.
type Engine struct {
	ctx    context.Context
	tracer trace.Tracer

	mu       sync.Mutex
	settings config.Settings
	indexes  []*workspace.Index
	cache    record.Cache
	caches   map[string]record.Cache
}

// New creates an Engine with no workspace folders.
func New(opts Options) *Engine {
	settings := opts.Settings
	if settings == (config.Settings{}) {
		settings = config.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = trace.Nop
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return &Engine{
		ctx:      ctx,
		tracer:   tracer,
		settings: settings,
		cache:    opts.Cache,
		caches:   make(map[string]record.Cache),
	}
}

// Settings returns the current settings snapshot.
func (e *Engine) Settings() config.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

func (e *Engine) loaderFor(s config.Settings) *record.Loader {
	return record.NewLoader(e.ctx, record.LoaderOptions{
		MaxConcurrent: s.MaxConcurrentLoads,
		Encoding:      s.Encoding,
		Cache:         e.cacheFor(s.CacheDir),
		Tracer:        e.tracer,
	})
}

func (e *Engine) cacheFor(dir string) record.Cache {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cache != nil || dir == "" {
		return e.cache
	}
	if c, ok := e.caches[dir]; ok {
		return c
	}
	disk, err := record.OpenDiskCache(dir)
	if err != nil {
		trace.Error(e.tracer, trace.ScopeEngine, "open cache", err)
		e.caches[dir] = nil
		return nil
	}
	e.caches[dir] = disk
	return disk
}

func (e *Engine) newIndex(root string) *workspace.Index {
	return workspace.New(root, workspace.Options{
		Settings: e.Settings,
		Loader:   e.loaderFor,
		Tracer:   e.tracer,
	})
}

// SetWorkspaces replaces every workspace folder with roots.
func (e *Engine) SetWorkspaces(roots []string) {
	e.mu.Lock()
	current := make([]string, 0, len(e.indexes))
	for _, idx := range e.indexes {
		current = append(current, idx.Root())
	}
	e.mu.Unlock()
	e.ApplyWorkspaceChange(roots, current)
}

// ApplyWorkspaceChange drops the indexes of removed folders and builds a
// fresh index, with discovery, for each added folder. Adding a folder that
// is already open replaces its index.
func (e *Engine) ApplyWorkspaceChange(added, removed []string) {
	span := trace.Begin(e.tracer, trace.ScopeEngine, "workspace change", 0)
	span.WithExtra("added", strconv.Itoa(len(added))).
		WithExtra("removed", strconv.Itoa(len(removed)))
	defer span.End("")

	e.mu.Lock()
	for _, root := range removed {
		e.removeLocked(canonicalRoot(root))
	}
	e.mu.Unlock()

	for _, root := range added {
		root = canonicalRoot(root)
		if root == "" {
			continue
		}
		idx := e.newIndex(root)
		e.mu.Lock()
		e.removeLocked(root)
		e.indexes = append(e.indexes, idx)
		e.mu.Unlock()
	}
}

func (e *Engine) removeLocked(root string) {
	kept := e.indexes[:0]
	for _, idx := range e.indexes {
		if idx.Root() != root {
			kept = append(kept, idx)
		}
	}
	for i := len(kept); i < len(e.indexes); i++ {
		e.indexes[i] = nil
	}
	e.indexes = kept
}

// Workspaces returns a snapshot of every index in routing order.
func (e *Engine) Workspaces() []workspace.Stats {
	out := make([]workspace.Stats, 0)
	for _, idx := range e.snapshot() {
		out = append(out, idx.Stats())
	}
	return out
}

func (e *Engine) snapshot() []*workspace.Index {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*workspace.Index(nil), e.indexes...)
}

// ReloadAll rediscovers every workspace.
func (e *Engine) ReloadAll() {
	span := trace.Begin(e.tracer, trace.ScopeEngine, "reload all", 0)
	indexes := e.snapshot()
	for _, idx := range indexes {
		idx.Reload()
	}
	span.WithExtra("workspaces", strconv.Itoa(len(indexes))).End("")
}

// DropCaches empties every on-disk record cache the engine has opened, so
// the next reload parses each record file again.
func (e *Engine) DropCaches() {
	e.mu.Lock()
	caches := make([]record.Cache, 0, len(e.caches)+1)
	if e.cache != nil {
		caches = append(caches, e.cache)
	}
	for _, c := range e.caches {
		if c != nil {
			caches = append(caches, c)
		}
	}
	e.mu.Unlock()

	for _, c := range caches {
		dropper, ok := c.(interface{ DropAll() error })
		if !ok {
			continue
		}
		if err := dropper.DropAll(); err != nil {
			trace.Error(e.tracer, trace.ScopeEngine, "drop cache", err)
		}
	}
}

// Reconfigure applies host settings and reloads every workspace. Settings
// without the expected branch, or that fail validation, leave the engine
// untouched, skip the reload and return false.
func (e *Engine) Reconfigure(raw json.RawMessage) bool {
	e.mu.Lock()
	next, ok := e.settings.Apply(raw)
	if !ok {
		e.mu.Unlock()
		trace.Point(e.tracer, trace.ScopeEngine, "settings missing", "")
		return false
	}
	if err := next.Validate(); err != nil {
		e.mu.Unlock()
		trace.Error(e.tracer, trace.ScopeEngine, "ignore settings", err)
		return false
	}
	e.settings = next
	e.mu.Unlock()

	trace.Point(e.tracer, trace.ScopeEngine, "settings applied",
		next.InputPathPattern+" "+next.RecordExtension+" "+next.Encoding)
	e.ReloadAll()
	return true
}

// Validate resolves the diagnostics of the document at path. ok is false
// when no workspace claims the document or no record file maps to it.
func (e *Engine) Validate(ctx context.Context, path string) (diags []record.Diagnostic, ok bool, err error) {
	span := trace.Begin(e.tracer, trace.ScopeEngine, "validate", 0)
	defer func() {
		detail := "absent"
		if ok {
			detail = strconv.Itoa(len(diags))
		}
		if err != nil {
			trace.Error(e.tracer, trace.ScopeEngine, "validate", err)
		}
		span.End(detail)
	}()

	for _, idx := range e.snapshot() {
		if idx.IsCandidate(path) {
			return idx.Resolve(ctx, path)
		}
	}
	return nil, false, nil
}

func canonicalRoot(p string) string {
	if p == "" {
		return ""
	}
	candidate := filepath.FromSlash(p)
	if abs, err := filepath.Abs(candidate); err == nil {
		candidate = abs
	}
	return filepath.Clean(candidate)
}

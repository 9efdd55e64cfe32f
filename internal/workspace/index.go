// Package workspace maps the source tree of one workspace folder onto the
// record files stored in its input directories.
package workspace

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"lspbase/internal/config"
	"lspbase/internal/record"
	"lspbase/internal/trace"
)

// Options wires an Index to its owner.
type Options struct {
	// Settings returns the current discovery settings.
	Settings func() config.Settings
	// Loader builds the record loader for one discovery pass.
	Loader func(config.Settings) *record.Loader
	// Tracer receives discovery events. Defaults to trace.Nop.
	Tracer trace.Tracer
}

// Index is the record view of one workspace folder.
// All state is guarded by mu; Resolve releases it before waiting on loads.
type Index struct {
	root      string
	settings  func() config.Settings
	newLoader func(config.Settings) *record.Loader
	tracer    trace.Tracer

	mu           sync.Mutex
	inputDirs    []string
	inputEnabled bool
	files        map[string]*record.File
}

// Stats summarizes an index.
type Stats struct {
	Root      string
	InputDirs []string
	Enabled   bool
	Keys      int
}

// New creates the index for root and runs discovery immediately.
func New(root string, opts Options) *Index {
	if opts.Settings == nil {
		opts.Settings = config.Default
	}
	if opts.Loader == nil {
		opts.Loader = func(s config.Settings) *record.Loader {
			return record.NewLoader(context.Background(), record.LoaderOptions{
				MaxConcurrent: s.MaxConcurrentLoads,
				Encoding:      s.Encoding,
			})
		}
	}
	if opts.Tracer == nil {
		opts.Tracer = trace.Nop
	}
	idx := &Index{
		root:      canonicalRoot(root),
		settings:  opts.Settings,
		newLoader: opts.Loader,
		tracer:    opts.Tracer,
		files:     make(map[string]*record.File),
	}
	idx.mu.Lock()
	idx.discoverLocked()
	idx.mu.Unlock()
	return idx
}

// Root returns the absolute workspace folder path.
func (idx *Index) Root() string {
	return idx.root
}

// InputDirs returns the accepted input directories in discovery order.
func (idx *Index) InputDirs() []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return append([]string(nil), idx.inputDirs...)
}

// Enabled reports whether at least one input directory was found.
func (idx *Index) Enabled() bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.inputEnabled
}

// Keys returns every known record key, sorted.
func (idx *Index) Keys() []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	keys := make([]string, 0, len(idx.files))
	for k := range idx.files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Stats returns a snapshot of the index state.
func (idx *Index) Stats() Stats {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return Stats{
		Root:      idx.root,
		InputDirs: append([]string(nil), idx.inputDirs...),
		Enabled:   idx.inputEnabled,
		Keys:      len(idx.files),
	}
}

// IsCandidate reports whether p lies inside the workspace root and outside
// every input directory.
func (idx *Index) IsCandidate(p string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.isCandidateLocked(canonicalRoot(p))
}

func (idx *Index) isCandidateLocked(p string) bool {
	if !pathWithinRoot(idx.root, p) {
		return false
	}
	for _, dir := range idx.inputDirs {
		if pathWithinRoot(dir, p) {
			return false
		}
	}
	return true
}

// Resolve returns the diagnostics recorded for the document at p.
// ok is false when no record file maps to p ("no diagnostics"), which is
// the normal answer for most source files. A failed load of a matching
// record file is returned as err together with whatever did load.
func (idx *Index) Resolve(ctx context.Context, p string) (diags []record.Diagnostic, ok bool, err error) {
	p = canonicalRoot(p)
	idx.mu.Lock()
	if !idx.isCandidateLocked(p) {
		idx.mu.Unlock()
		return nil, false, nil
	}
	rel, err := filepath.Rel(idx.root, p)
	if err != nil {
		idx.mu.Unlock()
		return nil, false, nil
	}
	file := idx.files[SourceKey(rel)]
	idx.mu.Unlock()

	if file == nil {
		return nil, false, nil
	}
	diags, err = file.Diagnostics(ctx)
	if err != nil {
		return diags, true, fmt.Errorf("%s: %w", file.Key(), err)
	}
	return diags, true, nil
}

// Reload drops every record file and rediscovers the workspace from scratch.
func (idx *Index) Reload() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	span := trace.Begin(idx.tracer, trace.ScopeWorkspace, "reload", 0)
	for _, f := range idx.files {
		f.Clear()
	}
	dropped := len(idx.files)
	idx.files = make(map[string]*record.File)
	idx.inputDirs = nil
	idx.inputEnabled = false
	idx.discoverLocked()
	span.WithExtra("dropped", strconv.Itoa(dropped)).
		WithExtra("keys", strconv.Itoa(len(idx.files))).
		End(idx.root)
}

// SourceKey derives the join key of a root-relative source path: the
// slash-separated path with its last extension removed. A dotfile such as
// ".env" has no extension.
func SourceKey(rel string) string {
	slashed := filepath.ToSlash(filepath.Clean(rel))
	ext := path.Ext(slashed)
	if ext == path.Base(slashed) {
		return slashed
	}
	return strings.TrimSuffix(slashed, ext)
}

// RecordKey derives the join key of a record file found in relDir (relative
// to its input directory) under name.
func RecordKey(relDir, name, ext string) string {
	return path.Join(filepath.ToSlash(relDir), strings.TrimSuffix(name, ext))
}

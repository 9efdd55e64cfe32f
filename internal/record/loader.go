package record

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sync/semaphore"

	"lspbase/internal/trace"
)

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	// MaxConcurrent bounds simultaneous reads; <= 0 means GOMAXPROCS.
	MaxConcurrent int
	// Encoding names the record file encoding; empty means DefaultEncoding.
	Encoding string
	// Cache stores parsed records between reloads. Optional.
	Cache Cache
	// Tracer receives per-file load events. Defaults to trace.Nop.
	Tracer trace.Tracer
}

// Loader reads and parses record files on background goroutines.
// One Loader is shared by every File of a workspace index.
type Loader struct {
	ctx      context.Context
	sem      *semaphore.Weighted
	encoding string
	cache    Cache
	tracer   trace.Tracer
}

// NewLoader creates a Loader. Loads still pending when ctx is canceled fail
// with the context error.
func NewLoader(ctx context.Context, opts LoaderOptions) *Loader {
	if ctx == nil {
		ctx = context.Background()
	}
	limit := opts.MaxConcurrent
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = trace.Nop
	}
	return &Loader{
		ctx:      ctx,
		sem:      semaphore.NewWeighted(int64(limit)),
		encoding: opts.Encoding,
		cache:    opts.Cache,
		tracer:   tracer,
	}
}

// Encoding returns the encoding name the loader decodes with.
func (l *Loader) Encoding() string {
	if l.encoding == "" {
		return DefaultEncoding
	}
	return l.encoding
}

func (l *Loader) start(fn func(ctx context.Context) error, fail func(error)) {
	go func() {
		if err := l.sem.Acquire(l.ctx, 1); err != nil {
			fail(err)
			return
		}
		defer l.sem.Release(1)
		if err := fn(l.ctx); err != nil {
			fail(err)
		}
	}()
}

// Read loads and parses one record file synchronously.
func (l *Loader) Read(path string) ([]Record, error) {
	span := trace.Begin(l.tracer, trace.ScopeRecord, "load", 0)
	span.WithExtra("path", path)

	info, err := os.Stat(path)
	if err != nil {
		span.End("stat failed")
		return nil, err
	}
	var key CacheKey
	if l.cache != nil {
		key = CacheKey{
			Path:     path,
			Size:     info.Size(),
			ModTime:  info.ModTime().UnixNano(),
			Encoding: l.Encoding(),
		}
		if records, ok := l.cache.Get(key); ok {
			span.End(fmt.Sprintf("cached records=%d", len(records)))
			return records, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		span.End("read failed")
		return nil, err
	}
	text, err := Decode(data, l.encoding)
	if err != nil {
		span.End("decode failed")
		return nil, err
	}
	records := Parse(text)

	if l.cache != nil {
		if err := l.cache.Put(key, records); err != nil {
			trace.Error(l.tracer, trace.ScopeRecord, "cache put", err)
		}
	}
	span.End(fmt.Sprintf("records=%d", len(records)))
	return records, nil
}

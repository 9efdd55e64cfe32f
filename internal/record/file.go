package record

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

type loadOp struct {
	path    string
	done    chan struct{}
	records []Record
	err     error
}

// File is the set of records contributed to one key by one or more
// on-disk record files.
type File struct {
	key string

	mu  sync.Mutex
	gen uint64
	ops []*loadOp
}

// NewFile creates an empty File for key.
func NewFile(key string) *File {
	return &File{key: key}
}

// Key returns the relative path, without extension, this File annotates.
func (f *File) Key() string {
	return f.key
}

// Load starts reading path in the background and appends its records to f
// once done. Several loads accumulate in the order they were started.
func (f *File) Load(l *Loader, path string) {
	f.mu.Lock()
	op := &loadOp{path: path, done: make(chan struct{})}
	f.ops = append(f.ops, op)
	f.mu.Unlock()

	l.start(func(context.Context) error {
		records, err := l.Read(path)
		if err != nil {
			return err
		}
		op.records = records
		close(op.done)
		return nil
	}, func(err error) {
		op.err = fmt.Errorf("load %s: %w", path, err)
		close(op.done)
	})
}

// Clear drops every record and starts a new generation. Loads already in
// flight finish into the previous generation and are never observed.
func (f *File) Clear() {
	f.mu.Lock()
	f.gen++
	f.ops = nil
	f.mu.Unlock()
}

// generation returns the current load generation.
func (f *File) generation() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen
}

// paths returns the record files loaded into the current generation.
func (f *File) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.ops))
	for _, op := range f.ops {
		out = append(out, op.path)
	}
	return out
}

// Records waits for every load of the current generation and returns their
// records concatenated in load order. Failed loads are reported in the
// joined error; records of the loads that succeeded are still returned.
func (f *File) Records(ctx context.Context) ([]Record, error) {
	for {
		f.mu.Lock()
		gen := f.gen
		ops := append([]*loadOp(nil), f.ops...)
		f.mu.Unlock()

		for _, op := range ops {
			select {
			case <-op.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		f.mu.Lock()
		stale := f.gen != gen
		f.mu.Unlock()
		if stale {
			continue
		}

		var (
			out  []Record
			errs []error
		)
		for _, op := range ops {
			if op.err != nil {
				errs = append(errs, op.err)
				continue
			}
			out = append(out, op.records...)
		}
		return out, errors.Join(errs...)
	}
}

// Diagnostics waits for pending loads and returns the records as warnings.
func (f *File) Diagnostics(ctx context.Context) ([]Diagnostic, error) {
	records, err := f.Records(ctx)
	out := make([]Diagnostic, 0, len(records))
	for _, r := range records {
		out = append(out, r.Diagnostic())
	}
	return out, err
}

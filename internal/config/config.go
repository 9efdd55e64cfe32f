// Package config holds the settings that parameterize record discovery.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// Section is the settings namespace read from the host.
const Section = "lspbase"

// Settings is an immutable snapshot of the discovery configuration.
// Reconfiguration replaces the whole value.
type Settings struct {
	// InputPathPattern is a workspace-relative pattern identifying the
	// directory that holds record files.
	InputPathPattern string
	// RecordExtension identifies record files, including the leading dot.
	RecordExtension string
	// Encoding names the character encoding of record files.
	Encoding string
	// MaxConcurrentLoads bounds simultaneous record file reads.
	MaxConcurrentLoads int
	// CacheDir enables the parsed-record disk cache when non-empty.
	CacheDir string
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		InputPathPattern:   "input",
		RecordExtension:    ".txt",
		Encoding:           "shift_jis",
		MaxConcurrentLoads: runtime.GOMAXPROCS(0),
	}
}

// Validate reports whether s can drive discovery.
func (s Settings) Validate() error {
	var errs []error
	if strings.TrimSpace(s.InputPathPattern) == "" {
		errs = append(errs, errors.New("input path pattern is empty"))
	} else if _, err := regexp.Compile(s.InputPathPattern); err != nil {
		errs = append(errs, fmt.Errorf("input path pattern: %w", err))
	}
	if !strings.HasPrefix(s.RecordExtension, ".") || len(s.RecordExtension) < 2 {
		errs = append(errs, fmt.Errorf("record extension %q must start with a dot", s.RecordExtension))
	}
	if _, err := htmlindex.Get(s.Encoding); err != nil {
		errs = append(errs, fmt.Errorf("record encoding %q: %w", s.Encoding, err))
	}
	if s.MaxConcurrentLoads < 0 {
		errs = append(errs, fmt.Errorf("max concurrent loads %d is negative", s.MaxConcurrentLoads))
	}
	return errors.Join(errs...)
}

type hostSettings struct {
	LSPBase *sectionSettings `json:"lspbase"`
}

type sectionSettings struct {
	Path   *pathSettings   `json:"path"`
	Record *recordSettings `json:"record"`
}

type pathSettings struct {
	Input *string `json:"input"`
	Ext   *string `json:"ext"`
}

type recordSettings struct {
	Encoding *string `json:"encoding"`
}

// Apply returns s updated from a host settings object shaped like
//
//	{"lspbase": {"path": {"input": "...", "ext": "..."}, "record": {"encoding": "..."}}}
//
// The bare section (without the "lspbase" wrapper) is accepted too, which is
// what workspace/configuration returns for a scoped request. ok reports
// whether raw carried a well-formed path branch. When the branch or either of
// its strings is missing, s is returned unchanged with ok == false: a missing
// branch means "no change", not an error.
func (s Settings) Apply(raw json.RawMessage) (next Settings, ok bool) {
	section, ok := decodeSection(raw)
	if !ok || section.Path == nil || section.Path.Input == nil || section.Path.Ext == nil {
		return s, false
	}
	next = s
	next.InputPathPattern = *section.Path.Input
	next.RecordExtension = *section.Path.Ext
	if section.Record != nil && section.Record.Encoding != nil && *section.Record.Encoding != "" {
		next.Encoding = *section.Record.Encoding
	}
	return next, true
}

func decodeSection(raw json.RawMessage) (*sectionSettings, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	// workspace/configuration answers with an array, one entry per item.
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, item := range list {
			if section, ok := decodeSection(item); ok {
				return section, true
			}
		}
		return nil, false
	}
	var wrapped hostSettings
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, false
	}
	if wrapped.LSPBase != nil {
		return wrapped.LSPBase, true
	}
	var bare sectionSettings
	if err := json.Unmarshal(raw, &bare); err != nil || bare.Path == nil {
		return nil, false
	}
	return &bare, true
}

// HasSection reports whether raw carries an lspbase settings branch at all.
func HasSection(raw json.RawMessage) bool {
	_, ok := decodeSection(raw)
	return ok
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the defaults file looked up from the working directory upwards.
const FileName = "lspbase.toml"

type fileConfig struct {
	Path   filePath   `toml:"path"`
	Record fileRecord `toml:"record"`
	Loader fileLoader `toml:"loader"`
}

type filePath struct {
	Input string `toml:"input"`
	Ext   string `toml:"ext"`
}

type fileRecord struct {
	Encoding string `toml:"encoding"`
}

type fileLoader struct {
	MaxConcurrent int    `toml:"max_concurrent"`
	CacheDir      string `toml:"cache_dir"`
}

// FindFile walks from startDir up to the filesystem root looking for FileName.
func FindFile(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// LoadFile overlays the values defined in a TOML file onto base.
// Keys absent from the file keep their base values.
func LoadFile(path string, base Settings) (Settings, error) {
	var cfg fileConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return base, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return base, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	out := base
	if meta.IsDefined("path", "input") {
		out.InputPathPattern = cfg.Path.Input
	}
	if meta.IsDefined("path", "ext") {
		out.RecordExtension = cfg.Path.Ext
	}
	if meta.IsDefined("record", "encoding") {
		out.Encoding = cfg.Record.Encoding
	}
	if meta.IsDefined("loader", "max_concurrent") {
		out.MaxConcurrentLoads = cfg.Loader.MaxConcurrent
	}
	if meta.IsDefined("loader", "cache_dir") {
		dir := cfg.Loader.CacheDir
		if dir != "" && !filepath.IsAbs(dir) {
			dir = filepath.Join(filepath.Dir(path), dir)
		}
		out.CacheDir = dir
	}
	if err := out.Validate(); err != nil {
		return base, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lspbase/internal/config"
)

func configFileName() string {
	return config.FileName
}

// resolveSettings layers the built-in defaults, the settings file and the
// command-line flags, in that order.
func resolveSettings(cmd *cobra.Command, startDir string) (config.Settings, error) {
	flags := cmd.Root().PersistentFlags()
	settings := config.Default()

	path, err := flags.GetString("config")
	if err != nil {
		return settings, err
	}
	if path == "" {
		found, ok, err := config.FindFile(startDir)
		if err != nil {
			return settings, err
		}
		if ok {
			path = found
		}
	} else if _, err := os.Stat(path); err != nil {
		return settings, fmt.Errorf("config file: %w", err)
	}
	if path != "" {
		settings, err = config.LoadFile(path, settings)
		if err != nil {
			return settings, err
		}
	}

	for name, dst := range map[string]*string{
		"input":    &settings.InputPathPattern,
		"ext":      &settings.RecordExtension,
		"encoding": &settings.Encoding,
		"cache":    &settings.CacheDir,
	} {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetString(name)
		if err != nil {
			return settings, err
		}
		*dst = v
	}
	if flags.Changed("max-loads") {
		n, err := flags.GetInt("max-loads")
		if err != nil {
			return settings, err
		}
		settings.MaxConcurrentLoads = n
	}
	if err := settings.Validate(); err != nil {
		return settings, fmt.Errorf("invalid settings: %w", err)
	}
	return settings, nil
}

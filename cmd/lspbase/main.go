package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"lspbase/internal/version"
)

// errLoadFailed marks a check run that printed load failures; main exits 1
// without repeating them.
var errLoadFailed = errors.New("record loads failed")

var rootCmd = &cobra.Command{
	Use:   "lspbase",
	Short: "Relay precomputed diagnostic records to editors",
	Long: `lspbase discovers record files under a workspace input directory and
publishes them as diagnostics for the matching source documents.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = version.Plain()

	rootCmd.AddCommand(lspCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "settings file (default: nearest "+configFileName()+")")
	flags.String("input", "", "input directory pattern, relative to the workspace")
	flags.String("ext", "", "record file extension, including the dot")
	flags.String("encoding", "", "record file encoding")
	flags.String("cache", "", "parsed record cache directory")
	flags.Int("max-loads", 0, "maximum concurrent record reads (0 = default)")
	flags.String("color", "auto", "colorize output (auto|on|off)")
	flags.String("trace", "", "trace output file (- for stderr)")
	flags.String("trace-level", "off", "trace level (off|error|phase|detail|debug)")
	flags.String("trace-mode", "stream", "trace storage (stream|ring|both)")
	flags.String("trace-format", "auto", "trace format (auto|text|ndjson)")
	flags.Int("trace-ring-size", 4096, "ring buffer capacity for --trace-mode ring|both")
	flags.String("cpu-profile", "", "write a CPU profile to file")
	flags.String("mem-profile", "", "write a heap profile to file on exit")
	flags.String("runtime-trace", "", "write a Go runtime trace to file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errLoadFailed) {
			rootCmd.PrintErrln("Error:", err)
		}
		os.Exit(1)
	}
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

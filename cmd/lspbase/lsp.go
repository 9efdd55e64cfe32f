package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"lspbase/internal/engine"
	"lspbase/internal/lsp"
	"lspbase/internal/trace"
)

var lspDebounce time.Duration

func init() {
	lspCmd.Flags().DurationVar(&lspDebounce, "debounce", 150*time.Millisecond, "delay before validating a changed document")
}

var lspCmd = &cobra.Command{
	Use:   "lsp",
	Short: "Run the language server over stdio",
	Args:  cobra.NoArgs,
	RunE:  runLSP,
}

func runLSP(cmd *cobra.Command, _ []string) error {
	stopProfiling, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	defer stopProfiling()

	cleanup, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	settings, err := resolveSettings(cmd, ".")
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	tracer := trace.FromContext(ctx)
	eng := engine.New(engine.Options{
		Settings: settings,
		Tracer:   tracer,
		Context:  ctx,
	})

	server := lsp.NewServer(os.Stdin, os.Stdout, lsp.ServerOptions{
		Debounce: lspDebounce,
		Engine:   eng,
		Log:      cmd.ErrOrStderr(),
	})
	if err := server.Run(ctx); err != nil {
		if errors.Is(err, lsp.ErrExit) {
			return nil
		}
		if errors.Is(err, lsp.ErrExitWithoutShutdown) {
			return fmt.Errorf("lsp exit without shutdown")
		}
		return err
	}
	return nil
}

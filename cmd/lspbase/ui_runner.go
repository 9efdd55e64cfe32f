package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"lspbase/internal/engine"
	"lspbase/internal/ui"
)

// resolveWithUI runs resolveFiles while a progress view follows it.
func resolveWithUI(ctx context.Context, eng *engine.Engine, files []string, limit int) ([]checkResult, error) {
	events := make(chan ui.Event, 256)
	resultsCh := make(chan []checkResult, 1)

	go func() {
		resultsCh <- resolveFiles(ctx, eng, files, limit, func(ev ui.Event) { events <- ev })
		close(events)
	}()

	model := ui.NewProgressModel("resolving records", files, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout), tea.WithContext(ctx))
	_, uiErr := program.Run()
	if uiErr != nil {
		// keep the producer from blocking on a full channel
		go func() {
			for range events {
			}
		}()
	}
	results := <-resultsCh
	return results, uiErr
}

package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"difffuzz/internal/corpus"
	"difffuzz/internal/ui"
)

type seedOutcome struct {
	files []string
	err   error
}

func runSeedWithUI(ctx context.Context, title string, gen corpus.Generator, opts corpus.Options) ([]string, error) {
	events := make(chan corpus.Event, 256)
	outcomeCh := make(chan seedOutcome, 1)

	go func() {
		optsCopy := opts
		optsCopy.Progress = corpus.ChannelSink{Ch: events}
		files, err := corpus.Generate(ctx, gen, optsCopy)
		outcomeCh <- seedOutcome{files: files, err: err}
		close(events)
	}()

	model := ui.NewProgressModel(title, corpus.Files(opts), events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout), tea.WithContext(ctx))
	_, uiErr := program.Run()
	if uiErr != nil {
		// Keep draining so the generator never blocks on a full channel.
		go func() {
			for range events {
			}
		}()
	}
	outcome := <-outcomeCh
	if outcome.err != nil {
		return outcome.files, outcome.err
	}
	return outcome.files, uiErr
}

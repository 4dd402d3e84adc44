package main

import (
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kaby76/gpuocelot/internal/ui"
	"github.com/kaby76/gpuocelot/internal/warmup"
)

// runWarmupWithUI drives the warmup in a goroutine while the terminal shows a
// live per-translation progress view.
func runWarmupWithUI(title string, req *warmup.Request) error {
	events := make(chan warmup.Event, 256)
	outcomeCh := make(chan error, 1)

	go func() {
		reqCopy := *req
		reqCopy.Progress = warmup.ChannelSink{Ch: events}
		outcomeCh <- warmup.Run(&reqCopy)
		close(events)
	}()

	model := ui.NewWarmupModel(title, req.Items(), events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	outcome := <-outcomeCh
	if uiErr != nil {
		return uiErr
	}
	return outcome
}

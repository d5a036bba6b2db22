// ABOUTME: Bridge connecting the pipeline engine to the Bubble Tea message loop.
// ABOUTME: Provides EventBridge for event injection, and tea.Cmd factories for running workflows and ticks.
package tui

import (
	"context"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spyglass-search/talos/pipeline"
)

// EventBridge forwards engine events into a tea.Program. It is created
// before the program so it can be installed as the instance's observer,
// then attached to program.Send.
type EventBridge struct {
	mu   sync.RWMutex
	send func(msg tea.Msg)
}

// NewEventBridge creates an EventBridge that sends messages via send, which
// may be nil until Attach is called.
func NewEventBridge(send func(msg tea.Msg)) *EventBridge {
	return &EventBridge{send: send}
}

// Attach sets the send function, typically program.Send.
func (b *EventBridge) Attach(send func(msg tea.Msg)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.send = send
}

// HandleEvent implements the pipeline.Observer Event signature. Events
// arriving before Attach are dropped.
func (b *EventBridge) HandleEvent(evt pipeline.EngineEvent) {
	b.mu.RLock()
	send := b.send
	b.mu.RUnlock()
	if send != nil {
		send(EngineEventMsg{Event: evt})
	}
}

// RunWorkflowCmd returns a tea.Cmd that runs the instance and reports the
// outcome as a RunResultMsg.
func RunWorkflowCmd(ctx context.Context, inst *pipeline.Instance) tea.Cmd {
	return func() tea.Msg {
		result, err := inst.Run(ctx)
		return RunResultMsg{Result: result, Err: err}
	}
}

// TickCmd returns a tea.Cmd that sends a TickMsg after the given interval.
// Used for spinner animation and periodic UI refreshes.
func TickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return TickMsg{Time: t}
	})
}

// ABOUTME: Bubble Tea message types used in the TUI message loop.
// ABOUTME: Each type wraps an engine event or run outcome for the tea.Msg interface.
package tui

import (
	"time"

	"github.com/spyglass-search/talos/pipeline"
	"github.com/spyglass-search/talos/workflow"
)

// EngineEventMsg wraps a pipeline.EngineEvent for the Bubble Tea message loop.
type EngineEventMsg struct {
	Event pipeline.EngineEvent
}

// RunResultMsg signals that a workflow run has finished.
type RunResultMsg struct {
	Result *workflow.NodeResult
	Err    error
}

// TickMsg is sent periodically to update timers and spinners.
type TickMsg struct {
	Time time.Time
}

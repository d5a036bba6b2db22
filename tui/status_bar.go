// ABOUTME: Implements a single-line status bar for the bottom of the TUI showing run progress.
// ABOUTME: Displays workflow name, elapsed time, finished node count, and the currently active node.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// StatusBarModel displays run status in a single line.
type StatusBarModel struct {
	workflowName   string
	startTime      time.Time
	totalNodes     int
	completedNodes int
	activeNode     string
	stopped        time.Duration
	width          int
}

// NewStatusBarModel creates a StatusBarModel for a workflow with totalNodes
// top-level nodes.
func NewStatusBarModel(workflowName string, totalNodes int) StatusBarModel {
	return StatusBarModel{
		workflowName: workflowName,
		totalNodes:   totalNodes,
	}
}

// Start records the run start time and resets the counters.
func (m *StatusBarModel) Start() {
	m.startTime = time.Now()
	m.stopped = 0
	m.completedNodes = 0
}

// SetCompleted updates the completed node count.
func (m *StatusBarModel) SetCompleted(n int) {
	m.completedNodes = n
}

// SetActiveNode sets the currently running node name.
func (m *StatusBarModel) SetActiveNode(name string) {
	m.activeNode = name
}

// SetWidth sets the bar width for rendering.
func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

// Stop freezes the elapsed time.
func (m *StatusBarModel) Stop() {
	if !m.startTime.IsZero() {
		m.stopped = time.Since(m.startTime)
	}
}

// Elapsed returns the time since Start, or the frozen time after Stop.
func (m StatusBarModel) Elapsed() time.Duration {
	if m.startTime.IsZero() {
		return 0
	}
	if m.stopped > 0 {
		return m.stopped
	}
	return time.Since(m.startTime)
}

// formatElapsed formats a duration as a human-readable string.
// Durations under a minute show as seconds (e.g. "12s").
// Durations of a minute or more show as minutes and seconds (e.g. "2m30s").
func formatElapsed(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) - minutes*60
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}

// View renders the status bar as a single styled line.
func (m StatusBarModel) View() string {
	active := m.activeNode
	if active == "" {
		active = "idle"
	}

	elapsed := formatElapsed(m.Elapsed())

	content := fmt.Sprintf("Workflow: %s | Elapsed: %s | %d/%d nodes | Active: %s | q quit, c cancel, r re-run",
		m.workflowName, elapsed, m.completedNodes, m.totalNodes, active)

	style := StatusBarStyle.Width(m.width)

	return lipgloss.PlaceHorizontal(m.width, lipgloss.Left, style.Render(content))
}

// ABOUTME: Scrollable run log built on the bubbles viewport: one readable line per engine event,
// ABOUTME: naming nodes by label and showing loop progress and node durations.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/spyglass-search/talos/pipeline"
	"github.com/spyglass-search/talos/workflow"
)

// logEntry is one rendered line of the run log.
type logEntry struct {
	at     time.Time
	kind   pipeline.EngineEventType
	nodeID string
	text   string
}

// LogPanelModel is a scrollable log of a workflow run.
type LogPanelModel struct {
	entries  []logEntry
	max      int
	viewport viewport.Model
	focused  bool
	width    int
	height   int
}

// NewLogPanelModel creates a new log panel with a maximum number of entries.
// If maxEntries is <= 0, it defaults to 200.
func NewLogPanelModel(maxEntries int) LogPanelModel {
	if maxEntries <= 0 {
		maxEntries = 200
	}
	vp := viewport.New(80, 10)
	return LogPanelModel{
		entries:  make([]logEntry, 0, maxEntries),
		max:      maxEntries,
		viewport: vp,
	}
}

// Append records evt under the node's display label, evicting the oldest
// entry at capacity.
func (m *LogPanelModel) Append(evt pipeline.EngineEvent, label string) {
	if len(m.entries) >= m.max {
		m.entries = m.entries[1:]
	}
	if label == "" {
		label = evt.NodeID
	}
	m.entries = append(m.entries, logEntry{
		at:     evt.Timestamp,
		kind:   evt.Type,
		nodeID: evt.NodeID,
		text:   describeEvent(evt, label),
	})
	m.syncViewport()
}

// Len returns the number of entries in the log.
func (m LogPanelModel) Len() int {
	return len(m.entries)
}

// Update scrolls the viewport when the panel is focused.
func (m LogPanelModel) Update(msg tea.Msg) LogPanelModel {
	if !m.focused {
		return m
	}
	m.viewport, _ = m.viewport.Update(msg)
	return m
}

// SetFocused sets whether this panel accepts keyboard input.
func (m *LogPanelModel) SetFocused(focused bool) {
	m.focused = focused
}

// IsFocused returns whether the panel is focused.
func (m LogPanelModel) IsFocused() bool {
	return m.focused
}

// SetSize sets the available dimensions and updates the viewport.
func (m *LogPanelModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	// Reserve space for the border (2 lines top/bottom) and title (1 line)
	vpWidth := w - 2
	vpHeight := h - 3
	if vpWidth < 1 {
		vpWidth = 1
	}
	if vpHeight < 1 {
		vpHeight = 1
	}
	m.viewport.Width = vpWidth
	m.viewport.Height = vpHeight
	m.syncViewport()
}

// View renders the log panel.
func (m LogPanelModel) View() string {
	title := "RUN LOG"
	if m.focused {
		title = "RUN LOG (focused)"
	}

	var content string
	if len(m.entries) == 0 {
		content = "No events yet"
	} else {
		content = m.viewport.View()
	}

	rendered := TitleStyle.Render(title) + "\n" + content

	return BorderStyle.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(rendered)
}

// syncViewport rebuilds the viewport content from entries and scrolls to the bottom.
func (m *LogPanelModel) syncViewport() {
	if len(m.entries) == 0 {
		m.viewport.SetContent("")
		return
	}
	lines := make([]string, len(m.entries))
	for i, e := range m.entries {
		lines[i] = LogTimestampStyle.Render(e.at.Format("15:04:05")) + " " + eventStyle(e.kind).Render(e.text)
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	m.viewport.GotoBottom()
}

// describeEvent renders evt as a sentence about the run or the labelled node.
func describeEvent(evt pipeline.EngineEvent, label string) string {
	switch evt.Type {
	case pipeline.EventRunStarted:
		return fmt.Sprintf("run started with %d nodes", intOf(evt.Data["nodes"]))
	case pipeline.EventRunCompleted:
		return "run completed"
	case pipeline.EventRunFailed:
		return "run failed: " + errorOf(evt)
	case pipeline.EventRunCanceled:
		return "run canceled"
	case pipeline.EventValidationFailed:
		if errs, ok := evt.Data["errors"].([]pipeline.NodeError); ok {
			return fmt.Sprintf("workflow invalid: %d problems", len(errs))
		}
		return "workflow invalid"
	case pipeline.EventNodeStarted:
		if kind, ok := evt.Data["kind"].(string); ok {
			return fmt.Sprintf("%s (%s) started", label, kind)
		}
		return label + " started"
	case pipeline.EventNodeCompleted:
		return fmt.Sprintf("%s done in %s", label, durationOf(evt))
	case pipeline.EventNodeMemoized:
		return label + " reused from the previous run"
	case pipeline.EventNodeFailed:
		if kind, _ := evt.Data["errorKind"].(string); kind == string(workflow.ErrCanceled) {
			return label + " canceled"
		}
		return label + " failed: " + errorOf(evt)
	case pipeline.EventLoopIteration:
		return fmt.Sprintf("%s item %d/%d", label, intOf(evt.Data["index"])+1, intOf(evt.Data["total"]))
	}
	text := string(evt.Type)
	if label != "" {
		text += " " + label
	}
	if len(evt.Data) > 0 {
		text += " " + formatData(evt.Data)
	}
	return text
}

func errorOf(evt pipeline.EngineEvent) string {
	if msg, ok := evt.Data["error"].(string); ok && msg != "" {
		return msg
	}
	return "unknown error"
}

func intOf(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// formatData formats event data as compact sorted key=value pairs.
func formatData(data map[string]any) string {
	pairs := make([]string, 0, len(data))
	for _, k := range workflow.SortedKeys(data) {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return strings.Join(pairs, " ")
}

// eventStyle returns the lipgloss style for a given event type.
func eventStyle(evtType pipeline.EngineEventType) lipgloss.Style {
	switch evtType {
	case pipeline.EventRunCompleted, pipeline.EventNodeCompleted, pipeline.EventNodeMemoized:
		return LogSuccessStyle
	case pipeline.EventRunFailed, pipeline.EventNodeFailed, pipeline.EventValidationFailed, pipeline.EventRunCanceled:
		return LogErrorStyle
	case pipeline.EventLoopIteration:
		return LogLoopStyle
	default:
		return LogEventStyle
	}
}

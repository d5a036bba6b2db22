// ABOUTME: Bubble Tea sub-model showing the active node, or the run's final output once it finishes.
// ABOUTME: Renders node name, kind, status, loop position, duration and an output excerpt.
package tui

import (
	"strings"
	"time"
)

// NodeDetail holds metadata for the currently active node.
type NodeDetail struct {
	Name     string
	Kind     string
	Status   NodeStatus
	Loop     string // "3/10" while inside a loop iteration
	Duration time.Duration
	Output   string
}

// DetailPanelModel displays detailed information about the active node.
type DetailPanelModel struct {
	active *NodeDetail
	width  int
	height int
}

// NewDetailPanelModel creates a new DetailPanelModel with no active node.
func NewDetailPanelModel() DetailPanelModel {
	return DetailPanelModel{}
}

// SetActiveNode updates the panel with new node details.
func (m *DetailPanelModel) SetActiveNode(detail NodeDetail) {
	m.active = &detail
}

// Active returns the node shown, or nil.
func (m DetailPanelModel) Active() *NodeDetail {
	return m.active
}

// Clear removes the active node.
func (m *DetailPanelModel) Clear() {
	m.active = nil
}

// SetSize sets the available dimensions.
func (m *DetailPanelModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// maxOutputLen is the maximum number of characters shown for Output.
const maxOutputLen = 240

func truncateOutput(s string) string {
	runes := []rune(strings.Join(strings.Fields(s), " "))
	if len(runes) <= maxOutputLen {
		return string(runes)
	}
	return string(runes[:maxOutputLen]) + "..."
}

// View renders the detail panel as a string.
func (m DetailPanelModel) View() string {
	title := TitleStyle.Render("NODE DETAIL")

	var content string
	if m.active == nil {
		content = title + "\n\n" + ValueStyle.Render("No active node")
	} else {
		d := m.active
		statusStr := StyleForStatus(d.Status).Render(d.Status.String())
		if d.Duration > 0 {
			statusStr += " " + d.Duration.Round(time.Millisecond).String()
		}

		lines := []string{
			title,
			row("Name:", d.Name),
			row("Kind:", d.Kind),
			LabelStyle.Render("Status:") + statusStr,
		}
		if d.Loop != "" {
			lines = append(lines, row("Loop:", d.Loop))
		}
		if d.Output != "" {
			lines = append(lines, row("Output:", truncateOutput(d.Output)))
		}
		content = strings.Join(lines, "\n")
	}

	style := BorderStyle
	if m.width > 2 {
		style = style.Width(m.width - 2)
	}
	if m.height > 2 {
		style = style.Height(m.height - 2)
	}
	return style.Render(content)
}

func row(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value)
}

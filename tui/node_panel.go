// ABOUTME: Bubble Tea sub-model listing workflow nodes in run order with status markers and spinner.
// ABOUTME: Loop children are indented under their loop, which shows the current iteration.
package tui

import (
	"fmt"
	"strings"

	"github.com/spyglass-search/talos/workflow"
)

// nodeRow is one rendered line of the node list.
type nodeRow struct {
	id     string
	label  string
	kind   workflow.NodeKind
	depth  int
	parent string
}

// NodePanelModel displays the workflow's nodes with their status.
type NodePanelModel struct {
	title        string
	rows         []nodeRow
	statuses     map[string]NodeStatus
	progress     map[string][2]int
	spinnerIndex int
	width        int
}

// NewNodePanelModel creates a node list for nodes.
func NewNodePanelModel(title string, nodes []*workflow.Node) NodePanelModel {
	m := NodePanelModel{
		title:    title,
		statuses: make(map[string]NodeStatus),
		progress: make(map[string][2]int),
	}
	var walk func(nodes []*workflow.Node, depth int, parent string)
	walk = func(nodes []*workflow.Node, depth int, parent string) {
		for _, n := range nodes {
			label := n.Label
			if label == "" {
				label = n.ID
			}
			m.rows = append(m.rows, nodeRow{id: n.ID, label: label, kind: n.Kind, depth: depth, parent: parent})
			walk(n.Children(), depth+1, n.ID)
		}
	}
	walk(nodes, 0, "")
	return m
}

// Len returns the number of listed nodes, loop children included.
func (m NodePanelModel) Len() int {
	return len(m.rows)
}

// TopLevel returns the number of top-level nodes.
func (m NodePanelModel) TopLevel() int {
	n := 0
	for _, r := range m.rows {
		if r.depth == 0 {
			n++
		}
	}
	return n
}

// IsTopLevel reports whether id is a top-level node.
func (m NodePanelModel) IsTopLevel(id string) bool {
	r, ok := m.row(id)
	return ok && r.depth == 0
}

// Label returns the display label of id, or id itself.
func (m NodePanelModel) Label(id string) string {
	if r, ok := m.row(id); ok {
		return r.label
	}
	return id
}

// Kind returns the node kind of id.
func (m NodePanelModel) Kind(id string) workflow.NodeKind {
	r, _ := m.row(id)
	return r.kind
}

func (m NodePanelModel) parentOf(id string) string {
	r, _ := m.row(id)
	return r.parent
}

func (m NodePanelModel) row(id string) (nodeRow, bool) {
	for _, r := range m.rows {
		if r.id == id {
			return r, true
		}
	}
	return nodeRow{}, false
}

// SetNodeStatus updates a node's visual status.
func (m *NodePanelModel) SetNodeStatus(nodeID string, status NodeStatus) {
	m.statuses[nodeID] = status
}

// GetNodeStatus returns the current status (defaults to NodePending).
func (m *NodePanelModel) GetNodeStatus(nodeID string) NodeStatus {
	if s, ok := m.statuses[nodeID]; ok {
		return s
	}
	return NodePending
}

// SetLoopProgress records that loop is on iteration index (0-based) of
// total, and resets its children for the new iteration.
func (m *NodePanelModel) SetLoopProgress(loopID string, index, total int) {
	m.progress[loopID] = [2]int{index + 1, total}
	for _, r := range m.rows {
		if r.parent == loopID {
			delete(m.statuses, r.id)
		}
	}
}

// CancelRunning marks every running node as canceled.
func (m *NodePanelModel) CancelRunning() {
	for id, s := range m.statuses {
		if s == NodeRunning {
			m.statuses[id] = NodeCanceled
		}
	}
}

// Reset clears all statuses before a re-run.
func (m *NodePanelModel) Reset() {
	m.statuses = make(map[string]NodeStatus)
	m.progress = make(map[string][2]int)
}

// AdvanceSpinner increments the spinner frame index.
func (m *NodePanelModel) AdvanceSpinner() {
	m.spinnerIndex++
}

// SetWidth sets the available width for rendering.
func (m *NodePanelModel) SetWidth(w int) {
	m.width = w
}

// View renders the node list.
func (m NodePanelModel) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("=== WORKFLOW: %s ===", m.title)))
	for _, r := range m.rows {
		status := m.GetNodeStatus(r.id)
		marker := status.Icon()
		if status == NodeRunning {
			marker = "[" + SpinnerFrames[m.spinnerIndex%len(SpinnerFrames)] + "]"
		}
		line := fmt.Sprintf("%s%s %s (%s)", strings.Repeat("  ", r.depth), marker, r.label, r.kind)
		if p, ok := m.progress[r.id]; ok {
			line += fmt.Sprintf(" %d/%d", p[0], p[1])
		}
		b.WriteString("\n")
		b.WriteString(StyleForStatus(status).Render(line))
	}
	if len(m.rows) == 0 {
		b.WriteString("\n")
		b.WriteString(PendingStyle.Render("(empty workflow)"))
	}

	style := BorderStyle
	if m.width > 2 {
		style = style.Width(m.width - 2)
	}
	return style.Render(b.String())
}

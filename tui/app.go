// ABOUTME: Top-level Bubble Tea AppModel that composes the node, detail, log, and status bar panels.
// ABOUTME: Implements tea.Model (Init, Update, View) and drives a pipeline.Instance with cancel and re-run keys.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/spyglass-search/talos/pipeline"
	"github.com/spyglass-search/talos/workflow"
)

// FocusTarget indicates which panel currently has keyboard focus.
type FocusTarget int

const (
	FocusNodes FocusTarget = iota
	FocusLog
)

const tickInterval = 100 * time.Millisecond

// AppModel is the top-level Bubble Tea model that composes all TUI sub-panels
// and routes messages between them.
type AppModel struct {
	nodes     NodePanelModel
	detail    DetailPanelModel
	log       LogPanelModel
	statusBar StatusBarModel

	inst   *pipeline.Instance
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc

	focus     FocusTarget
	done      bool
	err       error
	result    *workflow.NodeResult
	completed int
	width     int
	height    int
}

// NewAppModel creates an AppModel for inst. Runs derive their context from
// ctx; name is shown in the node panel and status bar.
func NewAppModel(ctx context.Context, name string, inst *pipeline.Instance) AppModel {
	var nodes []*workflow.Node
	if inst != nil {
		nodes = inst.Nodes()
	}
	panel := NewNodePanelModel(name, nodes)
	runCtx, cancel := context.WithCancel(ctx)
	return AppModel{
		nodes:     panel,
		detail:    NewDetailPanelModel(),
		log:       NewLogPanelModel(200),
		statusBar: NewStatusBarModel(name, panel.TopLevel()),
		inst:      inst,
		parent:    ctx,
		ctx:       runCtx,
		cancel:    cancel,
		focus:     FocusNodes,
	}
}

// Done reports whether the current run has finished.
func (m AppModel) Done() bool { return m.done }

// Err returns the error of the finished run, if any.
func (m AppModel) Err() error { return m.err }

// Result returns the final result of the finished run.
func (m AppModel) Result() *workflow.NodeResult { return m.result }

// Init implements tea.Model.
func (m AppModel) Init() tea.Cmd {
	return tea.Batch(
		RunWorkflowCmd(m.ctx, m.inst),
		TickCmd(tickInterval),
	)
}

// Update implements tea.Model.
func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case EngineEventMsg:
		return m.handleEngineEvent(msg)

	case RunResultMsg:
		return m.handleRunResult(msg)

	case TickMsg:
		m.nodes.AdvanceSpinner()
		if m.done {
			return m, nil
		}
		return m, TickCmd(tickInterval)

	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	}

	return m, nil
}

// View implements tea.Model.
func (m AppModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if m.width < 40 || m.height < 10 {
		return fmt.Sprintf("Terminal too small (%dx%d). Minimum: 40x10.", m.width, m.height)
	}

	statusBarHeight := 1
	bodyHeight := m.height - statusBarHeight
	leftWidth := m.width * 45 / 100
	rightWidth := m.width - leftWidth
	detailHeight := bodyHeight * 40 / 100
	if detailHeight < 5 {
		detailHeight = 5
	}
	logHeight := bodyHeight - detailHeight
	if logHeight < 3 {
		logHeight = 3
	}

	m.nodes.SetWidth(leftWidth)
	m.detail.SetSize(rightWidth, detailHeight)
	m.log.SetSize(rightWidth, logHeight)
	m.statusBar.SetWidth(m.width)

	right := lipgloss.JoinVertical(lipgloss.Left, m.detail.View(), m.log.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.nodes.View(), right)

	statusView := m.statusBar.View()
	if m.done {
		switch {
		case m.result.IsCanceled():
			statusView += " " + CanceledStyle.Render("CANCELED")
		case m.err != nil:
			statusView += " " + FailedStyle.Render(fmt.Sprintf("FAILED: %v", m.err))
		case m.result.Failed():
			statusView += " " + FailedStyle.Render("FAILED: "+m.result.Error)
		default:
			statusView += " " + CompletedStyle.Render("DONE")
		}
	}

	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n")
	b.WriteString(statusView)
	return b.String()
}

func (m AppModel) handleEngineEvent(msg EngineEventMsg) (tea.Model, tea.Cmd) {
	evt := msg.Event
	m.log.Append(evt, m.nodes.Label(evt.NodeID))

	switch evt.Type {
	case pipeline.EventRunStarted:
		m.statusBar.Start()
		m.completed = 0

	case pipeline.EventNodeStarted:
		m.nodes.SetNodeStatus(evt.NodeID, NodeRunning)
		m.statusBar.SetActiveNode(m.nodes.Label(evt.NodeID))
		m.detail.SetActiveNode(m.buildNodeDetail(evt.NodeID, NodeRunning))

	case pipeline.EventNodeCompleted:
		m.nodes.SetNodeStatus(evt.NodeID, NodeCompleted)
		m.finishNode(evt.NodeID, NodeCompleted, durationOf(evt))

	case pipeline.EventNodeMemoized:
		m.nodes.SetNodeStatus(evt.NodeID, NodeReused)
		m.finishNode(evt.NodeID, NodeReused, 0)

	case pipeline.EventNodeFailed:
		status := NodeFailed
		if kind, _ := evt.Data["errorKind"].(string); kind == string(workflow.ErrCanceled) {
			status = NodeCanceled
		}
		m.nodes.SetNodeStatus(evt.NodeID, status)
		detail := m.buildNodeDetail(evt.NodeID, status)
		if errMsg, ok := evt.Data["error"].(string); ok {
			detail.Output = errMsg
		}
		m.detail.SetActiveNode(detail)

	case pipeline.EventLoopIteration:
		index, _ := evt.Data["index"].(int)
		total, _ := evt.Data["total"].(int)
		m.nodes.SetLoopProgress(evt.NodeID, index, total)

	case pipeline.EventRunCanceled:
		m.nodes.CancelRunning()
	}

	return m, nil
}

func (m *AppModel) finishNode(nodeID string, status NodeStatus, d time.Duration) {
	if !m.nodes.IsTopLevel(nodeID) {
		return
	}
	m.completed++
	m.statusBar.SetCompleted(m.completed)
	if active := m.detail.Active(); active != nil && active.Name == m.nodes.Label(nodeID) {
		detail := m.buildNodeDetail(nodeID, status)
		detail.Duration = d
		m.detail.SetActiveNode(detail)
	}
}

func (m AppModel) handleRunResult(msg RunResultMsg) (tea.Model, tea.Cmd) {
	m.done = true
	m.err = msg.Err
	m.result = msg.Result
	m.statusBar.SetActiveNode("")
	m.statusBar.Stop()

	detail := NodeDetail{Name: "run result", Kind: "workflow", Status: NodeCompleted}
	switch {
	case msg.Err != nil:
		detail.Status = NodeFailed
		detail.Output = msg.Err.Error()
	case msg.Result.IsCanceled():
		detail.Status = NodeCanceled
		detail.Output = msg.Result.Error
	case msg.Result.Failed():
		detail.Status = NodeFailed
		detail.Output = msg.Result.Error
	case msg.Result != nil:
		detail.Output = workflow.Text(msg.Result.Data)
	}
	m.detail.SetActiveNode(detail)
	return m, nil
}

func (m AppModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.cancel()
		return m, tea.Quit
	case "c":
		if !m.done {
			m.cancel()
		}
		return m, nil
	case "r":
		if !m.done || m.inst == nil {
			return m, nil
		}
		return m.rerun()
	case "tab":
		m.focus = m.nextFocus()
		m.log.SetFocused(m.focus == FocusLog)
		return m, nil
	}

	if m.focus == FocusLog {
		m.log = m.log.Update(msg)
	}
	return m, nil
}

// rerun starts the instance again. Unchanged nodes come back as memoized.
func (m AppModel) rerun() (tea.Model, tea.Cmd) {
	m.cancel()
	m.ctx, m.cancel = context.WithCancel(m.parent)
	m.done = false
	m.err = nil
	m.result = nil
	m.completed = 0
	m.nodes.Reset()
	m.detail.Clear()
	m.statusBar.SetCompleted(0)
	return m, tea.Batch(RunWorkflowCmd(m.ctx, m.inst), TickCmd(tickInterval))
}

func (m AppModel) nextFocus() FocusTarget {
	if m.focus == FocusNodes {
		return FocusLog
	}
	return FocusNodes
}

func (m AppModel) buildNodeDetail(nodeID string, status NodeStatus) NodeDetail {
	detail := NodeDetail{
		Name:   m.nodes.Label(nodeID),
		Kind:   string(m.nodes.Kind(nodeID)),
		Status: status,
	}
	if parent := m.nodes.parentOf(nodeID); parent != "" {
		if p, ok := m.nodes.progress[parent]; ok {
			detail.Loop = fmt.Sprintf("%d/%d", p[0], p[1])
		}
	}
	return detail
}

func durationOf(evt pipeline.EngineEvent) time.Duration {
	switch ms := evt.Data["duration_ms"].(type) {
	case int64:
		return time.Duration(ms) * time.Millisecond
	case int:
		return time.Duration(ms) * time.Millisecond
	case float64:
		return time.Duration(ms * float64(time.Millisecond))
	}
	return 0
}

// ABOUTME: Lifecycle events emitted while a workflow runs, consumed by the TUI, SSE stream and logs.
// ABOUTME: Observer bundles the per-instance callbacks for running-node and result-map changes.
package pipeline

import (
	"time"

	"github.com/spyglass-search/talos/workflow"
)

// EngineEventType identifies the kind of engine lifecycle event.
type EngineEventType string

const (
	EventRunStarted       EngineEventType = "run.started"
	EventRunCompleted     EngineEventType = "run.completed"
	EventRunFailed        EngineEventType = "run.failed"
	EventRunCanceled      EngineEventType = "run.canceled"
	EventValidationFailed EngineEventType = "validation.failed"
	EventNodeStarted      EngineEventType = "node.started"
	EventNodeCompleted    EngineEventType = "node.completed"
	EventNodeFailed       EngineEventType = "node.failed"
	EventNodeMemoized     EngineEventType = "node.memoized"
	EventLoopIteration    EngineEventType = "loop.iteration"
)

// EngineEvent represents a lifecycle event emitted during a run.
type EngineEvent struct {
	Type      EngineEventType `json:"type"`
	RunID     string          `json:"runId"`
	NodeID    string          `json:"nodeId,omitempty"`
	Data      map[string]any  `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// TimestampedResult is the stored outcome of one node.
type TimestampedResult struct {
	StartedAt  time.Time            `json:"startedAt"`
	FinishedAt time.Time            `json:"finishedAt"`
	Result     *workflow.NodeResult `json:"result"`
}

// Observer receives progress callbacks from an Instance. Any field may be nil.
type Observer struct {
	// RunningNodeChanged is called before each node, including loop children.
	RunningNodeChanged func(nodeID string)
	// ResultsChanged receives a copy of the top-level result map after every change.
	ResultsChanged func(results map[string]TimestampedResult)
	// Event receives every lifecycle event of this instance.
	Event func(EngineEvent)
}

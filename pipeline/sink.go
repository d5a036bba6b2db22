// ABOUTME: Result sinks: top-level nodes replace their stored result, loop children append to an iteration list.
package pipeline

import (
	"time"

	"github.com/spyglass-search/talos/workflow"
)

// ResultSink receives node results as the stepper produces them.
type ResultSink interface {
	// Begin is called right before a node is dispatched.
	Begin(node *workflow.Node)
	// Record stores a finished node's result.
	Record(node *workflow.Node, startedAt time.Time, r *workflow.NodeResult)
}

// ReplaceSink writes into an Instance's result map, replacing any earlier
// result for the same node.
type ReplaceSink struct {
	inst *Instance
}

// Begin clears the stale result so observers never see it during the run.
func (s *ReplaceSink) Begin(node *workflow.Node) {
	s.inst.mu.Lock()
	_, had := s.inst.results[node.ID]
	delete(s.inst.results, node.ID)
	delete(s.inst.runKeys, node.ID)
	snapshot := s.inst.snapshotLocked()
	s.inst.mu.Unlock()
	if had {
		s.inst.notifyResults(snapshot)
	}
}

// Record stores the result with its timestamps.
func (s *ReplaceSink) Record(node *workflow.Node, startedAt time.Time, r *workflow.NodeResult) {
	s.inst.mu.Lock()
	s.inst.results[node.ID] = TimestampedResult{StartedAt: startedAt, FinishedAt: time.Now(), Result: r}
	s.inst.runKeys[node.ID] = runKey(node)
	snapshot := s.inst.snapshotLocked()
	s.inst.mu.Unlock()
	s.inst.notifyResults(snapshot)
}

// AppendingSink accumulates one loop iteration's child results in order.
type AppendingSink struct {
	Results workflow.MultiNodeResult
}

// Begin is a no-op.
func (s *AppendingSink) Begin(*workflow.Node) {}

// Record appends r.
func (s *AppendingSink) Record(_ *workflow.Node, _ time.Time, r *workflow.NodeResult) {
	s.Results = append(s.Results, r)
}

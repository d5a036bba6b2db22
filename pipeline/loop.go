// ABOUTME: Loop driver: runs a Loop node's children once per input row, collecting each iteration's results.
// ABOUTME: The loop's mapping is applied to every row before it enters the nested pipeline.
package pipeline

import (
	"context"

	"github.com/spyglass-search/talos/workflow"
)

// loopItems resolves the rows a loop iterates over: table rows or a plain
// list.
func loopItems(input *workflow.NodeResult) ([]any, bool) {
	if input == nil || input.Data == nil {
		return nil, false
	}
	if t, ok := input.Data.(workflow.TableResult); ok {
		items := make([]any, len(t.Rows))
		for i, r := range t.Rows {
			items[i] = map[string]any(r)
		}
		return items, true
	}
	if list, ok := workflow.Value(input.Data).([]any); ok {
		return list, true
	}
	return nil, false
}

func rowID(item any) any {
	if m, ok := item.(map[string]any); ok {
		return m[workflow.RowIDField]
	}
	return nil
}

// runLoop executes the children of a Loop node for every item of input.
func (in *Instance) runLoop(ctx context.Context, node *workflow.Node, input *workflow.NodeResult) *workflow.NodeResult {
	items, ok := loopItems(input)
	if !ok {
		return workflow.Errorf(workflow.ErrConfiguration, "Loop input must be a list of rows")
	}

	saved := in.loopContext()
	defer in.setLoopContext(saved)

	children := node.Children()
	iterations := make([]workflow.MultiNodeResult, 0, len(items))
	for idx, item := range items {
		if ctx.Err() != nil {
			return workflow.Canceled(workflow.LoopResult{LoopResults: iterations})
		}
		in.setLoopContext(LoopContext{IsInLoop: true, LoopIndex: idx, RowID: rowID(item)})
		in.emitEvent(EngineEvent{Type: EventLoopIteration, NodeID: node.ID, Data: map[string]any{"index": idx, "total": len(items)}})

		row := workflow.OK(workflow.MapPayload(node.Mapping, workflow.PayloadOf(item)))
		sink := &AppendingSink{}
		last := in.runSequence(ctx, children, row, sink, false)

		if last != nil && last.IsCanceled() {
			return workflow.Canceled(workflow.LoopResult{LoopResults: iterations})
		}
		iterations = append(iterations, sink.Results)
		if last != nil && last.Failed() {
			return &workflow.NodeResult{
				Status:    workflow.StatusError,
				Data:      workflow.LoopResult{LoopResults: iterations},
				Error:     last.Error,
				ErrorKind: last.ErrorKind,
			}
		}
	}
	return workflow.OK(workflow.LoopResult{LoopResults: iterations})
}

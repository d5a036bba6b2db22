// ABOUTME: Summarize handler: submits a summarize task and polls it until it finishes or the run is canceled.
package pipeline

import (
	"context"
	"time"

	"github.com/spyglass-search/talos/workflow"
)

// SummarizeHandler runs Summarize nodes.
type SummarizeHandler struct {
	Tasks        SummaryTasks
	PollInterval time.Duration
}

// Kind returns KindSummarize.
func (h *SummarizeHandler) Kind() workflow.NodeKind { return workflow.KindSummarize }

// Execute submits the input text and waits for the task to reach a terminal
// status.
func (h *SummarizeHandler) Execute(ctx context.Context, input *workflow.NodeResult, node *workflow.Node, rc RunContext) (*workflow.NodeResult, error) {
	if input == nil || input.Data == nil {
		return workflow.Errorf(workflow.ErrConfiguration, "Summarize node has no text to read"), nil
	}
	if h.Tasks == nil {
		return workflow.Errorf(workflow.ErrConfiguration, "no summarize backend is configured"), nil
	}
	taskID, err := h.Tasks.Submit(ctx, workflow.Text(input.Data))
	if err != nil {
		return failure(ctx, err), nil
	}

	interval := h.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return workflow.Canceled(nil), nil
		case <-ticker.C:
		}
		status, err := h.Tasks.Poll(ctx, taskID)
		if err != nil {
			return failure(ctx, err), nil
		}
		if !status.Terminal() {
			continue
		}
		if status.Status == TaskFailed {
			msg := status.Error
			if msg == "" {
				msg = "summarize task failed"
			}
			return workflow.Errorf(workflow.ErrTransport, "%s", msg), nil
		}
		return workflow.OK(workflow.SummaryResult{Summary: status.Summary, BulletSummary: status.BulletSummary}), nil
	}
}

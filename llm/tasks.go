// ABOUTME: In-process summarize task queue with the same submit/poll contract as the remote task API.
// ABOUTME: Each task runs in its own goroutine against an LLM and is addressed by a ULID.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	muxllm "github.com/2389-research/mux/llm"
	"github.com/oklog/ulid/v2"
	"github.com/spyglass-search/talos/pipeline"
)

// summary is the JSON reply the summarize prompt asks for.
type summary struct {
	Paragraph string `json:"paragraph"`
	Bullets   string `json:"bullets"`
}

// TaskQueue runs summarize tasks locally. Tasks outlive the request that
// submitted them and stop only when the queue is closed.
type TaskQueue struct {
	client muxllm.Client
	model  string
	retry  RetryPolicy
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	tasks map[string]pipeline.TaskStatus
}

// NewTaskQueue creates a queue that summarizes with client.
func NewTaskQueue(client muxllm.Client, model string, logger *slog.Logger) *TaskQueue {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "llm.tasks")
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskQueue{
		client: client,
		model:  model,
		retry:  RateLimitRetryPolicy(logger),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]pipeline.TaskStatus),
	}
}

var _ pipeline.SummaryTasks = (*TaskQueue)(nil)

// Submit queues text for summarizing and returns the task id.
func (q *TaskQueue) Submit(ctx context.Context, text string) (string, error) {
	if err := q.ctx.Err(); err != nil {
		return "", fmt.Errorf("task queue closed")
	}
	id := ulid.Make().String()
	q.set(id, pipeline.TaskStatus{Status: pipeline.TaskQueued})
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.run(id, text)
	}()
	q.logger.Debug("summarize task queued", "task", id, "chars", len(text))
	return id, nil
}

// Poll returns the task's current status.
func (q *TaskQueue) Poll(ctx context.Context, taskID string) (pipeline.TaskStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.tasks[taskID]
	if !ok {
		return pipeline.TaskStatus{}, fmt.Errorf("unknown task %q", taskID)
	}
	return st, nil
}

// Close cancels running tasks and waits for them to stop.
func (q *TaskQueue) Close() {
	q.cancel()
	q.wg.Wait()
}

func (q *TaskQueue) set(id string, st pipeline.TaskStatus) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks[id] = st
}

func (q *TaskQueue) run(id, text string) {
	q.set(id, pipeline.TaskStatus{Status: pipeline.TaskRunning})
	reply, err := complete(q.ctx, q.client, q.retry, &muxllm.Request{
		Model:     q.model,
		System:    summarySystemPrompt,
		Messages:  []muxllm.Message{muxllm.NewUserMessage(text)},
		MaxTokens: DefaultMaxTokens,
	})
	if err != nil {
		q.logger.Warn("summarize task failed", "task", id, "error", err)
		q.set(id, pipeline.TaskStatus{Status: pipeline.TaskFailed, Error: err.Error()})
		return
	}
	var s summary
	if err := ExtractJSON(reply, &s); err != nil || s.Paragraph == "" {
		// A model that ignores the format still produced a usable summary.
		s = summary{Paragraph: reply}
	}
	q.set(id, pipeline.TaskStatus{Status: pipeline.TaskComplete, Summary: s.Paragraph, BulletSummary: s.Bullets})
}

const summarySystemPrompt = `You summarize documents.

Output ONLY valid JSON with this exact schema (no markdown, no commentary):

{
  "paragraph": "A single paragraph summary of the document",
  "bullets": "A markdown bullet list of the key points, one per line"
}`

// ABOUTME: External collaborators the pipeline handlers depend on: fetch, parse, ask, summarize tasks, tokens.
// ABOUTME: Implementations live in backend and llm; tests substitute hand-written fakes.
package pipeline

import (
	"context"
	"strings"
)

// Fetcher retrieves the readable text of a web page.
type Fetcher interface {
	FetchURL(ctx context.Context, url string) (string, error)
}

// FileParser extracts text from a local file.
type FileParser interface {
	ParseFile(ctx context.Context, path string) (string, error)
}

// AskRequest is a structured extraction request.
type AskRequest struct {
	Query      string         `json:"query"`
	Text       string         `json:"text"`
	JSONSchema map[string]any `json:"jsonSchema"`
}

// Asker answers an extraction request with JSON data shaped by the schema.
type Asker interface {
	Ask(ctx context.Context, req AskRequest) (any, error)
}

// TaskStatus is one poll of an asynchronous summarize task.
type TaskStatus struct {
	Status        string `json:"status"`
	Summary       string `json:"summary,omitempty"`
	BulletSummary string `json:"bulletSummary,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Task statuses with special meaning. Any status starting with
// TaskComplete is terminal.
const (
	TaskQueued   = "Queued"
	TaskRunning  = "Processing"
	TaskComplete = "Complete"
	TaskFailed   = "Failed"
)

// Terminal reports whether polling can stop.
func (s TaskStatus) Terminal() bool {
	return strings.HasPrefix(s.Status, TaskComplete) || s.Status == TaskFailed
}

// SummaryTasks submits summarize tasks and polls them.
type SummaryTasks interface {
	Submit(ctx context.Context, text string) (string, error)
	Poll(ctx context.Context, taskID string) (TaskStatus, error)
}

// TokenProvider supplies the bearer token used for connector calls.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token.
type StaticToken string

// Token returns the token.
func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func(ctx context.Context) (string, error)

// Token calls f.
func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

func token(ctx context.Context, p TokenProvider) (string, error) {
	if p == nil {
		return "", nil
	}
	return p.Token(ctx)
}

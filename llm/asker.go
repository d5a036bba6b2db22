// ABOUTME: Structured extraction over any mux/llm client: prompts for JSON matching a schema and parses the reply.
// ABOUTME: Replies are decoded with a three-tier strategy (raw, fenced, outermost braces).

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	muxllm "github.com/2389-research/mux/llm"
	"github.com/spyglass-search/talos/pipeline"
)

// DefaultMaxTokens bounds extraction and summary replies.
const DefaultMaxTokens = 8192

// MuxAsker answers extraction requests with an LLM.
type MuxAsker struct {
	client    muxllm.Client
	model     string
	maxTokens int
	retry     RetryPolicy
	logger    *slog.Logger
}

// NewMuxAsker wraps client. An empty model uses the client's default.
func NewMuxAsker(client muxllm.Client, model string, logger *slog.Logger) *MuxAsker {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "llm.ask")
	return &MuxAsker{client: client, model: model, maxTokens: DefaultMaxTokens, retry: RateLimitRetryPolicy(logger), logger: logger}
}

var _ pipeline.Asker = (*MuxAsker)(nil)

// Ask sends the query and text and returns the decoded JSON reply.
func (a *MuxAsker) Ask(ctx context.Context, req pipeline.AskRequest) (any, error) {
	schema, err := json.MarshalIndent(req.JSONSchema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	text, err := complete(ctx, a.client, a.retry, &muxllm.Request{
		Model:     a.model,
		System:    askSystemPrompt(string(schema)),
		Messages:  []muxllm.Message{muxllm.NewUserMessage(askUserPrompt(req.Query, req.Text))},
		MaxTokens: a.maxTokens,
	})
	if err != nil {
		return nil, err
	}
	var out any
	if err := ExtractJSON(text, &out); err != nil {
		a.logger.Warn("unparseable extraction reply", "error", err, "reply_len", len(text))
		return nil, err
	}
	return out, nil
}

func askSystemPrompt(schema string) string {
	return fmt.Sprintf(`You extract structured data from documents.

Output ONLY valid JSON matching this JSON schema (no markdown, no commentary):

%s

Use null for values the document does not contain. Never invent data.`, schema)
}

func askUserPrompt(query, text string) string {
	return fmt.Sprintf("Request: %s\n\nDocument:\n%s", query, text)
}

// complete sends req with rate-limit retries and returns the reply text.
func complete(ctx context.Context, client muxllm.Client, policy RetryPolicy, req *muxllm.Request) (string, error) {
	var resp *muxllm.Response
	err := retryOnRateLimit(ctx, policy, func() error {
		var callErr error
		resp, callErr = client.CreateMessage(ctx, req)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("LLM request failed: %w", err)
	}
	text := resp.TextContent()
	if text == "" {
		return "", fmt.Errorf("LLM returned empty response")
	}
	return text, nil
}

// ExtractJSON decodes JSON from LLM output into v. It tries the whole text,
// then the text without markdown code fences, then the span between the
// first and last brace or bracket.
func ExtractJSON(text string, v any) error {
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(stripCodeFences(text)), v); err == nil {
		return nil
	}
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		first := strings.Index(text, pair[0])
		last := strings.LastIndex(text, pair[1])
		if first >= 0 && last > first {
			if err := json.Unmarshal([]byte(text[first:last+1]), v); err == nil {
				return nil
			}
		}
	}
	return fmt.Errorf("failed to parse LLM response as JSON")
}

func stripCodeFences(text string) string {
	var lines []string
	inFence := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence || trimmed != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

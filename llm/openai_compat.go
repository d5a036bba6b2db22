// ABOUTME: mux/llm client over the OpenAI Chat Completions API with a configurable base URL.
// ABOUTME: Lets the asker and summarize queue run against OpenRouter, Ollama and other compatible services.

package llm

import (
	"context"
	"fmt"

	muxllm "github.com/2389-research/mux/llm"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAICompatClient implements muxllm.Client using /chat/completions, which
// every OpenAI-compatible provider serves. mux's own OpenAI client cannot
// change the base URL.
type OpenAICompatClient struct {
	client openai.Client
	model  string
}

// NewOpenAICompatClient creates a Chat Completions client. An empty baseURL
// uses the OpenAI API.
func NewOpenAICompatClient(apiKey, model, baseURL string) *OpenAICompatClient {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAICompatClient{client: openai.NewClient(clientOptions(apiKey, baseURL)...), model: model}
}

func clientOptions(apiKey, baseURL string) []option.RequestOption {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return opts
}

// CreateMessage sends a message and returns the complete response.
func (c *OpenAICompatClient) CreateMessage(ctx context.Context, req *muxllm.Request) (*muxllm.Response, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.params(req))
	if err != nil {
		return nil, err
	}
	return convertCompatResponse(resp), nil
}

// CreateMessageStream streams text deltas followed by the assembled response.
func (c *OpenAICompatClient) CreateMessageStream(ctx context.Context, req *muxllm.Request) (<-chan muxllm.StreamEvent, error) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(req))
	events := make(chan muxllm.StreamEvent, 100)

	go func() {
		defer close(events)
		defer func() {
			if r := recover(); r != nil {
				events <- muxllm.StreamEvent{Type: muxllm.EventError, Error: fmt.Errorf("panic in stream processing: %v", r)}
			}
		}()

		var acc openai.ChatCompletionAccumulator
		events <- muxllm.StreamEvent{Type: muxllm.EventMessageStart}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				events <- muxllm.StreamEvent{Type: muxllm.EventContentDelta, Text: chunk.Choices[0].Delta.Content}
			}
		}
		if err := stream.Err(); err != nil {
			events <- muxllm.StreamEvent{Type: muxllm.EventError, Error: err}
			return
		}
		events <- muxllm.StreamEvent{Type: muxllm.EventMessageStop, Response: convertCompatResponse(&acc.ChatCompletion)}
	}()
	return events, nil
}

// params converts a mux request. Only text content is carried; talos never
// sends tools.
func (c *OpenAICompatClient) params(req *muxllm.Request) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = c.model
	}
	params := openai.ChatCompletionNewParams{Model: model}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.System != "" {
		params.Messages = append(params.Messages, openai.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		text := messageText(msg)
		switch msg.Role {
		case muxllm.RoleUser:
			params.Messages = append(params.Messages, openai.UserMessage(text))
		case muxllm.RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(text))
		}
	}
	return params
}

func messageText(msg muxllm.Message) string {
	if msg.Content != "" {
		return msg.Content
	}
	for _, block := range msg.Blocks {
		if block.Type == muxllm.ContentTypeText {
			return block.Text
		}
	}
	return ""
}

func convertCompatResponse(resp *openai.ChatCompletion) *muxllm.Response {
	result := &muxllm.Response{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: muxllm.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
		StopReason: muxllm.StopReasonEndTurn,
	}
	if len(resp.Choices) == 0 {
		return result
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "length" {
		result.StopReason = muxllm.StopReasonMaxTokens
	}
	if choice.Message.Content != "" {
		result.Content = append(result.Content, muxllm.ContentBlock{Type: muxllm.ContentTypeText, Text: choice.Message.Content})
	}
	return result
}

var _ muxllm.Client = (*OpenAICompatClient)(nil)

// ABOUTME: Extraction through OpenAI structured outputs: the node's schema is sent as the response format.
// ABOUTME: Used when the provider enforces JSON schemas natively instead of relying on prompt instructions.

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/spyglass-search/talos/pipeline"
)

// OpenAIAsker answers extraction requests with a JSON-schema response format.
type OpenAIAsker struct {
	client openai.Client
	model  string
	retry  RetryPolicy
	logger *slog.Logger
}

// NewOpenAIAsker creates an asker for the OpenAI API or a compatible
// baseURL.
func NewOpenAIAsker(apiKey, model, baseURL string, logger *slog.Logger) *OpenAIAsker {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "llm.openai")
	return &OpenAIAsker{
		client: openai.NewClient(clientOptions(apiKey, baseURL)...),
		model:  model,
		retry:  RateLimitRetryPolicy(logger),
		logger: logger,
	}
}

var _ pipeline.Asker = (*OpenAIAsker)(nil)

// Ask sends the request with the schema as a structured response format.
func (a *OpenAIAsker) Ask(ctx context.Context, req pipeline.AskRequest) (any, error) {
	params := openai.ChatCompletionNewParams{
		Model: a.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You extract structured data from documents. Use null for values the document does not contain."),
			openai.UserMessage(askUserPrompt(req.Query, req.Text)),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "extraction",
					Schema: wrapSchema(req.JSONSchema),
				},
			},
		},
	}

	var resp *openai.ChatCompletion
	err := retryOnRateLimit(ctx, a.retry, func() error {
		var callErr error
		resp, callErr = a.client.Chat.Completions.New(ctx, params)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("LLM request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM returned empty response")
	}
	if refusal := resp.Choices[0].Message.Refusal; refusal != "" {
		return nil, fmt.Errorf("LLM refused: %s", refusal)
	}
	if resp.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("LLM returned empty response")
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return nil, fmt.Errorf("decode structured reply: %w", err)
	}
	if needsWrap(req.JSONSchema) {
		return out["value"], nil
	}
	return out, nil
}

// wrapSchema returns a schema whose root is an object, as structured outputs
// require. Non-object schemas are placed under a "value" property.
func wrapSchema(schema map[string]any) map[string]any {
	if !needsWrap(schema) {
		return schema
	}
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"value": schema},
		"required":   []string{"value"},
	}
}

func needsWrap(schema map[string]any) bool {
	t, _ := schema["type"].(string)
	return t != "object" && t != ""
}

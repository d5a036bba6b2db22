// ABOUTME: Builds a mux/llm client for a named provider, mirroring how the web layer picks providers.

package llm

import (
	"context"
	"fmt"

	muxllm "github.com/2389-research/mux/llm"
)

// NewClient creates a mux client for provider: anthropic, openai, gemini, or
// openai-compat (any OpenAI-compatible API at baseURL). openai with a
// baseURL is treated as openai-compat.
func NewClient(ctx context.Context, provider, apiKey, model, baseURL string) (muxllm.Client, error) {
	if apiKey == "" && provider != "openai-compat" {
		return nil, fmt.Errorf("no API key configured for provider %q", provider)
	}
	switch provider {
	case "anthropic":
		return muxllm.NewAnthropicClient(apiKey, model), nil
	case "openai":
		if baseURL != "" {
			return NewOpenAICompatClient(apiKey, model, baseURL), nil
		}
		return muxllm.NewOpenAIClient(apiKey, model), nil
	case "openai-compat":
		if baseURL == "" {
			return nil, fmt.Errorf("provider openai-compat needs a base URL")
		}
		return NewOpenAICompatClient(apiKey, model, baseURL), nil
	case "gemini":
		client, err := muxllm.NewGeminiClient(ctx, apiKey, model)
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}

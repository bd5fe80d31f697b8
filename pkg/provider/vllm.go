package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// VLLMInvoker calls a self-hosted vLLM server through its
// OpenAI-compatible endpoint.
type VLLMInvoker struct {
	client openai.Client
	model  string
}

// NewVLLMInvoker creates a vLLM invoker pointed at the given base URL.
func NewVLLMInvoker(baseURL, model string) (*VLLMInvoker, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("vllm base URL is required")
	}
	if model == "" {
		model = "meta-llama/Llama-3.1-70B-Instruct"
	}
	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey("local"), // vLLM ignores the key but the client requires one
	)
	return &VLLMInvoker{client: client, model: model}, nil
}

// Name returns the provider identifier.
func (a *VLLMInvoker) Name() ID {
	return VLLM
}

// Models returns the configured default model.
func (a *VLLMInvoker) Models() []string {
	return []string{a.model}
}

// Invoke sends the conversation to the vLLM server.
func (a *VLLMInvoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	return invokeChatCompletions(ctx, a.client, VLLM, a.model, req)
}

package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIInvoker calls OpenAI models.
type OpenAIInvoker struct {
	client openai.Client
}

// NewOpenAIInvoker creates an OpenAI invoker.
func NewOpenAIInvoker(apiKey string) (*OpenAIInvoker, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	return &OpenAIInvoker{client: openai.NewClient(option.WithAPIKey(apiKey))}, nil
}

// Name returns the provider identifier.
func (a *OpenAIInvoker) Name() ID {
	return OpenAI
}

// Models returns the list of supported OpenAI models, default first.
func (a *OpenAIInvoker) Models() []string {
	return []string{
		"gpt-5.2-thinking",
		"gpt-5.2-instant",
		"gpt-5.2-pro",
	}
}

// Invoke sends the conversation to OpenAI.
func (a *OpenAIInvoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	return invokeChatCompletions(ctx, a.client, OpenAI, a.Models()[0], req)
}

// invokeChatCompletions is shared by every OpenAI-compatible backend.
func invokeChatCompletions(ctx context.Context, client openai.Client, id ID, defaultModel string, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 4096
	}

	var messages []openai.ChatCompletionMessageParamUnion
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(maxTokens),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &Error{Provider: id, Status: apiErr.StatusCode, Err: err}
		}
		return nil, &Error{Provider: id, Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Provider: id, Err: fmt.Errorf("no choices returned")}
	}

	return &Response{
		Content:  resp.Choices[0].Message.Content,
		Model:    model,
		Provider: id,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

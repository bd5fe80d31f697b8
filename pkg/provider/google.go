package provider

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// GoogleInvoker calls Gemini models.
type GoogleInvoker struct {
	client *genai.Client
}

// NewGoogleInvoker creates a Google Gemini invoker.
func NewGoogleInvoker(apiKey string) (*GoogleInvoker, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	return &GoogleInvoker{client: client}, nil
}

// Name returns the provider identifier.
func (a *GoogleInvoker) Name() ID {
	return Google
}

// Models returns the list of supported Gemini models, default first.
func (a *GoogleInvoker) Models() []string {
	return []string{
		"gemini-2.0-pro",
		"gemini-2.0-flash",
	}
}

// Invoke sends the flattened conversation to Gemini.
func (a *GoogleInvoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = a.Models()[0]
	}

	resp, err := a.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt()), nil)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, &Error{Provider: Google, Status: apiErr.Code, Err: err}
		}
		return nil, &Error{Provider: Google, Err: err}
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, &Error{Provider: Google, Err: fmt.Errorf("no candidates returned")}
	}

	var content string
	if resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				content += part.Text
			}
		}
	}

	out := &Response{Content: content, Model: model, Provider: Google}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

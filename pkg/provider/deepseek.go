package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const deepseekBaseURL = "https://api.deepseek.com/v1"

// DeepSeekInvoker calls DeepSeek models over their OpenAI-compatible API.
type DeepSeekInvoker struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type deepseekRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type deepseekResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// NewDeepSeekInvoker creates a DeepSeek invoker.
func NewDeepSeekInvoker(apiKey string) (*DeepSeekInvoker, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepseek API key is required")
	}
	return &DeepSeekInvoker{
		apiKey:     apiKey,
		baseURL:    deepseekBaseURL,
		httpClient: &http.Client{},
	}, nil
}

// Name returns the provider identifier.
func (a *DeepSeekInvoker) Name() ID {
	return DeepSeek
}

// Models returns the list of supported DeepSeek models, default first.
func (a *DeepSeekInvoker) Models() []string {
	return []string{"deepseek-chat", "deepseek-reasoner"}
}

// Invoke sends the conversation to DeepSeek.
func (a *DeepSeekInvoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = a.Models()[0]
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	body, err := json.Marshal(deepseekRequest{
		Model:       model,
		Messages:    req.Messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, &Error{Provider: DeepSeek, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Provider: DeepSeek, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &Error{Provider: DeepSeek, Temporary: true, Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &Error{Provider: DeepSeek, Status: httpResp.StatusCode, Err: err}
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &Error{
			Provider: DeepSeek,
			Status:   httpResp.StatusCode,
			Err:      fmt.Errorf("deepseek API returned %d: %s", httpResp.StatusCode, respBody),
		}
	}

	var parsed deepseekResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &Error{Provider: DeepSeek, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if parsed.Error != nil {
		return nil, &Error{Provider: DeepSeek, Err: fmt.Errorf("deepseek API error: %s", parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &Error{Provider: DeepSeek, Err: fmt.Errorf("no choices returned")}
	}

	return &Response{
		Content:  parsed.Choices[0].Message.Content,
		Model:    model,
		Provider: DeepSeek,
		Usage:    parsed.Usage,
	}, nil
}

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// OllamaInvoker calls a self-hosted Ollama instance.
type OllamaInvoker struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool `json:"done"`
	PromptEvalCount int  `json:"prompt_eval_count"`
	EvalCount       int  `json:"eval_count"`
}

// NewOllamaInvoker creates an Ollama invoker. baseURL and model fall back
// to the local default instance when empty.
func NewOllamaInvoker(baseURL, model string) *OllamaInvoker {
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	if model == "" {
		model = "llama3.1:8b"
	}
	return &OllamaInvoker{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{},
	}
}

// Name returns the provider identifier.
func (a *OllamaInvoker) Name() ID {
	return Ollama
}

// Models returns the configured default model.
func (a *OllamaInvoker) Models() []string {
	return []string{a.model}
}

// Invoke sends the conversation to the local Ollama instance.
func (a *OllamaInvoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = a.model
	}

	body, err := json.Marshal(ollamaChatRequest{Model: model, Messages: req.Messages})
	if err != nil {
		return nil, &Error{Provider: Ollama, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Provider: Ollama, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		// A local instance that is down reads as connection refused;
		// the breaker should treat it like any other transient failure.
		return nil, &Error{Provider: Ollama, Temporary: true, Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &Error{Provider: Ollama, Status: httpResp.StatusCode, Err: err}
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &Error{
			Provider: Ollama,
			Status:   httpResp.StatusCode,
			Err:      fmt.Errorf("ollama API returned %d: %s", httpResp.StatusCode, respBody),
		}
	}

	var parsed ollamaChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &Error{Provider: Ollama, Err: fmt.Errorf("decoding response: %w", err)}
	}

	return &Response{
		Content:  parsed.Message.Content,
		Model:    model,
		Provider: Ollama,
		Usage: Usage{
			PromptTokens:     parsed.PromptEvalCount,
			CompletionTokens: parsed.EvalCount,
			TotalTokens:      parsed.PromptEvalCount + parsed.EvalCount,
		},
	}, nil
}

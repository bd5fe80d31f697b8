package provider

import (
	"context"
	"fmt"
	"sync"
)

// MockInvoker returns deterministic responses for local runs and tests.
// Failures can be scripted per call to exercise breaker and fallback paths.
type MockInvoker struct {
	id              ID
	mu              sync.Mutex
	responses       map[string]string
	defaultResponse string
	echoPrompt      bool
	failures        []error
	calls           int
}

// NewMockInvoker creates a mock invoker that answers as the given provider.
func NewMockInvoker(id ID) *MockInvoker {
	return &MockInvoker{
		id:              id,
		responses:       make(map[string]string),
		defaultResponse: "mock response:",
		echoPrompt:      true,
	}
}

// RespondWith registers a canned response for an exact prompt.
func (a *MockInvoker) RespondWith(prompt, response string) *MockInvoker {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.responses[prompt] = response
	return a
}

// SetDefaultResponse overrides the fallback response text. Unlike the
// built-in default, an explicit response is returned verbatim without the
// prompt echoed back.
func (a *MockInvoker) SetDefaultResponse(response string) *MockInvoker {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.defaultResponse = response
	a.echoPrompt = false
	return a
}

// FailWith queues errors returned by subsequent calls, in order. Once
// the queue drains, calls succeed again.
func (a *MockInvoker) FailWith(errs ...error) *MockInvoker {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures = append(a.failures, errs...)
	return a
}

// Calls reports how many invocations were attempted.
func (a *MockInvoker) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Name returns the provider identifier the mock impersonates.
func (a *MockInvoker) Name() ID {
	return a.id
}

// Models returns the mock model list.
func (a *MockInvoker) Models() []string {
	return []string{"mock-1"}
}

// Invoke returns a scripted failure if one is queued, otherwise a
// deterministic response for the prompt.
func (a *MockInvoker) Invoke(_ context.Context, req Request) (*Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++

	if len(a.failures) > 0 {
		err := a.failures[0]
		a.failures = a.failures[1:]
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = "mock-1"
	}
	prompt := req.Prompt()
	content, ok := a.responses[prompt]
	if !ok {
		content = a.defaultResponse
		if a.echoPrompt {
			content = fmt.Sprintf("%s\n%s", content, prompt)
		}
	}
	return &Response{Content: content, Model: model, Provider: a.id}, nil
}

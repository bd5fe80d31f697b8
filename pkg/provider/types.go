package provider

// ID identifies a backend in the closed provider set.
type ID string

// The full provider set. Configuration referencing any other identifier is
// rejected when the registry is built, not at call time.
const (
	Anthropic ID = "anthropic"
	OpenAI    ID = "openai"
	Google    ID = "google"
	DeepSeek  ID = "deepseek"
	Ollama    ID = "ollama"
	VLLM      ID = "vllm"
)

// All lists every known provider in cost order, cheapest last.
func All() []ID {
	return []ID{Anthropic, OpenAI, Google, DeepSeek, Ollama, VLLM}
}

// Parse validates a provider identifier.
func Parse(s string) (ID, bool) {
	id := ID(s)
	switch id {
	case Anthropic, OpenAI, Google, DeepSeek, Ollama, VLLM:
		return id, true
	}
	return "", false
}

// Local reports whether the provider is self-hosted. Local backends get
// shorter recovery timeouts and a low-patience retry policy.
func (id ID) Local() bool {
	return id == Ollama || id == VLLM
}

// CostRank orders providers by relative per-token cost, 0 cheapest.
// Self-hosted backends are effectively free; cloud vendors rank by list price.
func (id ID) CostRank() int {
	switch id {
	case Ollama:
		return 0
	case VLLM:
		return 1
	case DeepSeek:
		return 2
	case Google:
		return 3
	case OpenAI:
		return 4
	case Anthropic:
		return 5
	default:
		return 6
	}
}

// Message is one turn of a normalized conversation.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// Request is the normalized request every invoker accepts.
type Request struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"` // empty means the invoker's default
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Prompt flattens the conversation into a single text block for backends
// that judge content rather than continue it.
func (r Request) Prompt() string {
	var out string
	for i, m := range r.Messages {
		if i > 0 {
			out += "\n"
		}
		out += m.Content
	}
	return out
}

// Usage captures normalized token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the normalized reply from one invocation.
type Response struct {
	Content    string  `json:"content"`
	Model      string  `json:"model"`
	Provider   ID      `json:"provider"`
	Usage      Usage   `json:"usage"`
	Confidence float64 `json:"confidence,omitempty"` // self-reported, 0 when absent
}

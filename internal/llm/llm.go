package llm

import (
	"context"
	"encoding/json"
	"iter"
	"strings"
)

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// Message is one chat message. When Parts is set it is sent as the
// multi-part content array used by vision models and Content is ignored.
type Message struct {
	Role    string
	Content string
	Parts   []ContentPart
}

func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Parts) > 0 {
		return json.Marshal(struct {
			Role    string        `json:"role"`
			Content []ContentPart `json:"content"`
		}{Role: m.Role, Content: m.Parts})
	}
	return json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{Role: m.Role, Content: m.Content})
}

func SystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// Completion is the result of a non-streaming call, or the folded result of a stream.
type Completion struct {
	Content          string
	ReasoningContent string
}

// Delta is one incremental streaming chunk.
type Delta struct {
	Content          string
	ReasoningContent string
}

// ChatClient is what the resolvers and the pipeline need from a model endpoint.
type ChatClient interface {
	Create(ctx context.Context, messages []Message) (Completion, error)
	Stream(ctx context.Context, messages []Message) iter.Seq2[Delta, error]
	Model() string
}

type Config struct {
	Provider string
	Endpoint string
	Token    string
	Model    string
}

// Configured reports whether the config carries enough to issue requests.
func (c Config) Configured() bool {
	return strings.TrimSpace(c.Token) != "" && strings.TrimSpace(c.Model) != ""
}

var providerEndpoints = map[string]string{
	"openai":      "https://api.openai.com/v1",
	"deepseek":    "https://api.deepseek.com/v1",
	"siliconflow": "https://api.siliconflow.cn/v1",
	"openrouter":  "https://openrouter.ai/api/v1",
	"ollama":      "http://localhost:11434/v1",
}

// NewClient builds a Client for the configured provider. An empty provider
// or "custom" requires an explicit endpoint.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "custom":
		if strings.TrimSpace(cfg.Endpoint) == "" {
			return nil, ErrUnsupportedProvider{Provider: cfg.Provider}
		}
		return newClient(cfg, opts...), nil
	default:
		fallback, ok := providerEndpoints[provider]
		if !ok {
			return nil, ErrUnsupportedProvider{Provider: cfg.Provider}
		}
		cfg.Endpoint = defaultIfEmpty(cfg.Endpoint, fallback)
		return newClient(cfg, opts...), nil
	}
}

func defaultIfEmpty(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// Package llm normalizes the supported model providers behind one small
// client interface: send messages, get text and usage back, buffered or
// streamed. Vendor tool-calling is deliberately not used; the agent's control
// flow lives in the structured tags of the response text.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glowlab/deskagent/internal/chat"
)

// networkTimeout bounds every provider HTTP call. It is distinct from the
// tool confirmation timeout.
const networkTimeout = 45 * time.Second

// ModelConfig selects and parameterizes a provider model. Validated before
// any network call.
type ModelConfig struct {
	Provider         string  `json:"provider"`
	ModelID          string  `json:"model_id"`
	APIKey           string  `json:"api_key"`
	BaseURL          string  `json:"base_url,omitempty"`
	Temperature      float64 `json:"temperature,omitempty"`
	TopP             float64 `json:"top_p,omitempty"`
	MaxOutputTokens  int     `json:"max_output_tokens,omitempty"`
	MaxContextTokens int     `json:"max_context_tokens,omitempty"`
	FrequencyPenalty float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64 `json:"presence_penalty,omitempty"`
}

// Validate checks the config for the chosen provider.
func (c ModelConfig) Validate() error {
	if strings.TrimSpace(c.ModelID) == "" {
		return fmt.Errorf("model id is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Provider)) {
	case "openai", "anthropic", "google":
		if strings.TrimSpace(c.APIKey) == "" {
			return fmt.Errorf("provider %s requires an api key", c.Provider)
		}
	case "openai-compatible", "local":
		if strings.TrimSpace(c.BaseURL) == "" {
			return fmt.Errorf("provider %s requires a base url", c.Provider)
		}
	case "":
		return fmt.Errorf("provider is required")
	default:
		return fmt.Errorf("unsupported provider %q", c.Provider)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature %v out of range [0, 2]", c.Temperature)
	}
	if c.TopP < 0 || c.TopP > 1 {
		return fmt.Errorf("top_p %v out of range [0, 1]", c.TopP)
	}
	if c.MaxContextTokens < 0 || c.MaxOutputTokens < 0 {
		return fmt.Errorf("token limits must be non-negative")
	}
	return nil
}

// Request is one model invocation.
type Request struct {
	SystemPrompt string
	Messages     []chat.Message
}

// Usage reports token consumption when the provider supplies it.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Result is the normalized provider response.
type Result struct {
	Text  string
	Usage *Usage
}

// Client is implemented once per provider family.
type Client interface {
	// Complete sends a buffered request.
	Complete(ctx context.Context, req *Request) (*Result, error)
	// Stream sends a streaming request, invoking onChunk for every text
	// delta; the full result is returned after the stream ends.
	Stream(ctx context.Context, req *Request, onChunk func(chunk string) error) (*Result, error)
	// ModelID returns the configured model identifier.
	ModelID() string
}

// ProviderError marks transport or HTTP failures from a provider. These are
// terminal for the current turn; the reasoning loop does not retry them.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewClient builds the adapter for the configured provider. Local and
// OpenAI-compatible endpoints share the OpenAI adapter, pointed at their
// base URL.
func NewClient(cfg ModelConfig) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai", "openai-compatible", "local":
		return newOpenAIClient(cfg), nil
	case "anthropic":
		return newAnthropicClient(cfg), nil
	case "google":
		return newGoogleClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}

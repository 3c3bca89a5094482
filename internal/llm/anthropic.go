package llm

import (
	"context"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/glowlab/deskagent/internal/chat"
)

const defaultAnthropicMaxTokens = 4096

type anthropicClient struct {
	client anthropic.Client
	cfg    ModelConfig
}

func newAnthropicClient(cfg ModelConfig) *anthropicClient {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(&http.Client{Timeout: networkTimeout}),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return &anthropicClient{client: anthropic.NewClient(opts...), cfg: cfg}
}

func (c *anthropicClient) ModelID() string { return c.cfg.ModelID }

func (c *anthropicClient) buildParams(req *Request) anthropic.MessageNewParams {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case chat.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		case chat.RoleTool:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock("Observation:\n"+msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	maxTokens := c.cfg.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.ModelID),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if sys := strings.TrimSpace(req.SystemPrompt); sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}
	if c.cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(c.cfg.Temperature)
	}
	if c.cfg.TopP > 0 {
		params.TopP = anthropic.Float(c.cfg.TopP)
	}
	return params
}

func (c *anthropicClient) Complete(ctx context.Context, req *Request) (*Result, error) {
	msg, err := c.client.Messages.New(ctx, c.buildParams(req))
	if err != nil {
		return nil, &ProviderError{Provider: "anthropic", Err: err}
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}

	return &Result{
		Text: text.String(),
		Usage: &Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}, nil
}

func (c *anthropicClient) Stream(ctx context.Context, req *Request, onChunk func(string) error) (*Result, error) {
	stream := c.client.Messages.NewStreaming(ctx, c.buildParams(req))
	defer stream.Close()

	accumulated := anthropic.Message{}
	var text strings.Builder
	for stream.Next() {
		event := stream.Current()
		if err := accumulated.Accumulate(event); err != nil {
			return nil, &ProviderError{Provider: "anthropic", Err: err}
		}

		deltaEvent, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		textDelta, ok := deltaEvent.Delta.AsAny().(anthropic.TextDelta)
		if !ok || textDelta.Text == "" {
			continue
		}
		text.WriteString(textDelta.Text)
		if err := onChunk(textDelta.Text); err != nil {
			return nil, err
		}
	}
	if err := stream.Err(); err != nil {
		return nil, &ProviderError{Provider: "anthropic", Err: err}
	}

	return &Result{
		Text: text.String(),
		Usage: &Usage{
			InputTokens:  accumulated.Usage.InputTokens,
			OutputTokens: accumulated.Usage.OutputTokens,
		},
	}, nil
}

package llm

import (
	"context"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/glowlab/deskagent/internal/chat"
)

// openAIClient serves the OpenAI API and any OpenAI-compatible endpoint
// (local inference servers included) via the official SDK.
type openAIClient struct {
	client openai.Client
	cfg    ModelConfig
}

func newOpenAIClient(cfg ModelConfig) *openAIClient {
	opts := []option.RequestOption{
		option.WithHTTPClient(&http.Client{Timeout: networkTimeout}),
	}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return &openAIClient{client: openai.NewClient(opts...), cfg: cfg}
}

func (c *openAIClient) ModelID() string { return c.cfg.ModelID }

func (c *openAIClient) buildParams(req *Request) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if sys := strings.TrimSpace(req.SystemPrompt); sys != "" {
		messages = append(messages, openai.SystemMessage(sys))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case chat.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case chat.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		case chat.RoleTool:
			// Tool observations travel as user text; vendor tool-call
			// plumbing is not used.
			messages = append(messages, openai.UserMessage("Observation:\n"+msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.cfg.ModelID),
		Messages: messages,
	}
	if c.cfg.MaxOutputTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.cfg.MaxOutputTokens))
	}
	if c.cfg.Temperature > 0 {
		params.Temperature = openai.Float(c.cfg.Temperature)
	}
	if c.cfg.TopP > 0 {
		params.TopP = openai.Float(c.cfg.TopP)
	}
	if c.cfg.FrequencyPenalty != 0 {
		params.FrequencyPenalty = openai.Float(c.cfg.FrequencyPenalty)
	}
	if c.cfg.PresencePenalty != 0 {
		params.PresencePenalty = openai.Float(c.cfg.PresencePenalty)
	}
	return params
}

func (c *openAIClient) Complete(ctx context.Context, req *Request) (*Result, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.buildParams(req))
	if err != nil {
		return nil, &ProviderError{Provider: "openai", Err: err}
	}

	result := &Result{
		Usage: &Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if len(resp.Choices) > 0 {
		result.Text = resp.Choices[0].Message.Content
	}
	return result, nil
}

func (c *openAIClient) Stream(ctx context.Context, req *Request, onChunk func(string) error) (*Result, error) {
	params := c.buildParams(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var text strings.Builder
	var usage *Usage
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.TotalTokens > 0 {
			usage = &Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		text.WriteString(delta)
		if err := onChunk(delta); err != nil {
			return nil, err
		}
	}
	if err := stream.Err(); err != nil {
		return nil, &ProviderError{Provider: "openai", Err: err}
	}

	return &Result{Text: text.String(), Usage: usage}, nil
}

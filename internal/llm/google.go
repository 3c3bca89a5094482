package llm

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/glowlab/deskagent/internal/chat"
)

type googleClient struct {
	client *genai.Client
	cfg    ModelConfig
}

func newGoogleClient(cfg ModelConfig) (*googleClient, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:     strings.TrimSpace(cfg.APIKey),
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: networkTimeout},
	})
	if err != nil {
		return nil, &ProviderError{Provider: "google", Err: err}
	}
	return &googleClient{client: client, cfg: cfg}, nil
}

func (c *googleClient) ModelID() string { return c.cfg.ModelID }

func (c *googleClient) buildRequest(req *Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case chat.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		case chat.RoleTool:
			contents = append(contents, genai.NewContentFromText("Observation:\n"+msg.Content, genai.RoleUser))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}

	cfg := &genai.GenerateContentConfig{}
	if sys := strings.TrimSpace(req.SystemPrompt); sys != "" {
		cfg.SystemInstruction = genai.NewContentFromText(sys, genai.RoleUser)
	}
	if c.cfg.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(c.cfg.Temperature))
	}
	if c.cfg.TopP > 0 {
		cfg.TopP = genai.Ptr(float32(c.cfg.TopP))
	}
	if c.cfg.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(c.cfg.MaxOutputTokens)
	}
	return contents, cfg
}

func (c *googleClient) Complete(ctx context.Context, req *Request) (*Result, error) {
	contents, cfg := c.buildRequest(req)

	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.ModelID, contents, cfg)
	if err != nil {
		return nil, &ProviderError{Provider: "google", Err: err}
	}

	result := &Result{Text: collectText(resp)}
	if resp.UsageMetadata != nil {
		result.Usage = &Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return result, nil
}

func (c *googleClient) Stream(ctx context.Context, req *Request, onChunk func(string) error) (*Result, error) {
	contents, cfg := c.buildRequest(req)

	var text strings.Builder
	var usage *Usage
	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.cfg.ModelID, contents, cfg) {
		if err != nil {
			return nil, &ProviderError{Provider: "google", Err: err}
		}
		if resp.UsageMetadata != nil {
			usage = &Usage{
				InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
			}
		}
		chunk := collectText(resp)
		if chunk == "" {
			continue
		}
		text.WriteString(chunk)
		if err := onChunk(chunk); err != nil {
			return nil, err
		}
	}

	return &Result{Text: text.String(), Usage: usage}, nil
}

func collectText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

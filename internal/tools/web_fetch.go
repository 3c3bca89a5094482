package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/glowlab/deskagent/internal/htmlconv"
	"github.com/glowlab/deskagent/internal/logger"
)

const (
	webFetchDefaultTimeout = 30 * time.Second
	// 1MB cap so a large page cannot overwhelm the observation.
	webFetchMaxBodyBytes = 1_000_000
)

// WebFetchTool performs an HTTP GET and returns the page as markdown.
type WebFetchTool struct {
	client *http.Client
}

func NewWebFetchTool(client *http.Client) *WebFetchTool {
	if client == nil {
		client = &http.Client{Timeout: webFetchDefaultTimeout}
	}
	return &WebFetchTool{client: client}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch the content of a web page via HTTP GET. HTML pages are converted to markdown."
}

func (t *WebFetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "URL to fetch (http or https)",
			},
		},
		"required": []any{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, params map[string]any) *Result {
	rawURL := strings.TrimSpace(GetStringParam(params, "url", ""))
	if rawURL == "" {
		return Errorf("url is required")
	}

	reqURL, err := normalizeFetchURL(rawURL)
	if err != nil {
		return Errorf("invalid url: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return Errorf("build request: %v", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := t.client.Do(req)
	if err != nil {
		return Errorf("fetch %s: %v", reqURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, webFetchMaxBodyBytes))
	if err != nil {
		return Errorf("read response from %s: %v", reqURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Errorf("fetch %s: HTTP %d", reqURL, resp.StatusCode)
	}

	content, converted := htmlconv.ConvertIfHTML(string(body))
	if converted {
		logger.Debug("web_fetch converted %s to markdown", reqURL)
	}

	return &Result{Data: map[string]any{
		"url":          reqURL.String(),
		"status":       resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"content":      content,
	}}
}

func normalizeFetchURL(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host")
	}
	return u, nil
}

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/glowlab/deskagent/internal/logger"
	"github.com/glowlab/deskagent/internal/tools"
)

const (
	mcpProtocolVersion = "2024-11-05"
	wsHandshakeTimeout = 15 * time.Second
	wsCallTimeout      = 60 * time.Second
)

// WSConnection speaks the MCP JSON-RPC protocol over a websocket. Requests
// are serialized on the connection; tool calls within a plan run
// sequentially anyway, so a single in-flight RPC is enough.
type WSConnection struct {
	url  string
	log  *logger.Logger
	mu   sync.Mutex
	conn *websocket.Conn
	seq  int64
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// DialWS connects to an MCP server over websocket and performs the
// initialize handshake.
func DialWS(ctx context.Context, rawURL string) (*WSConnection, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}

	c := &WSConnection{
		url:  u.String(),
		conn: conn,
		log:  logger.WithPrefix("mcp-ws"),
	}

	initParams := map[string]any{
		"protocolVersion": mcpProtocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"clientInfo": map[string]any{
			"name":    "deskagent",
			"version": "1.0",
		},
	}
	if _, err := c.call(ctx, "initialize", initParams); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if err := c.notify("notifications/initialized", nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialized notification: %w", err)
	}

	c.log.Debug("connected to %s", c.url)
	return c, nil
}

func (c *WSConnection) ServerType() string { return "websocket" }

// Describe lists the server's tools via tools/list.
func (c *WSConnection) Describe(ctx context.Context) ([]tools.Descriptor, error) {
	raw, err := c.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}

	var result struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tools/list result: %w", err)
	}

	descriptors := make([]tools.Descriptor, 0, len(result.Tools))
	for _, t := range result.Tools {
		descriptors = append(descriptors, tools.Descriptor{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}
	return descriptors, nil
}

// CallTool executes tools/call and flattens the content blocks of the
// response into text.
func (c *WSConnection) CallTool(ctx context.Context, toolName string, params map[string]any) (any, error) {
	raw, err := c.call(ctx, "tools/call", map[string]any{
		"name":      toolName,
		"arguments": params,
	})
	if err != nil {
		return nil, err
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tools/call result: %w", err)
	}

	var parts []string
	for _, block := range result.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	text := strings.Join(parts, "\n")

	if result.IsError {
		if text == "" {
			text = "tool reported an error without details"
		}
		return nil, fmt.Errorf("%s", text)
	}
	return text, nil
}

// Close shuts the websocket down.
func (c *WSConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// call performs one JSON-RPC round trip, skipping any server-initiated
// notifications that arrive before the matching response.
func (c *WSConnection) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, fmt.Errorf("connection closed")
	}

	c.seq++
	req := rpcRequest{JSONRPC: "2.0", ID: c.seq, Method: method, Params: params}

	deadline := time.Now().Add(wsCallTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	_ = c.conn.SetReadDeadline(deadline)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var resp rpcResponse
		if err := c.conn.ReadJSON(&resp); err != nil {
			return nil, fmt.Errorf("read %s response: %w", method, err)
		}
		if resp.ID != req.ID {
			c.log.Debug("skipping unsolicited message while waiting for %s", method)
			continue
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

// notify sends a JSON-RPC notification (no response expected).
func (c *WSConnection) notify(method string, params any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("connection closed")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsHandshakeTimeout))
	return c.conn.WriteJSON(rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
}

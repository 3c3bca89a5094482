// Package chat defines the conversation entities shared across the agent
// runtime: messages, tool call records and reasoning trace entries. All of
// them are treated as immutable once appended to a log.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Origin identifies where a tool is implemented.
type Origin string

const (
	// OriginSystem marks tools implemented by the host process itself.
	OriginSystem Origin = "system"
	// OriginMCP marks tools exposed by an external tool server session.
	OriginMCP Origin = "mcp"
)

// SystemSessionID is the synthetic session every system tool is bound to.
const SystemSessionID = "system"

// Message is one entry of the append-only conversation log.
type Message struct {
	ID             string           `json:"id"`
	Role           Role             `json:"role"`
	Content        string           `json:"content"`
	Timestamp      time.Time        `json:"timestamp"`
	ToolCalls      []ToolCallRecord `json:"tool_calls,omitempty"`
	ReasoningTrace []TraceEntry     `json:"reasoning_trace,omitempty"`
	CostEstimate   float64          `json:"cost_estimate,omitempty"`
	DurationMs     int64            `json:"duration_ms,omitempty"`
	// IsError marks messages that report a failure; the context selector
	// penalizes them during history selection.
	IsError bool `json:"is_error,omitempty"`
}

// NewMessage creates a message with a fresh id and the current timestamp.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// ToolCallRecord captures one dispatched tool call. It is created at dispatch
// time and finalized exactly once when the call completes; afterwards it is
// never mutated.
type ToolCallRecord struct {
	ID         string         `json:"id"`
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	SessionID  string         `json:"session_id"`
	Origin     Origin         `json:"origin"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	Success    bool           `json:"success"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Session describes one live connection to an external tool server. The
// connection itself is owned by the session manager; the rest of the runtime
// references sessions by id only.
type Session struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	ServerType  string `json:"server_type"`
	ToolCount   int    `json:"tool_count"`
}

// TraceKind tags one reasoning trace entry.
type TraceKind string

const (
	TraceThought       TraceKind = "thought"
	TraceActionPlan    TraceKind = "action_plan"
	TraceActionResult  TraceKind = "action_result"
	TraceObservation   TraceKind = "observation"
	TraceReasoning     TraceKind = "reasoning"
	TraceErrorRecovery TraceKind = "error_recovery"
)

// TraceEntry is one append-only entry of a reasoning trace, scoped to a
// single engine invocation.
type TraceEntry struct {
	Kind      TraceKind `json:"kind"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Package tools implements the system tool registry and the resolver that
// binds requested tool names to executable targets, either a locally
// registered tool or an MCP tool owned by an external session.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/glowlab/deskagent/internal/chat"
)

// Descriptor is the static specification of a tool: its name, a description
// for the model, and a JSON schema for its parameters. MCP descriptors carry
// the id of the session that owns them; system descriptors use the synthetic
// system session.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Origin      chat.Origin    `json:"origin"`
	SessionID   string         `json:"session_id"`
}

// Tool is a locally implemented tool: a descriptor plus an executor.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, params map[string]any) *Result
}

// Result is the outcome of one tool execution. Data holds the payload on
// success; Error is non-empty on failure. System tools and MCP tools produce
// different raw shapes, both are normalized into this form at the dispatch
// boundary.
type Result struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Success reports whether the execution produced a usable result.
func (r *Result) Success() bool { return r != nil && r.Error == "" }

// Render produces a text form of the result suitable for feeding back into
// the model as an observation.
func (r *Result) Render() string {
	if r == nil {
		return ""
	}
	if r.Error != "" {
		return "error: " + r.Error
	}
	switch v := r.Data.(type) {
	case nil:
		return "(no output)"
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// Errorf builds a failed result.
func Errorf(format string, args ...any) *Result {
	return &Result{Error: fmt.Sprintf(format, args...)}
}

// Registry holds the process-local system tools. It is safe for concurrent
// use; registration normally happens once at startup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty system tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool of the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get retrieves a tool by exact name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Descriptors returns the descriptors of all registered tools, sorted by
// name, each bound to the synthetic system session.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, Descriptor{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
			Origin:      chat.OriginSystem,
			SessionID:   chat.SystemSessionID,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke executes a registered tool. Parameters are validated against the
// tool's schema first; a validation failure is an execution failure, not a
// resolution failure.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]any) *Result {
	tool, ok := r.Get(name)
	if !ok {
		return Errorf("tool not found: %s", name)
	}
	if err := ValidateParams(tool.Parameters(), params); err != nil {
		return Errorf("invalid parameters for %s: %v", name, err)
	}
	res := tool.Execute(ctx, params)
	if res == nil {
		return Errorf("tool %s returned no result", name)
	}
	return res
}

// GetStringParam reads a string parameter with a default.
func GetStringParam(params map[string]any, key, defaultVal string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetIntParam reads an int parameter with a default, tolerating the float64
// and json.Number forms JSON decoding produces.
func GetIntParam(params map[string]any, key string, defaultVal int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return int(i)
			}
		}
	}
	return defaultVal
}

// GetBoolParam reads a bool parameter with a default.
func GetBoolParam(params map[string]any, key string, defaultVal bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

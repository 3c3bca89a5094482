package parser

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Call is one requested tool invocation inside an action plan.
type Call struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
}

// PlanError reports an action plan payload that could not be understood.
type PlanError struct {
	Payload string
	Message string
}

func (e *PlanError) Error() string {
	return e.Message + ": " + truncateForError(e.Payload, 200)
}

// ParseActionPlan decodes an <ACTION> payload into tool calls. It accepts a
// single call {"tool": ..., "parameters": {...}} or a multi-call plan
// {"tool_calls": [...]} (with "tools" as an alias); "name"/"args" are
// tolerated as field aliases since models routinely drift on key names.
// Markdown fences and surrounding prose are stripped before decoding.
func ParseActionPlan(payload string) ([]Call, error) {
	cleaned := cleanJSONPayload(payload)
	if cleaned == "" {
		return nil, &PlanError{Payload: payload, Message: "empty action plan"}
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		// Last resort: the outermost brace pair.
		start := strings.Index(cleaned, "{")
		end := strings.LastIndex(cleaned, "}")
		if start < 0 || end <= start {
			return nil, &PlanError{Payload: payload, Message: "action plan is not a JSON object"}
		}
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &raw); err != nil {
			return nil, &PlanError{Payload: payload, Message: "could not decode action plan"}
		}
	}

	list, ok := raw["tool_calls"].([]any)
	if !ok {
		list, ok = raw["tools"].([]any)
	}
	if ok {
		calls := make([]Call, 0, len(list))
		for i, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, &PlanError{Payload: payload, Message: fmt.Sprintf("call %d is not an object", i)}
			}
			call, err := callFromObject(m)
			if err != nil {
				return nil, &PlanError{Payload: payload, Message: fmt.Sprintf("call %d: %v", i, err)}
			}
			calls = append(calls, call)
		}
		if len(calls) == 0 {
			return nil, &PlanError{Payload: payload, Message: "action plan names no tools"}
		}
		return calls, nil
	}

	call, err := callFromObject(raw)
	if err != nil {
		return nil, &PlanError{Payload: payload, Message: err.Error()}
	}
	return []Call{call}, nil
}

func callFromObject(m map[string]any) (Call, error) {
	name, _ := m["tool"].(string)
	if name == "" {
		name, _ = m["name"].(string)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Call{}, fmt.Errorf("missing tool name")
	}

	params, _ := m["parameters"].(map[string]any)
	if params == nil {
		params, _ = m["args"].(map[string]any)
	}
	if params == nil {
		params = map[string]any{}
	}
	return Call{Tool: name, Parameters: params}, nil
}

// cleanJSONPayload removes markdown code fences and surrounding whitespace
// commonly wrapped around JSON by models.
func cleanJSONPayload(payload string) string {
	s := strings.TrimSpace(payload)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncateForError(value string, limit int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit]) + "..."
}

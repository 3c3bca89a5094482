package orchestrator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/glowlab/deskagent/internal/chat"
	"github.com/glowlab/deskagent/internal/tools"
)

const basePrompt = `You are a helpful assistant embedded in a desktop chat application.

When you need a tool, respond with your reasoning in a <REASONING> tag and the
tool request in an <ACTION> tag containing JSON:
<ACTION>{"tool_calls":[{"tool":"<name>","parameters":{...}}]}</ACTION>
After each action you receive an observation with the tool output.

When you can answer directly, put the answer in a <FINAL_ANSWER> tag. Never
emit <ACTION> and rely on its result in the same response.`

// buildSystemPrompt assembles the turn's system prompt. System tools and
// external session tools are listed in separate sections so the model can
// tell their provenance apart.
func buildSystemPrompt(registry *tools.Registry, sessions tools.SessionDirectory) string {
	var sb strings.Builder
	sb.WriteString(basePrompt)

	systemTools := registry.Descriptors()
	if len(systemTools) > 0 {
		sb.WriteString("\n\n## Built-in tools\n")
		for _, desc := range systemTools {
			writeToolLine(&sb, desc)
		}
	}

	if sessions != nil {
		enabled := make(map[string]chat.Session)
		for _, sess := range sessions.EnabledSessions() {
			enabled[sess.ID] = sess
		}
		bySession := make(map[string][]tools.Descriptor)
		for _, desc := range sessions.Descriptors() {
			if _, ok := enabled[desc.SessionID]; ok {
				bySession[desc.SessionID] = append(bySession[desc.SessionID], desc)
			}
		}

		ids := make([]string, 0, len(bySession))
		for id := range bySession {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			sess := enabled[id]
			name := sess.DisplayName
			if name == "" {
				name = sess.ID
			}
			fmt.Fprintf(&sb, "\n\n## External tools (%s)\n", name)
			for _, desc := range bySession[id] {
				writeToolLine(&sb, desc)
			}
		}
	}

	if len(systemTools) == 0 && sessions == nil {
		sb.WriteString("\n\nNo tools are available; answer from your own knowledge.")
	}

	return sb.String()
}

func writeToolLine(sb *strings.Builder, desc tools.Descriptor) {
	fmt.Fprintf(sb, "- %s: %s", desc.Name, desc.Description)
	if len(desc.Parameters) > 0 {
		if schema, err := json.Marshal(desc.Parameters); err == nil {
			fmt.Fprintf(sb, "\n  parameters: %s", schema)
		}
	}
	sb.WriteString("\n")
}

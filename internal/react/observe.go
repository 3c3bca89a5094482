package react

import (
	"fmt"
	"strings"

	"github.com/muesli/reflow/wordwrap"

	"github.com/glowlab/deskagent/internal/chat"
)

const (
	observationWrapWidth = 100
	// maxObservationRunes bounds a single tool output inside an observation
	// so one verbose tool cannot crowd out the rest of the turn.
	maxObservationRunes = 4000
)

// callResult pairs a finalized tool call record with its rendered output.
type callResult struct {
	record   chat.ToolCallRecord
	rendered string
}

// renderObservation formats the outcome of one action plan as the observation
// fed back to the model. Skipped and failed calls are reported in place so
// the ordering matches the plan.
func renderObservation(results []callResult) string {
	var sb strings.Builder
	sb.WriteString("Observation:\n")
	for i, res := range results {
		if len(results) > 1 {
			fmt.Fprintf(&sb, "[%d] %s:\n", i+1, res.record.ToolName)
		} else {
			fmt.Fprintf(&sb, "%s:\n", res.record.ToolName)
		}

		switch {
		case strings.HasPrefix(res.record.Error, "skipped:"):
			sb.WriteString(res.record.Error)
		case !res.record.Success:
			sb.WriteString("error: " + res.record.Error)
		default:
			sb.WriteString(clipRunes(res.rendered, maxObservationRunes))
		}
		sb.WriteString("\n")
	}
	return wordwrap.String(strings.TrimRight(sb.String(), "\n"), observationWrapWidth)
}

// renderHistorySummary condenses the turn's trace and tool calls for the
// forced summary prompt.
func renderHistorySummary(trace []chat.TraceEntry, calls []chat.ToolCallRecord) string {
	var sb strings.Builder
	if len(calls) > 0 {
		sb.WriteString("Tools used this turn:\n")
		for _, call := range calls {
			status := "ok"
			if call.Error != "" {
				status = call.Error
			}
			fmt.Fprintf(&sb, "- %s (%s)\n", call.ToolName, status)
		}
		sb.WriteString("\n")
	}
	for _, entry := range trace {
		if entry.Kind != chat.TraceObservation && entry.Kind != chat.TraceActionResult {
			continue
		}
		sb.WriteString(clipRunes(entry.Content, 800))
		sb.WriteString("\n")
	}
	return sb.String()
}

func clipRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "\n[... truncated ...]"
}

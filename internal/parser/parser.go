// Package parser extracts the structured segments of a model response. The
// model encodes control flow as embedded markup (<REASONING>, <ACTION>,
// <FINAL_ANSWER>); the parser treats that as a tagged union with a tolerant
// grammar: closed tags first, then best-effort partial matches for streamed
// output, then heading-based fallbacks for models that ignore the protocol.
package parser

import (
	"strings"
)

const (
	TagReasoning   = "REASONING"
	TagAction      = "ACTION"
	TagFinalAnswer = "FINAL_ANSWER"
)

// Parsed is the result of splitting a model response. Empty fields mean the
// segment was absent. ActionPlan holds the raw payload of the <ACTION> tag;
// whenever it is non-empty, FinalAnswer is empty regardless of any
// <FINAL_ANSWER> tag in the same text.
type Parsed struct {
	Reasoning   string
	FinalAnswer string
	ActionPlan  string
	// Partial is true when any segment was recovered from an unterminated
	// tag, i.e. the response is still streaming.
	Partial bool
}

// HasAction reports whether the response requests tool execution.
func (p Parsed) HasAction() bool { return p.ActionPlan != "" }

// HasFinalAnswer reports whether the response carries a final answer.
func (p Parsed) HasFinalAnswer() bool { return p.FinalAnswer != "" }

// Parse splits a complete or partially streamed response into its segments.
func Parse(text string) Parsed {
	var out Parsed

	reasoning, rPartial, rFound := extractTag(text, TagReasoning)
	action, aPartial, aFound := extractTag(text, TagAction)
	answer, fPartial, fFound := extractTag(text, TagFinalAnswer)

	out.Reasoning = strings.TrimSpace(reasoning)
	out.Partial = rPartial || aPartial || fPartial

	if aFound {
		// An action always wins: the turn needs more work even if the
		// model also emitted a premature final answer.
		out.ActionPlan = strings.TrimSpace(action)
		return out
	}

	if fFound {
		out.FinalAnswer = strings.TrimSpace(answer)
		return out
	}

	if rFound {
		// Reasoning-only response, still streaming or the model stopped
		// mid-protocol. Nothing actionable yet.
		return out
	}

	// No tags at all. Try heading-based splitting before giving up.
	if reasoning, answer, ok := splitByHeading(text); ok {
		out.Reasoning = strings.TrimSpace(reasoning)
		out.FinalAnswer = strings.TrimSpace(answer)
		return out
	}

	out.Reasoning = "Responded directly without structured reasoning."
	out.FinalAnswer = strings.TrimSpace(text)
	return out
}

// Render produces the canonical tagged form of a parsed response. Rendering
// then re-parsing recovers the same reasoning/answer/action split.
func Render(p Parsed) string {
	var sb strings.Builder
	if p.Reasoning != "" {
		sb.WriteString("<" + TagReasoning + ">")
		sb.WriteString(p.Reasoning)
		sb.WriteString("</" + TagReasoning + ">")
	}
	if p.ActionPlan != "" {
		sb.WriteString("<" + TagAction + ">")
		sb.WriteString(p.ActionPlan)
		sb.WriteString("</" + TagAction + ">")
		return sb.String()
	}
	if p.FinalAnswer != "" {
		sb.WriteString("<" + TagFinalAnswer + ">")
		sb.WriteString(p.FinalAnswer)
		sb.WriteString("</" + TagFinalAnswer + ">")
	}
	return sb.String()
}

// extractTag returns the content of <tag>...</tag>. If the tag is open but
// unterminated, it returns everything up to the next tag boundary or end of
// buffer and reports partial=true.
func extractTag(text, tag string) (content string, partial bool, found bool) {
	open := "<" + tag + ">"
	close := "</" + tag + ">"

	start := strings.Index(text, open)
	if start == -1 {
		return "", false, false
	}
	rest := text[start+len(open):]

	if end := strings.Index(rest, close); end != -1 {
		return rest[:end], false, true
	}

	// Streaming case: stop at the next tag boundary so partial content
	// doesn't swallow a sibling segment. Literal '<' in prose is skipped.
	for from := 0; ; {
		next := strings.Index(rest[from:], "<")
		if next == -1 {
			break
		}
		pos := from + next
		if isKnownTagBoundary(rest[pos:]) {
			return rest[:pos], true, true
		}
		from = pos + 1
	}
	return rest, true, true
}

func isKnownTagBoundary(s string) bool {
	for _, tag := range []string{TagReasoning, TagAction, TagFinalAnswer} {
		if strings.HasPrefix(s, "<"+tag+">") || strings.HasPrefix(s, "</"+tag+">") {
			return true
		}
	}
	return false
}

// answerHeadings are conclusion markers in both supported languages. Matched
// case-insensitively at line starts; the text after the last match becomes
// the answer.
var answerHeadings = []string{
	"conclusion:",
	"answer:",
	"summary:",
	"final answer:",
	"结论:",
	"结论：",
	"答案:",
	"答案：",
	"总结:",
	"总结：",
	"最终答案:",
	"最终答案：",
}

func splitByHeading(text string) (reasoning, answer string, ok bool) {
	lines := strings.Split(text, "\n")
	lastHeading := -1
	headingLen := 0

	for i, line := range lines {
		trimmed := strings.ToLower(strings.TrimSpace(strings.TrimLeft(line, "#* ")))
		for _, h := range answerHeadings {
			if strings.HasPrefix(trimmed, h) {
				lastHeading = i
				headingLen = len(h)
				break
			}
		}
	}

	if lastHeading == -1 {
		return "", "", false
	}

	headingLine := strings.TrimSpace(strings.TrimLeft(lines[lastHeading], "#* "))
	inline := ""
	if len(headingLine) > headingLen {
		inline = headingLine[headingLen:]
	}

	answer = strings.TrimSpace(inline + "\n" + strings.Join(lines[lastHeading+1:], "\n"))
	reasoning = strings.TrimSpace(strings.Join(lines[:lastHeading], "\n"))
	if answer == "" {
		return "", "", false
	}
	if reasoning == "" {
		reasoning = "Responded directly without structured reasoning."
	}
	return reasoning, answer, true
}

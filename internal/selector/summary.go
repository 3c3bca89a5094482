package selector

import (
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/glowlab/deskagent/internal/chat"
	"github.com/glowlab/deskagent/internal/parser"
)

const (
	// summarizeThreshold is the body length in runes above which a message
	// is condensed before selection.
	summarizeThreshold = 1200
	headKeep           = 400
	tailKeep           = 300
	segmentKeep        = 500
)

// condense shortens a long message body, preferring to keep the structured
// parts (tagged segments, fenced code, tables) over raw prose. Results are
// cached by content hash since history is re-selected on every turn.
func (s *Selector) condense(msg chat.Message) chat.Message {
	runes := []rune(msg.Content)
	if len(runes) <= summarizeThreshold {
		return msg
	}

	key := xxhash.Sum64String(msg.Content)
	if cached, ok := s.cache.get(key); ok {
		msg.Content = cached
		return msg
	}

	condensed := summarizeBody(msg.Content)
	s.cache.put(key, condensed)
	msg.Content = condensed
	return msg
}

func summarizeBody(content string) string {
	var parts []string

	// Parse falls back to whole-text-as-answer for plain prose, which would
	// defeat the head+tail path below, so only take it when tags are present.
	if hasResponseTags(content) {
		p := parser.Parse(content)
		if p.FinalAnswer != "" {
			parts = append(parts, "[final answer] "+clip(p.FinalAnswer, segmentKeep))
		}
		if p.ActionPlan != "" {
			parts = append(parts, "[action] "+clip(p.ActionPlan, segmentKeep))
		}
		if p.Reasoning != "" && p.FinalAnswer == "" && p.ActionPlan == "" {
			parts = append(parts, "[reasoning] "+clip(p.Reasoning, segmentKeep))
		}
	}

	for _, block := range extractFencedBlocks(content) {
		parts = append(parts, "[code] "+clip(block, segmentKeep))
	}
	if table := extractTable(content); table != "" {
		parts = append(parts, "[table] "+clip(table, segmentKeep))
	}

	if len(parts) > 0 {
		return strings.Join(parts, "\n")
	}

	// Nothing structured: keep head and tail with an elision marker.
	runes := []rune(content)
	head := strings.TrimSpace(string(runes[:headKeep]))
	tail := strings.TrimSpace(string(runes[len(runes)-tailKeep:]))
	return head + "\n[... omitted ...]\n" + tail
}

func hasResponseTags(content string) bool {
	for _, tag := range []string{parser.TagReasoning, parser.TagAction, parser.TagFinalAnswer} {
		if strings.Contains(content, "<"+tag+">") {
			return true
		}
	}
	return false
}

func extractFencedBlocks(content string) []string {
	var blocks []string
	rest := content
	for {
		start := strings.Index(rest, "```")
		if start == -1 {
			break
		}
		rest = rest[start+3:]
		end := strings.Index(rest, "```")
		if end == -1 {
			break
		}
		block := strings.TrimSpace(rest[:end])
		if block != "" {
			blocks = append(blocks, block)
		}
		rest = rest[end+3:]
	}
	return blocks
}

// extractTable keeps consecutive markdown table lines, if any.
func extractTable(content string) string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "|") && strings.HasSuffix(trimmed, "|") {
			lines = append(lines, trimmed)
		} else if len(lines) > 0 {
			break
		}
	}
	if len(lines) < 2 {
		return ""
	}
	return strings.Join(lines, "\n")
}

func clip(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// summaryCache is a bounded content-hash cache. Eviction just drops the map
// once it grows past the cap; summaries are cheap to recompute.
type summaryCache struct {
	mu      sync.Mutex
	maxSize int
	entries map[uint64]string
}

func newSummaryCache(maxSize int) *summaryCache {
	return &summaryCache{
		maxSize: maxSize,
		entries: make(map[uint64]string),
	}
}

func (c *summaryCache) get(key uint64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *summaryCache) put(key uint64, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxSize {
		c.entries = make(map[uint64]string)
	}
	c.entries[key] = value
}

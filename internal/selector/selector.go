// Package selector picks the subset of conversation history that accompanies
// a new user message to the model. Selection is budgeted in estimated tokens
// and scored by recency, keyword relevance and message structure; the most
// recent messages are always kept for coherence.
package selector

import (
	"sort"

	"github.com/glowlab/deskagent/internal/chat"
	"github.com/glowlab/deskagent/internal/logger"
	"github.com/glowlab/deskagent/internal/token"
)

const (
	// recentGuarantee is how many trailing messages are included before any
	// scoring happens.
	recentGuarantee = 4
	// maxMessages caps the selected set regardless of budget.
	maxMessages = 20
)

// Budget describes how much of the model's context window is available for
// history after reserving space for the system prompt and the response.
type Budget struct {
	MaxContextTokens    int
	SystemPromptTokens  int
	OutputReserveTokens int
	SafetyMargin        int
}

// Available returns the token budget left for historical messages.
func (b Budget) Available() int {
	return b.MaxContextTokens - b.SystemPromptTokens - b.OutputReserveTokens - b.SafetyMargin
}

// Selector scores and selects history messages. Safe for concurrent use.
type Selector struct {
	log   *logger.Logger
	cache *summaryCache
}

// New creates a selector with an empty summary cache.
func New() *Selector {
	return &Selector{
		log:   logger.WithPrefix("selector"),
		cache: newSummaryCache(256),
	}
}

// Select returns the chosen history slice in chronological order, ready to
// prepend before the current user message. Long message bodies are condensed
// before inclusion; the estimated token sum of the result never exceeds the
// available budget.
func (s *Selector) Select(history []chat.Message, currentMessage string, budget Budget) []chat.Message {
	available := budget.Available()
	if available <= 0 || len(history) == 0 {
		return nil
	}

	keywords := extractKeywords(currentMessage)

	type candidate struct {
		index   int
		message chat.Message
		tokens  int
		score   float64
	}

	candidates := make([]candidate, len(history))
	for i, msg := range history {
		condensed := s.condense(msg)
		candidates[i] = candidate{
			index:   i,
			message: condensed,
			tokens:  token.EstimateMessage(condensed),
			score:   scoreMessage(history, i, keywords),
		}
	}

	selected := make(map[int]bool)
	used := 0

	// Coherence guarantee: the trailing messages come first, newest inward,
	// as long as they fit.
	for i := len(candidates) - 1; i >= 0 && len(candidates)-1-i < recentGuarantee; i-- {
		c := candidates[i]
		if used+c.tokens > available {
			continue
		}
		selected[c.index] = true
		used += c.tokens
	}

	// Fill the rest by descending score.
	byScore := make([]candidate, len(candidates))
	copy(byScore, candidates)
	sort.SliceStable(byScore, func(i, j int) bool { return byScore[i].score > byScore[j].score })

	for _, c := range byScore {
		if len(selected) >= maxMessages {
			break
		}
		if selected[c.index] {
			continue
		}
		if used+c.tokens > available {
			continue
		}
		selected[c.index] = true
		used += c.tokens
	}

	indexes := make([]int, 0, len(selected))
	for idx := range selected {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	out := make([]chat.Message, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, candidates[idx].message)
	}

	s.log.Debug("selected %d/%d messages, %d/%d tokens", len(out), len(history), used, available)
	return out
}

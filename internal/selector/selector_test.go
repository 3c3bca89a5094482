package selector

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowlab/deskagent/internal/chat"
	"github.com/glowlab/deskagent/internal/token"
)

func makeHistory(n int) []chat.Message {
	base := time.Now().Add(-time.Hour)
	msgs := make([]chat.Message, n)
	for i := 0; i < n; i++ {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		msgs[i] = chat.Message{
			ID:        fmt.Sprintf("m%d", i),
			Role:      role,
			Content:   fmt.Sprintf("message number %d about nothing in particular", i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return msgs
}

func testBudget(maxTokens int) Budget {
	return Budget{
		MaxContextTokens:    maxTokens,
		SystemPromptTokens:  0,
		OutputReserveTokens: 0,
		SafetyMargin:        0,
	}
}

func TestSelectRespectsBudget(t *testing.T) {
	s := New()
	history := makeHistory(30)

	for _, budget := range []int{50, 150, 500, 2000} {
		selected := s.Select(history, "anything", testBudget(budget))
		total := 0
		for _, m := range selected {
			total += token.EstimateMessage(m)
		}
		assert.LessOrEqual(t, total, budget, "budget %d", budget)
	}
}

func TestSelectEmptyWhenNoBudget(t *testing.T) {
	s := New()
	history := makeHistory(5)

	assert.Empty(t, s.Select(history, "x", testBudget(0)))
	assert.Empty(t, s.Select(history, "x", Budget{
		MaxContextTokens:    100,
		SystemPromptTokens:  80,
		OutputReserveTokens: 30,
	}))
	assert.Empty(t, s.Select(nil, "x", testBudget(1000)))
}

func TestSelectIncludesMostRecent(t *testing.T) {
	s := New()
	history := makeHistory(12)

	selected := s.Select(history, "anything", testBudget(4000))
	require.NotEmpty(t, selected)
	assert.Equal(t, history[len(history)-1].ID, selected[len(selected)-1].ID)
}

func TestSelectChronologicalOrder(t *testing.T) {
	s := New()
	history := makeHistory(25)

	selected := s.Select(history, "message", testBudget(800))
	for i := 1; i < len(selected); i++ {
		assert.False(t, selected[i].Timestamp.Before(selected[i-1].Timestamp),
			"messages out of order at %d", i)
	}
}

func TestSelectCapsMessageCount(t *testing.T) {
	s := New()
	history := makeHistory(60)

	selected := s.Select(history, "message", testBudget(1_000_000))
	assert.LessOrEqual(t, len(selected), maxMessages)
}

func TestSelectPrefersKeywordMatches(t *testing.T) {
	s := New()
	history := makeHistory(30)
	history[2].Content = "we discussed the database schema and the sql query plan here"

	// Budget large enough for the guaranteed recent messages plus a few
	// scored picks, small enough to force choices.
	selected := s.Select(history, "why is the database query slow?", testBudget(220))

	found := false
	for _, m := range selected {
		if m.ID == "m2" {
			found = true
		}
	}
	assert.True(t, found, "keyword-heavy message should be selected over filler")
}

func TestSelectPenalizesErrors(t *testing.T) {
	history := makeHistory(20)
	for i := range history {
		history[i].Content = "identical content for fairness"
	}
	history[5].IsError = true

	kws := extractKeywords("unrelated prompt")
	errScore := scoreMessage(history, 5, kws)
	okScore := scoreMessage(history, 6, kws)
	assert.Less(t, errScore, okScore)
}

func TestExtractKeywords(t *testing.T) {
	kws := extractKeywords("Why is the Database query so slow, 数据库 很慢?")
	assert.Contains(t, kws, "database")
	assert.Contains(t, kws, "query")
	assert.Contains(t, kws, "slow")
	assert.Contains(t, kws, "数据库")
	assert.NotContains(t, kws, "the")
	assert.NotContains(t, kws, "is")
}

func TestCondenseKeepsStructuredContent(t *testing.T) {
	s := New()
	long := strings.Repeat("filler prose ", 150) +
		"<FINAL_ANSWER>the answer is 42</FINAL_ANSWER>" +
		strings.Repeat(" more filler", 100)

	msg := s.condense(chat.Message{Content: long})
	assert.Contains(t, msg.Content, "the answer is 42")
	assert.Less(t, len(msg.Content), len(long))
}

func TestCondenseHeadTailFallback(t *testing.T) {
	s := New()
	long := strings.Repeat("abcdefghij ", 300)

	msg := s.condense(chat.Message{Content: long})
	assert.Contains(t, msg.Content, "[... omitted ...]")
	assert.Less(t, len(msg.Content), len(long))
}

func TestCondenseUntaggedProseKeepsHeadAndTail(t *testing.T) {
	s := New()
	long := "opening paragraph. " + strings.Repeat("middle filler ", 200) + "closing paragraph."

	msg := s.condense(chat.Message{Content: long})
	assert.Contains(t, msg.Content, "opening paragraph.")
	assert.Contains(t, msg.Content, "closing paragraph.")
	assert.Contains(t, msg.Content, "[... omitted ...]")
	assert.NotContains(t, msg.Content, "[final answer]")
}

func TestCondenseShortPassThrough(t *testing.T) {
	s := New()
	msg := s.condense(chat.Message{Content: "short"})
	assert.Equal(t, "short", msg.Content)
}

func TestSummaryCacheReuse(t *testing.T) {
	s := New()
	long := strings.Repeat("some rather long body ", 200)

	first := s.condense(chat.Message{Content: long})
	second := s.condense(chat.Message{Content: long})
	assert.Equal(t, first.Content, second.Content)
}

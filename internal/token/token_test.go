package token

import (
	"strings"
	"testing"

	"github.com/glowlab/deskagent/internal/chat"
)

func TestEstimateEmpty(t *testing.T) {
	if got := Estimate(""); got != 0 {
		t.Errorf("Estimate(\"\") = %d, want 0", got)
	}
}

func TestEstimateMonotonicInLength(t *testing.T) {
	base := "The quick brown fox jumps over the lazy dog. "
	prev := 0
	for i := 1; i <= 8; i++ {
		got := Estimate(strings.Repeat(base, i))
		if got < prev {
			t.Fatalf("estimate decreased when text grew: %d -> %d at repeat %d", prev, got, i)
		}
		prev = got
	}
}

func TestEstimateCJKDenserThanLatin(t *testing.T) {
	latin := strings.Repeat("a", 100)
	cjk := strings.Repeat("天", 100)

	if Estimate(cjk) <= Estimate(latin) {
		t.Errorf("CJK text should estimate more tokens per character: cjk=%d latin=%d",
			Estimate(cjk), Estimate(latin))
	}
}

func TestEstimateStructuralBetweenCJKAndLatin(t *testing.T) {
	structural := strings.Repeat("{", 100)
	latin := strings.Repeat("a", 100)
	if Estimate(structural) <= Estimate(latin) {
		t.Errorf("structural characters should be denser than plain latin: structural=%d latin=%d",
			Estimate(structural), Estimate(latin))
	}
}

func TestEstimateMessagesOverhead(t *testing.T) {
	msgs := []chat.Message{
		{Role: chat.RoleUser, Content: "hello"},
		{Role: chat.RoleAssistant, Content: "hi"},
	}

	perMessage := EstimateMessage(msgs[0]) + EstimateMessage(msgs[1])
	total := EstimateMessages(msgs)
	if total <= perMessage {
		t.Errorf("list estimate %d should include envelope overhead beyond %d", total, perMessage)
	}
	if EstimateMessages(nil) != 0 {
		t.Errorf("empty list should estimate zero")
	}
}

func TestCountNonZero(t *testing.T) {
	// Count uses the real encoding when available and the heuristic
	// otherwise; either way a non-empty string costs at least one token.
	if got := Count("hello world"); got < 1 {
		t.Errorf("Count = %d, want >= 1", got)
	}
}

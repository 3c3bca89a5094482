// Package token approximates token counts for admission control. The
// heuristic distinguishes CJK text (roughly 1.3 characters per token),
// structural punctuation (2.5 per token) and everything else (3.5 per token),
// which keeps estimates conservative for mixed-script chat history.
//
// Estimates are monotonic in input length and intentionally coarse; they are
// used to fit history into a context window, never for billing. Count gives
// an exact cl100k_base count when the encoding is available and falls back to
// the heuristic otherwise.
package token

import (
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"

	"github.com/glowlab/deskagent/internal/chat"
)

const (
	cjkCharsPerToken        = 1.3
	structuralCharsPerToken = 2.5
	otherCharsPerToken      = 3.5

	// perMessageOverhead accounts for role framing tokens added by chat
	// completion APIs; perListOverhead for the request envelope.
	perMessageOverhead = 4
	perListOverhead    = 3
)

var (
	encOnce  sync.Once
	encoding *tiktoken.Tiktoken
)

func loadEncoding() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			encoding = enc
		}
	})
	return encoding
}

// Estimate returns a heuristic token estimate for text.
func Estimate(text string) int {
	if text == "" {
		return 0
	}

	var cjk, structural, other int
	for _, r := range text {
		switch {
		case isCJK(r):
			cjk++
		case isStructural(r):
			structural++
		default:
			other++
		}
	}

	total := float64(cjk)/cjkCharsPerToken +
		float64(structural)/structuralCharsPerToken +
		float64(other)/otherCharsPerToken

	estimate := int(total)
	if estimate < 1 {
		estimate = 1
	}
	return estimate
}

// EstimateMessage returns the estimate for one message including its role
// framing overhead.
func EstimateMessage(msg chat.Message) int {
	return Estimate(msg.Content) + perMessageOverhead
}

// EstimateMessages returns the estimate for a message list including the
// request envelope overhead.
func EstimateMessages(msgs []chat.Message) int {
	if len(msgs) == 0 {
		return 0
	}
	total := perListOverhead
	for _, msg := range msgs {
		total += EstimateMessage(msg)
	}
	return total
}

// Count returns an exact token count using the cl100k_base encoding when it
// loads, otherwise it falls back to Estimate. The exact count is useful for
// usage reporting; admission control sticks with Estimate so the budget math
// stays deterministic.
func Count(text string) int {
	if enc := loadEncoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return Estimate(text)
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

func isStructural(r rune) bool {
	switch r {
	case '{', '}', '[', ']', '(', ')', '<', '>', ':', ';', ',', '"', '\'', '=', '/', '\\', '|', '`':
		return true
	}
	return false
}

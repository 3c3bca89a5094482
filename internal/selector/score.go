package selector

import (
	"math"
	"strings"
	"unicode"

	"github.com/glowlab/deskagent/internal/chat"
	"github.com/glowlab/deskagent/internal/parser"
)

const (
	recencyHalfLife = 8.0
	recencyMaxScore = 40.0

	keywordPoints = 12.0
	techTermBonus = 6.0

	toolCallBonus    = 10.0
	traceBonus       = 8.0
	finalAnswerBonus = 6.0
	longUserBonus    = 4.0
	roleSwitchBonus  = 5.0

	errorPenalty = 25.0
)

// scoreMessage rates a single history message against the current user
// message; higher is more valuable.
func scoreMessage(history []chat.Message, index int, keywords []string) float64 {
	msg := history[index]
	age := float64(len(history) - 1 - index)

	score := recencyMaxScore * math.Exp(-age/recencyHalfLife)

	lowerContent := strings.ToLower(msg.Content)
	for _, kw := range keywords {
		if strings.Contains(lowerContent, kw) {
			score += keywordPoints
			if techTerms[kw] {
				score += techTermBonus
			}
		}
	}

	if msg.Role == chat.RoleAssistant {
		if len(msg.ToolCalls) > 0 {
			score += toolCallBonus
		}
		if len(msg.ReasoningTrace) > 0 {
			score += traceBonus
		}
		if strings.Contains(msg.Content, "<"+parser.TagFinalAnswer+">") {
			score += finalAnswerBonus
		}
	}
	if msg.Role == chat.RoleUser && len([]rune(msg.Content)) > 200 {
		score += longUserBonus
	}

	if index > 0 && history[index-1].Role != msg.Role {
		score += roleSwitchBonus
	}

	if msg.IsError {
		score -= errorPenalty
	}

	return score
}

// extractKeywords tokenizes the current message into lowercase search terms,
// dropping stop-words and short tokens. Latin words and CJK runs are
// tokenized separately since CJK has no word boundaries to split on.
func extractKeywords(text string) []string {
	lower := strings.ToLower(text)

	seen := make(map[string]bool)
	var keywords []string
	add := func(kw string) {
		if !seen[kw] {
			seen[kw] = true
			keywords = append(keywords, kw)
		}
	}

	var latin, cjk []rune
	flushLatin := func() {
		if len(latin) >= 3 {
			w := string(latin)
			if !stopwords[w] {
				add(w)
			}
		}
		latin = latin[:0]
	}
	flushCJK := func() {
		if len(cjk) >= 2 {
			w := string(cjk)
			if !stopwords[w] {
				add(w)
			}
		}
		cjk = cjk[:0]
	}

	for _, r := range lower {
		switch {
		case unicode.Is(unicode.Han, r):
			flushLatin()
			cjk = append(cjk, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			flushCJK()
			latin = append(latin, r)
		default:
			flushLatin()
			flushCJK()
		}
	}
	flushLatin()
	flushCJK()

	return keywords
}

// stopwords are filler words carrying no retrieval value, in both supported
// languages.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"her": true, "was": true, "one": true, "our": true, "out": true,
	"has": true, "have": true, "this": true, "that": true, "with": true,
	"they": true, "what": true, "your": true, "when": true, "will": true,
	"from": true, "would": true, "there": true, "their": true, "about": true,
	"which": true, "could": true, "should": true, "please": true, "how": true,
	"why": true, "who": true, "does": true, "use": true, "using": true,
	"的": true, "了": true, "是": true, "我": true, "你": true,
	"他": true, "她": true, "它": true, "们": true, "这个": true,
	"那个": true, "什么": true, "怎么": true, "为什么": true, "请问": true,
	"一个": true, "可以": true, "这样": true, "那样": true, "如何": true,
}

// techTerms get an extra bonus when matched: they usually pin down the topic
// of a conversation better than ordinary words.
var techTerms = map[string]bool{
	"api": true, "error": true, "bug": true, "function": true, "code": true,
	"database": true, "sql": true, "http": true, "json": true, "token": true,
	"server": true, "config": true, "docker": true, "test": true, "debug": true,
	"memory": true, "thread": true, "async": true, "timeout": true, "cache": true,
	"schema": true, "query": true, "deploy": true, "log": true, "crash": true,
	"错误": true, "函数": true, "代码": true, "数据库": true, "接口": true,
	"服务器": true, "配置": true, "测试": true, "调试": true, "报错": true,
	"内存": true, "缓存": true, "部署": true, "日志": true, "超时": true,
}

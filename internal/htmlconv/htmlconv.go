// Package htmlconv converts fetched HTML pages into markdown so tool
// observations stay compact and readable for the model.
package htmlconv

import (
	"bytes"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"

	"github.com/glowlab/deskagent/internal/logger"
)

var htmlTagPattern = regexp.MustCompile(`<([a-zA-Z][a-zA-Z0-9]*)\b[^>]*>`)

var multipleNewlines = regexp.MustCompile(`\n{3,}`)

// ConvertIfHTML converts the input to markdown when it looks like an HTML
// document. It returns the converted text and whether conversion happened;
// non-HTML input is passed through unchanged.
func ConvertIfHTML(input string) (string, bool) {
	if !IsHTML(input) {
		return input, false
	}

	cleaned, err := stripNonContent(input)
	if err != nil {
		logger.Warn("html preprocess failed: %v, converting original", err)
		cleaned = input
	}

	markdown, err := htmltomarkdown.ConvertString(cleaned)
	if err != nil {
		logger.Warn("html to markdown conversion failed: %v", err)
		return input, false
	}

	markdown = strings.TrimSpace(multipleNewlines.ReplaceAllString(markdown, "\n\n"))
	logger.Debug("converted html to markdown (%d -> %d bytes)", len(input), len(markdown))
	return markdown, true
}

// IsHTML reports whether the input is likely an HTML document rather than
// plain text or markdown.
func IsHTML(input string) bool {
	trimmed := strings.TrimSpace(input)
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "<!doctype") || strings.HasPrefix(lower, "<html") {
		return true
	}

	tagCount := len(htmlTagPattern.FindAllString(input, -1))
	if tagCount >= 3 {
		return true
	}
	if tagCount >= 2 {
		lowerInput := strings.ToLower(input)
		for _, marker := range []string{"<body", "<div", "<table", "<h1", "<h2"} {
			if strings.Contains(lowerInput, marker) {
				return true
			}
		}
	}
	return false
}

// stripNonContent drops scripts, styles, navigation and other chrome before
// conversion.
func stripNonContent(input string) (string, error) {
	doc, err := html.Parse(strings.NewReader(input))
	if err != nil {
		return input, err
	}

	removeUnwanted(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return input, err
	}
	return buf.String(), nil
}

var unwantedTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"meta":     true,
	"link":     true,
	"head":     true,
	"header":   true,
	"footer":   true,
	"nav":      true,
	"aside":    true,
	"iframe":   true,
	"svg":      true,
}

func removeUnwanted(n *html.Node) {
	child := n.FirstChild
	for child != nil {
		next := child.NextSibling
		removeUnwanted(child)
		child = next
	}
	if n.Type == html.ElementNode && unwantedTags[n.Data] && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

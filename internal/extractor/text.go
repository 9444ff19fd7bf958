package extractor

import (
	"regexp"
	"strings"
	"unicode/utf16"

	"golang.org/x/net/html"
)

// blockElements start and end on their own line when rendered as text.
var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"dd": true, "details": true, "div": true, "dl": true, "dt": true,
	"fieldset": true, "figcaption": true, "figure": true, "footer": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "li": true, "main": true, "ol": true,
	"p": true, "pre": true, "section": true, "summary": true, "table": true,
	"tbody": true, "thead": true, "tr": true, "ul": true,
}

// nodeText renders n the way the page reads: raw text nodes, with line
// breaks around block elements and a space between table cells.
func nodeText(n *html.Node) string {
	var b strings.Builder
	writeNodeText(&b, n)
	return b.String()
}

func writeNodeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.CommentNode:
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "template":
			return
		case "br":
			b.WriteByte('\n')
			return
		}
	}

	block := n.Type == html.ElementNode && blockElements[n.Data]
	if block {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeNodeText(b, c)
	}
	if block {
		b.WriteByte('\n')
	}
	if n.Type == html.ElementNode && (n.Data == "td" || n.Data == "th") {
		b.WriteByte(' ')
	}
}

var (
	spaceRuns   = regexp.MustCompile(` {2,}`)
	newlineRuns = regexp.MustCompile(`\n{3,}`)
)

// CleanText normalizes whitespace: tabs become spaces, line endings
// become LF, runs of spaces and blank lines collapse, and every line is
// trimmed with empty lines dropped.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\t", " ")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = spaceRuns.ReplaceAllString(text, " ")
	text = newlineRuns.ReplaceAllString(text, "\n\n")

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// Length counts text the way a browser does: in UTF-16 code units.
func Length(text string) int {
	n := 0
	for _, r := range text {
		n += runeWidth(r)
	}
	return n
}

func runeWidth(r rune) int {
	if w := utf16.RuneLen(r); w > 0 {
		return w
	}
	return 1
}

// sentenceWindow is how far back truncation may retreat to end on a '.'.
const sentenceWindow = 500

// Truncate cuts text to at most max UTF-16 code units without splitting
// a surrogate pair. When the cut lands mid-sentence and a '.' occurs in
// the last 500 units, the text ends at that '.' instead.
func Truncate(text string, max int) string {
	if Length(text) <= max {
		return text
	}

	runes := []rune(text)
	n, cut := 0, 0
	for i, r := range runes {
		w := runeWidth(r)
		if n+w > max {
			break
		}
		n += w
		cut = i + 1
	}
	truncated := runes[:cut]
	if len(truncated) == 0 || truncated[len(truncated)-1] == '.' {
		return string(truncated)
	}

	// The window is measured in UTF-16 units, like max.
	back := 0
	for i := len(truncated) - 1; i >= 0 && back < sentenceWindow; i-- {
		if truncated[i] == '.' {
			return string(truncated[:i+1])
		}
		back += runeWidth(truncated[i])
	}
	return string(truncated)
}

// clip shortens s to at most max runes.
func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// collapse joins the words of s with single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

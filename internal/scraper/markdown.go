package scraper

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
)

// IsMarkdownContentType checks if the Content-Type header indicates markdown.
func IsMarkdownContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "text/markdown") ||
		strings.HasPrefix(ct, "text/x-markdown")
}

// IsMarkdownURL checks if the URL or path names a markdown file.
func IsMarkdownURL(u string) bool {
	lower := strings.ToLower(u)
	return strings.HasSuffix(lower, ".md") ||
		strings.HasSuffix(lower, ".markdown")
}

var (
	mdHeading = regexp.MustCompile(`^#{1,6}\s+\S`)
	mdList    = regexp.MustCompile(`(?m)^[\-\*]\s+\S`)
	mdLink    = regexp.MustCompile(`\[.+?\]\(.+?\)`)
)

// Detect reports whether a response body is markdown rather than HTML.
// Plain text served as text/plain counts when it has markdown syntax.
func Detect(u, contentType, body string) bool {
	if IsMarkdownContentType(contentType) || IsMarkdownURL(u) {
		return true
	}
	if !strings.HasPrefix(strings.ToLower(contentType), "text/plain") {
		return false
	}
	trimmed := strings.TrimSpace(body)
	return mdHeading.MatchString(trimmed) || mdList.MatchString(trimmed) || mdLink.MatchString(trimmed)
}

// markdownToHTML renders markdown source as a complete HTML document.
func markdownToHTML(src string) (string, error) {
	var buf bytes.Buffer
	buf.WriteString("<html><body><article>")
	if err := goldmark.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	buf.WriteString("</article></body></html>")
	return buf.String(), nil
}

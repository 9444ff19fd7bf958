package watch

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Summary describes how a document changed.
type Summary struct {
	Nodes       int  // elements added or removed
	MainTouched bool // an article or main element changed
}

// Significant reports whether the change warrants re-extraction.
func (s Summary) Significant(minNodes int) bool {
	return s.MainTouched || s.Nodes >= minNodes
}

// Diff compares two versions of a page.
func Diff(before, after *goquery.Document) Summary {
	counts := make(map[string]int)
	for _, fp := range fingerprints(before) {
		counts[fp]++
	}
	for _, fp := range fingerprints(after) {
		counts[fp]--
	}

	var s Summary
	for _, n := range counts {
		if n < 0 {
			n = -n
		}
		s.Nodes += n
	}
	s.MainTouched = mainHTML(before) != mainHTML(after)
	return s
}

// fingerprints returns one entry per element: its tag, attributes and
// direct text. Changing an element's children does not change its own
// entry.
func fingerprints(doc *goquery.Document) []string {
	if doc == nil {
		return nil
	}

	var out []string
	doc.Find("body *").Each(func(_ int, s *goquery.Selection) {
		n := s.Get(0)
		var b strings.Builder
		b.WriteString(n.Data)
		for _, a := range n.Attr {
			b.WriteString(" " + a.Key + "=" + a.Val)
		}
		b.WriteString(">")
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(strings.TrimSpace(c.Data))
			}
		}
		out = append(out, b.String())
	})
	return out
}

func mainHTML(doc *goquery.Document) string {
	if doc == nil {
		return ""
	}
	var b strings.Builder
	doc.Find("article, main").Each(func(_ int, s *goquery.Selection) {
		h, _ := goquery.OuterHtml(s)
		b.WriteString(h)
	})
	return b.String()
}

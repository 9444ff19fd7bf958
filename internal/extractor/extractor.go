// Package extractor turns an HTML document into a bounded PageRecord.
package extractor

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/mfenderov/elf/pkg/models"
)

// ErrExtractionUnavailable is returned for pages that cannot be read:
// browser-internal URLs, or extraction switched off.
var ErrExtractionUnavailable = errors.New("extraction unavailable")

// Collection limits.
const (
	minMainTextLength = 100
	maxImages         = 20
	minAltLength      = 10
	maxAltLength      = 200
	maxCodeBlocks     = 10
	maxCodeInOutput   = 5
	minCodeLength     = 20
	maxCodeLength     = 2000
)

// mainContentSelectors are probed in order; the first with enough text wins.
var mainContentSelectors = []string{
	"article",
	`[role="main"]`,
	"main",
	".post-content",
	".entry-content",
	".article-content",
	".article-body",
	".story-body",
	".post-body",
	".content",
	"#content",
	".post",
}

// boilerplateSelectors are removed from the chosen subtree.
var boilerplateSelectors = strings.Join([]string{
	"nav", "header", "footer", "aside",
	"script", "style", "noscript", "iframe", "svg", "form", "button",
	`[role="navigation"]`, `[role="banner"]`, `[role="contentinfo"]`, `[role="complementary"]`,
	`[aria-hidden="true"]`,
	".advertisement", ".ads", ".ad", ".ad-container", `[id^="google_ads"]`,
	".comments", "#comments", ".comment-section",
	".social-share", ".share-buttons", ".social",
	".related-posts", ".sidebar", ".newsletter", ".cookie-banner", ".popup", ".modal",
}, ", ")

var internalPrefixes = []string{
	"chrome://", "chrome-extension://", "edge://", "about:",
	"moz-extension://", "view-source:", "devtools://",
}

// IsInternalURL reports whether u is a browser-internal page.
func IsInternalURL(u string) bool {
	lower := strings.ToLower(strings.TrimSpace(u))
	for _, p := range internalPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// Options configures an Extractor.
type Options struct {
	Markdown bool // render main content as Markdown instead of plain text
	Now      func() time.Time
}

// Extractor produces PageRecords. It never mutates the documents it reads.
type Extractor struct {
	opts Options
}

// New creates an Extractor.
func New(opts Options) *Extractor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Extractor{opts: opts}
}

// ExtractHTML parses r and extracts it.
func (e *Extractor) ExtractHTML(r io.Reader, pageURL string) (*models.PageRecord, error) {
	if IsInternalURL(pageURL) {
		return nil, ErrExtractionUnavailable
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return e.Extract(doc, pageURL)
}

// Extract builds the PageRecord for doc.
func (e *Extractor) Extract(doc *goquery.Document, pageURL string) (*models.PageRecord, error) {
	if IsInternalURL(pageURL) {
		return nil, ErrExtractionUnavailable
	}

	main := findMainContent(doc)
	clone := main.Clone()
	clone.Find(boilerplateSelectors).Remove()

	var text string
	if e.opts.Markdown {
		md, err := toMarkdown(clone)
		if err != nil {
			slog.Debug("markdown conversion failed, using text", "url", pageURL, "error", err)
			text = plainText(clone)
		} else {
			text = md
		}
	} else {
		text = plainText(clone)
	}
	text = Truncate(text, models.MaxContentLength)

	images := collectImages(doc)
	code := collectCode(doc)
	content := Truncate(structured(text, images, code), models.MaxContentLength)

	rec := &models.PageRecord{
		URL:           pageURL,
		Title:         title(doc),
		Description:   description(doc),
		Headings:      collectHeadings(doc),
		Content:       content,
		Timestamp:     e.opts.Now(),
		ContentLength: Length(content),
		Images:        images,
		CodeBlocks:    code,
	}

	slog.Debug("extracted page", "url", pageURL, "length", rec.ContentLength, "headings", len(rec.Headings))
	return rec, nil
}

func findMainContent(doc *goquery.Document) *goquery.Selection {
	for _, sel := range mainContentSelectors {
		found := doc.Find(sel).First()
		if found.Length() == 0 {
			continue
		}
		if len([]rune(strings.TrimSpace(found.Text()))) > minMainTextLength {
			return found
		}
	}
	body := doc.Find("body").First()
	if body.Length() == 0 {
		return doc.Selection
	}
	return body
}

func plainText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		b.WriteString(nodeText(n))
	}
	return CleanText(b.String())
}

func toMarkdown(sel *goquery.Selection) (string, error) {
	raw, err := goquery.OuterHtml(sel)
	if err != nil {
		return "", err
	}
	md, err := htmltomarkdown.ConvertString(raw)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(newlineRuns.ReplaceAllString(md, "\n\n")), nil
}

func title(doc *goquery.Document) string {
	if t := collapse(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if t, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(t) != "" {
		return strings.TrimSpace(t)
	}
	return collapse(doc.Find("h1").First().Text())
}

// description takes the first present of meta, OpenGraph and Twitter.
func description(doc *goquery.Document) string {
	for _, sel := range []string{
		`meta[name="description"]`,
		`meta[property="og:description"]`,
		`meta[name="twitter:description"]`,
	} {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func collectHeadings(doc *goquery.Document) []models.Heading {
	var headings []models.Heading
	doc.Find("h1, h2, h3, h4").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := collapse(s.Text())
		if text == "" {
			return true
		}
		level := int(goquery.NodeName(s)[1] - '0')
		headings = append(headings, models.Heading{Level: level, Text: clip(text, models.MaxHeadingLength)})
		return len(headings) < models.MaxHeadings
	})
	return headings
}

func collectImages(doc *goquery.Document) []string {
	var alts []string
	doc.Find("img[alt]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		alt := collapse(s.AttrOr("alt", ""))
		if n := len([]rune(alt)); n >= minAltLength && n <= maxAltLength {
			alts = append(alts, alt)
		}
		return len(alts) < maxImages
	})
	return alts
}

func collectCode(doc *goquery.Document) []string {
	var blocks []string
	doc.Find("pre").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		code := strings.TrimSpace(s.Text())
		if n := len([]rune(code)); n >= minCodeLength && n <= maxCodeLength {
			blocks = append(blocks, code)
		}
		return len(blocks) < maxCodeBlocks
	})
	return blocks
}

// structured appends the image and code sections to the main text.
func structured(text string, images, code []string) string {
	var b strings.Builder
	b.WriteString(text)

	if len(images) > 0 {
		b.WriteString("\n\n## Images on this page\n")
		for _, alt := range images {
			b.WriteString("- ")
			b.WriteString(alt)
			b.WriteByte('\n')
		}
	}

	if len(code) > 0 {
		b.WriteString("\n\n## Code examples\n")
		for i, block := range code {
			if i == maxCodeInOutput {
				break
			}
			b.WriteString("```\n")
			b.WriteString(block)
			b.WriteString("\n```\n")
		}
	}

	return strings.TrimSpace(b.String())
}

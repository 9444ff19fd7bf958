package models

import "time"

// Content limits applied by the extractor.
const (
	MaxContentLength = 50000
	MaxHeadings      = 50
	MaxHeadingLength = 200
	MaxPages         = 50
)

// Heading is one h1-h4 element of a page, in document order.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// PageRecord is the extracted content of one loaded page.
type PageRecord struct {
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Headings      []Heading `json:"headings"`
	Content       string    `json:"content"`
	Timestamp     time.Time `json:"timestamp"`
	ContentLength int       `json:"contentLength"`
	ExtractedAt   time.Time `json:"extractedAt,omitzero"`
	Images        []string  `json:"images,omitempty"`     // alt texts
	CodeBlocks    []string  `json:"codeBlocks,omitempty"` // <pre> texts
}

// StoreContentRequest is the payload of the backend's content store call.
type StoreContentRequest struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Headings    []Heading `json:"headings"`
	Content     string    `json:"content"`
}

// StoreRequest builds the backend payload for a page.
func (p *PageRecord) StoreRequest() StoreContentRequest {
	headings := p.Headings
	if headings == nil {
		headings = []Heading{}
	}
	return StoreContentRequest{
		URL:         p.URL,
		Title:       p.Title,
		Description: p.Description,
		Headings:    headings,
		Content:     p.Content,
	}
}

// Package messaging carries tagged request/response messages between the
// background, tab and panel contexts.
package messaging

import "github.com/mfenderov/elf/pkg/models"

// Type tags a message.
type Type string

const (
	TriggerExtraction Type = "TRIGGER_EXTRACTION"
	GetPageContent    Type = "GET_PAGE_CONTENT"
	CheckReady        Type = "CHECK_READY"
	ContentExtracted  Type = "CONTENT_EXTRACTED"
	ContentUpdated    Type = "CONTENT_UPDATED"
	GetState          Type = "GET_STATE"
	StateChanged      Type = "STATE_CHANGED"
	ExtractNow        Type = "EXTRACT_NOW"
	GetAPIURL         Type = "GET_API_URL"
	SetAPIURL         Type = "SET_API_URL"
	OpenSidePanel     Type = "OPEN_SIDEPANEL"
	TabChanged        Type = "TAB_CHANGED"
)

// Message is a request sent to a context. Only the fields its Type uses are set.
type Message struct {
	Type    Type               `json:"type"`
	TabID   int                `json:"tabId,omitempty"`
	URL     string             `json:"url,omitempty"`
	Title   string             `json:"title,omitempty"`
	Enabled *bool              `json:"enabled,omitempty"`
	APIURL  string             `json:"apiUrl,omitempty"`
	Data    *models.PageRecord `json:"data,omitempty"`
}

// Response answers a Message.
type Response struct {
	Success bool               `json:"success"`
	Error   string             `json:"error,omitempty"`
	Enabled bool               `json:"enabled,omitempty"`
	Ready   bool               `json:"ready,omitempty"`
	APIURL  string             `json:"apiUrl,omitempty"`
	Data    *models.PageRecord `json:"data,omitempty"`
}

// OK is a bare success response.
func OK() *Response {
	return &Response{Success: true}
}

// Bool returns a pointer to v, for Message.Enabled.
func Bool(v bool) *bool {
	return &v
}

package models

import "time"

// Storage key prefixes for per-page state.
const (
	SessionKeyPrefix  = "session_"
	MessagesKeyPrefix = "messages_"
)

// Session binds a page to its remote content, assistant and thread.
type Session struct {
	ContentID   string    `json:"contentId"`
	AssistantID string    `json:"assistantId"`
	ThreadID    string    `json:"threadId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Role of a conversation entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleError     Role = "error"
)

// Message is one entry of a page's conversation log.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionKey returns the storage key of the session for pageURL.
func SessionKey(pageURL string) string {
	return SessionKeyPrefix + HashURL(pageURL)
}

// MessagesKey returns the storage key of the message log for pageURL.
func MessagesKey(pageURL string) string {
	return MessagesKeyPrefix + HashURL(pageURL)
}

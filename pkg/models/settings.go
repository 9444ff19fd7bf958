package models

// Storage keys for process-wide state.
const (
	KeyEnabled          = "elfEnabled"
	KeyAPIURL           = "apiUrl"
	KeyAPIKey           = "openaiKey"
	KeyExtractedContent = "extractedContent"
	KeyTotalTokens      = "totalTokens"
)

// Settings is the process-wide extension configuration.
type Settings struct {
	Enabled     bool    `json:"enabled"`
	APIURL      string  `json:"apiUrl"`
	APIKey      *string `json:"openaiKey"`
	TotalTokens int     `json:"totalTokens"`
}

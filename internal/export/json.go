package export

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSONExporter writes the conversation as one indented JSON document.
type JSONExporter struct{}

// Export writes conv as JSON.
func (e *JSONExporter) Export(conv *Conversation, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(conv); err != nil {
		return fmt.Errorf("failed to encode conversation: %w", err)
	}
	return nil
}

// Extension returns the file extension for this format.
func (e *JSONExporter) Extension() string {
	return "json"
}

// ContentType returns the MIME type for this format.
func (e *JSONExporter) ContentType() string {
	return "application/json"
}

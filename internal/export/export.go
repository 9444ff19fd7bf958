// Package export writes page conversations to files.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/mfenderov/elf/pkg/models"
)

// Conversation is everything an export needs about one page's chat.
type Conversation struct {
	Title      string           `json:"title"`
	URL        string           `json:"url"`
	ExportedAt time.Time        `json:"exportedAt"`
	Messages   []models.Message `json:"messages"`
}

// Exporter writes a conversation in one format.
type Exporter interface {
	Export(conv *Conversation, w io.Writer) error
	Extension() string
	ContentType() string
}

// NewExporter creates an exporter for format.
func NewExporter(format string) (Exporter, error) {
	switch format {
	case "", "md", "markdown":
		return &MarkdownExporter{}, nil
	case "json":
		return &JSONExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: md, json)", format)
	}
}

// Filename names the export file of conv.
func Filename(conv *Conversation, e Exporter) string {
	return fmt.Sprintf("elf-chat-%s-%s.%s",
		models.HashURL(conv.URL), conv.ExportedAt.Format("2006-01-02"), e.Extension())
}

package export

import (
	"fmt"
	"io"
	"time"

	"github.com/mfenderov/elf/pkg/models"
)

const timestampLayout = "2006-01-02 15:04:05"

// MarkdownExporter writes the fixed chat export template.
type MarkdownExporter struct{}

// Export writes conv as Markdown.
func (e *MarkdownExporter) Export(conv *Conversation, w io.Writer) error {
	title := conv.Title
	if title == "" {
		title = "Untitled page"
	}

	if _, err := fmt.Fprintf(w, "# Chat Export\n\n**Page:** %s  \n**URL:** %s  \n**Exported:** %s\n\n---\n\n",
		title, conv.URL, conv.ExportedAt.Format(time.RFC1123)); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, msg := range conv.Messages {
		_, err := fmt.Fprintf(w, "### %s — %s\n\n%s\n\n",
			roleLabel(msg.Role), msg.Timestamp.Format(timestampLayout), msg.Content)
		if err != nil {
			return fmt.Errorf("failed to write message: %w", err)
		}
	}
	return nil
}

// Extension returns the file extension for this format.
func (e *MarkdownExporter) Extension() string {
	return "md"
}

// ContentType returns the MIME type for this format.
func (e *MarkdownExporter) ContentType() string {
	return "text/markdown"
}

func roleLabel(r models.Role) string {
	switch r {
	case models.RoleUser:
		return "User"
	case models.RoleAssistant:
		return "Assistant"
	case models.RoleError:
		return "Error"
	default:
		return string(r)
	}
}

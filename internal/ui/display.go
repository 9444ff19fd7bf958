// Package ui renders chat output and status lines in the terminal.
package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mfenderov/elf/pkg/models"
)

var (
	badgeOffStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("231")).
			Background(lipgloss.Color("160")).
			Padding(0, 1)

	stateStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	urlStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	assistantStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	streamStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	ruleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238"))

	discardStyle = lipgloss.NewStyle().
			Italic(true).
			Strikethrough(true).
			Foreground(lipgloss.Color("214"))
)

// Options configures a Display.
type Options struct {
	Width int  // word wrap for rendered answers; 0 means 80
	Plain bool // no Markdown rendering
}

// Display writes chat output to a terminal. It doubles as the enabled
// badge of the background context.
type Display struct {
	out      io.Writer
	renderer *glamour.TermRenderer
	width    int

	mu        sync.Mutex
	badge     string
	streaming bool // chunks written since the last Answer or Discard
}

// NewDisplay creates a display writing to out.
func NewDisplay(out io.Writer, opts Options) *Display {
	if opts.Width <= 0 {
		opts.Width = 80
	}
	d := &Display{out: out, width: opts.Width}
	if !opts.Plain {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(opts.Width),
		)
		if err == nil {
			d.renderer = r
		}
	}
	return d
}

// SetBadge records the badge text ("" or "OFF").
func (d *Display) SetBadge(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.badge = text
}

// Badge returns the current badge text.
func (d *Display) Badge() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.badge
}

// Status formats a one-line status: session state, page and badge.
func (d *Display) Status(state, pageURL string) string {
	parts := []string{stateStyle.Render(state)}
	if pageURL != "" {
		parts = append(parts, urlStyle.Render(pageURL))
	}
	if b := d.Badge(); b != "" {
		parts = append(parts, badgeOffStyle.Render(b))
	}
	return strings.Join(parts, "  ")
}

// Println writes a plain line.
func (d *Display) Println(a ...any) {
	fmt.Fprintln(d.out, a...)
}

// Printf writes formatted text.
func (d *Display) Printf(format string, a ...any) {
	fmt.Fprintf(d.out, format, a...)
}

// Chunk writes one streamed piece of an answer.
func (d *Display) Chunk(s string) {
	d.mu.Lock()
	d.streaming = true
	d.mu.Unlock()
	fmt.Fprint(d.out, streamStyle.Render(s))
}

func (d *Display) endStream() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	was := d.streaming
	d.streaming = false
	return was
}

// Discard closes a streamed answer that failed or went stale. Chunks
// already written are marked as not part of the conversation.
func (d *Display) Discard() {
	if !d.endStream() {
		return
	}
	fmt.Fprintln(d.out)
	fmt.Fprintln(d.out, discardStyle.Render("(partial answer discarded)"))
}

// Answer finishes a streamed answer and shows its Markdown rendering.
func (d *Display) Answer(content string) {
	d.endStream()
	fmt.Fprintln(d.out)
	if d.renderer == nil {
		return
	}
	fmt.Fprintln(d.out, ruleStyle.Render(strings.Repeat("─", d.width)))
	fmt.Fprint(d.out, d.Markdown(content))
}

// Markdown renders content, falling back to the raw text.
func (d *Display) Markdown(content string) string {
	if d.renderer == nil {
		return content + "\n"
	}
	out, err := d.renderer.Render(content)
	if err != nil {
		return content + "\n"
	}
	return out
}

// Error writes an error entry.
func (d *Display) Error(err error) {
	fmt.Fprintln(d.out, errorStyle.Render("✗ "+err.Error()))
}

// Message writes one logged conversation entry.
func (d *Display) Message(m models.Message) {
	ts := m.Timestamp.Format(time.Kitchen)
	switch m.Role {
	case models.RoleUser:
		fmt.Fprintf(d.out, "%s %s\n%s\n\n", userStyle.Render("You"), urlStyle.Render(ts), m.Content)
	case models.RoleAssistant:
		fmt.Fprintf(d.out, "%s %s\n%s\n", assistantStyle.Render("Elf"), urlStyle.Render(ts), d.Markdown(m.Content))
	default:
		fmt.Fprintf(d.out, "%s %s\n\n", errorStyle.Render("Error"), m.Content)
	}
}

// History replays a conversation.
func (d *Display) History(msgs []models.Message) {
	for _, m := range msgs {
		d.Message(m)
	}
}

// Pages writes a table of stored extractions.
func (d *Display) Pages(pages []models.PageRecord) {
	if len(pages) == 0 {
		fmt.Fprintln(d.out, urlStyle.Render("No pages extracted yet."))
		return
	}
	for i, p := range pages {
		title := p.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(d.out, "%2d. %s\n    %s\n    %s\n",
			i+1,
			assistantStyle.Render(title),
			urlStyle.Render(p.URL),
			urlStyle.Render(fmt.Sprintf("%d chars · %s", p.ContentLength, p.ExtractedAt.Format("2006-01-02 15:04"))))
	}
}

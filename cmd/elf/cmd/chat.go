package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/mfenderov/elf/internal/export"
	"github.com/mfenderov/elf/internal/messaging"
	"github.com/mfenderov/elf/internal/session"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat [url|file]",
	Short: "Open a page and chat about it",
	Long: `Open a page and ask the assistant about it. The conversation is saved
per page and restored the next time the page is opened.

Commands inside the chat:
  /open <url|file>   switch to another page
  /extract           extract the current page again
  /clear             clear this page's conversation
  /refresh           start a new session from the current page content
  /reset             forget every page, conversation and setting
  /export [md|json]  write the conversation to a file
  /state             show the session state
  /quit              leave

Example:
  elf chat https://go.dev/doc/effective_go`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	stopFollow := a.chat.Follow(ctx)
	defer stopFollow()

	unsubscribe := a.bus.Subscribe(func(msg messaging.Message) {
		if msg.Type == messaging.ContentUpdated {
			a.display.Printf("\n(page updated: %s)\n", msg.URL)
		}
	})
	defer unsubscribe()

	if len(args) == 1 {
		a.openAndShow(ctx, args[0])
	} else {
		a.display.Println("No page open. Use /open <url|file>.")
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		a.display.Printf("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := a.command(ctx, line); quit {
				return nil
			}
			continue
		}
		a.ask(ctx, line)
		if ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}

func (a *app) openAndShow(ctx context.Context, target string) {
	info, err := a.openTab(ctx, target)
	if err != nil {
		a.display.Error(err)
		return
	}
	snap := a.chat.Snapshot()
	a.display.Println(a.display.Status(snap.State.String(), info.URL))
	if info.Title != "" {
		a.display.Println(info.Title)
	}
	if snap.Err != nil {
		a.display.Error(snap.Err)
		return
	}
	a.display.History(snap.Messages)
}

func (a *app) ask(ctx context.Context, question string) {
	answer, err := a.chat.Send(ctx, question, a.display.Chunk)
	switch {
	case err == nil:
		a.display.Answer(answer.Content)
	case errors.Is(err, session.ErrNoSession):
		a.display.Error(errors.New("no session for this page; use /open or /refresh"))
	case errors.Is(err, session.ErrStale):
		a.display.Discard()
	default:
		a.display.Discard()
		a.display.Error(err)
	}
}

// command runs a slash command and reports whether to quit.
func (a *app) command(ctx context.Context, line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch name {
	case "/quit", "/exit":
		return true
	case "/open":
		if arg == "" {
			err = errors.New("usage: /open <url|file>")
			break
		}
		a.openAndShow(ctx, arg)
	case "/extract":
		err = a.extractActive(ctx)
	case "/clear":
		err = a.chat.ClearConversation(ctx)
		if err == nil {
			a.display.Println("Conversation cleared.")
		}
	case "/refresh":
		err = a.chat.RefreshContext(ctx)
		if err == nil {
			a.display.Println("Session refreshed.")
		}
	case "/reset":
		err = a.chat.ResetAll(ctx)
		if err == nil {
			a.display.Println("Everything was reset.")
		}
	case "/export":
		err = a.exportActive(arg)
	case "/state":
		snap := a.chat.Snapshot()
		a.display.Println(a.display.Status(snap.State.String(), snap.Tab.URL))
		if snap.Session != nil {
			a.display.Printf("thread %s · %d messages · %d tokens used\n",
				snap.Session.ThreadID, len(snap.Messages), a.coord.Settings(ctx).TotalTokens)
		}
		if snap.Err != nil {
			a.display.Error(snap.Err)
		}
	default:
		err = fmt.Errorf("unknown command %s", name)
	}
	if err != nil {
		a.display.Error(err)
	}
	return false
}

func (a *app) extractActive(ctx context.Context) error {
	info, ok := a.host.Active()
	if !ok {
		return errors.New("no page open")
	}
	resp, err := a.bus.SendToBackground(ctx, messaging.Message{Type: messaging.ExtractNow, TabID: info.ID})
	if err != nil {
		return err
	}
	if !resp.Success {
		return errors.New(resp.Error)
	}
	a.display.Printf("Extracted %d characters.\n", resp.Data.ContentLength)
	return nil
}

func (a *app) exportActive(format string) error {
	exporter, err := export.NewExporter(format)
	if err != nil {
		return err
	}
	snap := a.chat.Snapshot()
	if snap.Tab.URL == "" {
		return session.ErrNoSession
	}

	name := export.Filename(&export.Conversation{URL: snap.Tab.URL, ExportedAt: nowFunc()}, exporter)
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	if err := a.chat.Export(f, exporter); err != nil {
		return err
	}
	a.display.Printf("Exported to %s\n", name)
	return nil
}

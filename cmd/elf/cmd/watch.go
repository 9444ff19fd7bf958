package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/mfenderov/elf/internal/messaging"
	"github.com/mfenderov/elf/internal/watch"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch <file>",
	Short: "Re-extract a local file whenever it changes",
	Long: `Open a local HTML or Markdown file as a page and watch it. Each save is
applied to the page as a document mutation; significant changes are
re-extracted after the debounce delay.

Example:
  elf watch ./draft.md`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	info, err := a.host.Open(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	unsubscribe := a.bus.Subscribe(func(msg messaging.Message) {
		if msg.Type == messaging.ContentUpdated && msg.TabID == info.ID {
			a.display.Printf("re-extracted %s\n", msg.URL)
		}
	})
	defer unsubscribe()

	fw, err := watch.NewFileWatcher(path)
	if err != nil {
		return err
	}
	defer fw.Close()

	a.display.Printf("watching %s (Ctrl+C to stop)\n", path)

	err = fw.Run(ctx, func(string) {
		summary, err := a.host.Reload(ctx, info.ID)
		if err != nil {
			slog.Warn("failed to reload file", "path", path, "error", err)
			return
		}
		slog.Debug("file changed", "path", path, "nodes", summary.Nodes, "main", summary.MainTouched)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

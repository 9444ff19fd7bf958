package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var extractFormat string

var extractCmd = &cobra.Command{
	Use:   "extract <url|file>",
	Short: "Extract a page and print the stored record",
	Long: `Load a page, extract its readable content and store it like a visit
would. Prints the extracted text, or the whole record with --format json.

Example:
  elf extract ./notes.html --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&extractFormat, "format", "f", "text", "output format: text, json")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	info, err := a.host.Open(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", args[0], err)
	}

	page, err := a.coord.Page(ctx, info.URL)
	if err != nil {
		if !a.coord.Enabled(ctx) {
			return fmt.Errorf("extraction is disabled; run 'elf state on'")
		}
		return fmt.Errorf("failed to extract %s: %w", info.URL, err)
	}

	switch extractFormat {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	case "text":
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n\n%s\n", page.Title, page.URL, page.Content)
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", extractFormat)
	}
}

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	searchLimit  int
	searchFormat string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search stored extractions",
	Long: `Search previously extracted pages. Requires Elasticsearch to be
enabled (elasticsearch.enabled or ELF_ELASTICSEARCH_ENABLED=true).

Example:
  elf search "context cancellation"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum number of results")
	searchCmd.Flags().StringVarP(&searchFormat, "format", "f", "text", "output format: text, json")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	if a.index == nil {
		return errors.New("search is not available; enable elasticsearch in the config")
	}

	hits, err := a.index.Search(cmd.Context(), strings.Join(args, " "), searchLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if searchFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(hits)
	}

	if len(hits) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}
	for i, h := range hits {
		fmt.Fprintf(out, "%d. %s (%.2f)\n   %s\n", i+1, h.Title, h.Score, h.URL)
		for _, hl := range h.Highlights {
			fmt.Fprintf(out, "   … %s\n", hl)
		}
	}
	return nil
}

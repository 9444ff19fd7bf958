package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var pagesCmd = &cobra.Command{
	Use:   "pages",
	Short: "List, show or forget stored extractions",
	Args:  cobra.NoArgs,
	RunE:  runPagesList,
}

var pagesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored extractions, most recent first",
	Args:  cobra.NoArgs,
	RunE:  runPagesList,
}

var pagesShowCmd = &cobra.Command{
	Use:   "show <url>",
	Short: "Print a stored extraction as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runPagesShow,
}

var pagesClearCmd = &cobra.Command{
	Use:   "clear [url]",
	Short: "Forget one page (with its conversation) or every extraction",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPagesClear,
}

func init() {
	pagesCmd.AddCommand(pagesListCmd, pagesShowCmd, pagesClearCmd)
	rootCmd.AddCommand(pagesCmd)
}

func runPagesList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	pages, err := a.coord.Pages(cmd.Context())
	if err != nil {
		return err
	}
	a.display.Pages(pages)
	return nil
}

func runPagesShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	page, err := a.coord.Page(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(page)
}

func runPagesClear(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 1 {
		if err := a.coord.ClearPage(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Forgot %s\n", args[0])
		return nil
	}
	if err := a.coord.ClearPages(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Forgot every extraction.")
	return nil
}

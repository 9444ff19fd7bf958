package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget every page, conversation and setting",
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetYes {
		return errors.New("this deletes all stored data; pass --yes to confirm")
	}

	a, err := newApp(cmd.Context(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.chat.ResetAll(cmd.Context()); err != nil {
		return err
	}
	if a.index != nil {
		if err := a.index.DeleteIndex(cmd.Context()); err != nil {
			return fmt.Errorf("failed to delete search index: %w", err)
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), "All data removed.")
	return nil
}

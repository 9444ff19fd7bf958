package cmd

import (
	"errors"
	"fmt"

	"github.com/mfenderov/elf/internal/messaging"
	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:       "state [on|off]",
	Short:     "Show or toggle automatic extraction",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off"},
	RunE:      runState,
}

func init() {
	rootCmd.AddCommand(stateCmd)
}

func runState(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	msg := messaging.Message{Type: messaging.GetState}
	if len(args) == 1 {
		msg = messaging.Message{Type: messaging.StateChanged, Enabled: messaging.Bool(args[0] == "on")}
	}

	resp, err := a.bus.SendToBackground(cmd.Context(), msg)
	if err != nil {
		return err
	}
	if !resp.Success {
		return errors.New(resp.Error)
	}

	state := "enabled"
	if !resp.Enabled {
		state = "disabled"
	}
	fmt.Fprintln(cmd.OutOrStdout(), a.display.Status("extraction "+state, ""))
	return nil
}

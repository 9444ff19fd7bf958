package cmd

import (
	"errors"
	"fmt"

	"github.com/mfenderov/elf/internal/messaging"
	"github.com/spf13/cobra"
)

var clearAPIKey bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the backend URL and API key",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configAPIURLCmd = &cobra.Command{
	Use:   "api-url [url]",
	Short: "Show or set the backend URL; an empty argument restores the default",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigAPIURL,
}

var configAPIKeyCmd = &cobra.Command{
	Use:   "api-key [key]",
	Short: "Set the API key forwarded to the backend",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigAPIKey,
}

func init() {
	configAPIKeyCmd.Flags().BoolVar(&clearAPIKey, "clear", false, "remove the stored key")
	configCmd.AddCommand(configAPIURLCmd, configAPIKeyCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	s := a.coord.Settings(cmd.Context())
	key := "(not set)"
	if s.APIKey != nil && *s.APIKey != "" {
		key = "(set)"
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "store:       %s\n", a.cfg.Store.Path)
	fmt.Fprintf(out, "enabled:     %t\n", s.Enabled)
	fmt.Fprintf(out, "api url:     %s\n", s.APIURL)
	fmt.Fprintf(out, "api key:     %s\n", key)
	fmt.Fprintf(out, "tokens used: %d\n", s.TotalTokens)
	return nil
}

func runConfigAPIURL(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	msg := messaging.Message{Type: messaging.GetAPIURL}
	if len(args) == 1 {
		msg = messaging.Message{Type: messaging.SetAPIURL, APIURL: args[0]}
	}
	resp, err := a.bus.SendToBackground(cmd.Context(), msg)
	if err != nil {
		return err
	}
	if !resp.Success {
		return errors.New(resp.Error)
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.APIURL)
	return nil
}

func runConfigAPIKey(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !clearAPIKey {
		return errors.New("pass a key or --clear")
	}

	a, err := newApp(cmd.Context(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	key := ""
	if len(args) == 1 {
		key = args[0]
	}
	if err := a.coord.SetAPIKey(cmd.Context(), key); err != nil {
		return err
	}
	if key == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "API key removed.")
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "API key saved.")
	}
	return nil
}

package cmd

import (
	"fmt"

	"github.com/mfenderov/elf/internal/mcp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the MCP server. It communicates via stdio and provides tools to
toggle extraction, manage the backend URL, list and read stored pages,
extract a page and ask the assistant about it. search_pages is added
when Elasticsearch is enabled.

Example:
  elf serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	stopFollow := a.chat.Follow(cmd.Context())
	defer stopFollow()

	mcpConfig := mcp.Config{
		Name:    a.cfg.MCP.Name,
		Version: a.cfg.MCP.Version,
		Bus:     a.bus,
		Pages:   a.coord,
		Tabs:    a.host,
		Chat:    a.chat,
	}
	if a.index != nil {
		mcpConfig.Search = a.index
	}

	server, err := mcp.NewServer(mcpConfig)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	fmt.Fprintln(cmd.ErrOrStderr(), "Starting MCP server...")

	return server.ServeStdio()
}

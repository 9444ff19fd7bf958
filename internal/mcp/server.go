// Package mcp exposes the extension's popup actions and page chat as MCP
// tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mfenderov/elf/internal/messaging"
	"github.com/mfenderov/elf/internal/search"
	"github.com/mfenderov/elf/internal/session"
	"github.com/mfenderov/elf/internal/tabs"
	"github.com/mfenderov/elf/pkg/models"
)

// PageStore reads stored extractions.
type PageStore interface {
	Page(ctx context.Context, url string) (*models.PageRecord, error)
	Pages(ctx context.Context) ([]models.PageRecord, error)
}

// Tabs opens pages.
type Tabs interface {
	Open(ctx context.Context, target string) (tabs.Info, error)
	Navigate(ctx context.Context, id int, target string) (tabs.Info, error)
	Active() (tabs.Info, bool)
}

// Chat is the page session.
type Chat interface {
	Open(ctx context.Context, tab session.Tab) error
	Send(ctx context.Context, text string, onChunk func(string)) (*models.Message, error)
}

// Searcher finds stored pages. Optional.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]search.Hit, error)
}

// Config holds MCP server configuration.
type Config struct {
	Name    string
	Version string
	Bus     *messaging.Bus
	Pages   PageStore
	Tabs    Tabs
	Chat    Chat
	Search  Searcher
}

// Server wraps the MCP server.
type Server struct {
	mcpServer *server.MCPServer
	config    Config
}

// NewServer creates a new MCP server with the elf tools.
func NewServer(config Config) (*Server, error) {
	if config.Bus == nil || config.Pages == nil || config.Tabs == nil || config.Chat == nil {
		return nil, fmt.Errorf("bus, pages, tabs and chat are required")
	}

	mcpServer := server.NewMCPServer(
		config.Name,
		config.Version,
		server.WithToolCapabilities(true),
	)

	s := &Server{mcpServer: mcpServer, config: config}

	mcpServer.AddTool(mcp.NewTool("get_state",
		mcp.WithDescription("Report whether page extraction is enabled"),
	), s.getStateHandler)

	mcpServer.AddTool(mcp.NewTool("set_state",
		mcp.WithDescription("Enable or disable page extraction"),
		mcp.WithBoolean("enabled", mcp.Required(), mcp.Description("New state")),
	), s.setStateHandler)

	mcpServer.AddTool(mcp.NewTool("get_api_url",
		mcp.WithDescription("Return the assistant backend URL"),
	), s.getAPIURLHandler)

	mcpServer.AddTool(mcp.NewTool("set_api_url",
		mcp.WithDescription("Change the assistant backend URL; blank restores the default"),
		mcp.WithString("api_url", mcp.Required(), mcp.Description("Backend base URL")),
	), s.setAPIURLHandler)

	mcpServer.AddTool(mcp.NewTool("list_pages",
		mcp.WithDescription("List stored page extractions, most recent first"),
	), s.listPagesHandler)

	mcpServer.AddTool(mcp.NewTool("get_page_content",
		mcp.WithDescription("Get the stored extraction of a page"),
		mcp.WithString("url", mcp.Required(), mcp.Description("Page URL")),
	), s.getPageHandler)

	mcpServer.AddTool(mcp.NewTool("extract_now",
		mcp.WithDescription("Open a page (or use the active one) and extract it now"),
		mcp.WithString("url", mcp.Description("Page URL or local file; defaults to the active tab")),
	), s.extractNowHandler)

	mcpServer.AddTool(mcp.NewTool("ask",
		mcp.WithDescription("Ask the assistant a question about a page"),
		mcp.WithString("question", mcp.Required(), mcp.Description("Question to ask")),
		mcp.WithString("url", mcp.Description("Page URL or local file; defaults to the active tab")),
	), s.askHandler)

	if config.Search != nil {
		mcpServer.AddTool(mcp.NewTool("search_pages",
			mcp.WithDescription("Search previously extracted pages"),
			mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results to return (default: 10)")),
		), s.searchHandler)
	}

	return s, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) send(ctx context.Context, msg messaging.Message) (*mcp.CallToolResult, *messaging.Response) {
	resp, err := s.config.Bus.SendToBackground(ctx, msg)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !resp.Success {
		return mcp.NewToolResultError(resp.Error), nil
	}
	return nil, resp
}

func (s *Server) getStateHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	failed, resp := s.send(ctx, messaging.Message{Type: messaging.GetState})
	if failed != nil {
		return failed, nil
	}
	return jsonResult(map[string]bool{"enabled": resp.Enabled})
}

func (s *Server) setStateHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	enabled, err := req.RequireBool("enabled")
	if err != nil {
		return mcp.NewToolResultError("enabled parameter is required"), nil
	}
	failed, resp := s.send(ctx, messaging.Message{Type: messaging.StateChanged, Enabled: messaging.Bool(enabled)})
	if failed != nil {
		return failed, nil
	}
	return jsonResult(map[string]bool{"enabled": resp.Enabled})
}

func (s *Server) getAPIURLHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	failed, resp := s.send(ctx, messaging.Message{Type: messaging.GetAPIURL})
	if failed != nil {
		return failed, nil
	}
	return mcp.NewToolResultText(resp.APIURL), nil
}

func (s *Server) setAPIURLHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	u, err := req.RequireString("api_url")
	if err != nil {
		return mcp.NewToolResultError("api_url parameter is required"), nil
	}
	failed, resp := s.send(ctx, messaging.Message{Type: messaging.SetAPIURL, APIURL: u})
	if failed != nil {
		return failed, nil
	}
	return mcp.NewToolResultText(resp.APIURL), nil
}

type pageSummary struct {
	URL           string `json:"url"`
	Title         string `json:"title"`
	ContentLength int    `json:"contentLength"`
	ExtractedAt   string `json:"extractedAt"`
}

func (s *Server) listPagesHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pages, err := s.config.Pages.Pages(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list pages failed: %v", err)), nil
	}

	out := make([]pageSummary, len(pages))
	for i, p := range pages {
		out[i] = pageSummary{
			URL:           p.URL,
			Title:         p.Title,
			ContentLength: p.ContentLength,
			ExtractedAt:   p.ExtractedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}
	return jsonResult(out)
}

func (s *Server) getPageHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	u, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError("url parameter is required"), nil
	}
	page, err := s.config.Pages.Page(ctx, u)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get page failed: %v", err)), nil
	}
	return jsonResult(page)
}

// tab returns the active tab, first navigating it to url when one is
// given. The server keeps a single tab.
func (s *Server) tab(ctx context.Context, url string) (tabs.Info, error) {
	info, ok := s.config.Tabs.Active()
	switch {
	case url == "" && !ok:
		return tabs.Info{}, fmt.Errorf("no active tab; pass a url")
	case url == "" || info.URL == url:
		return info, nil
	case ok:
		return s.config.Tabs.Navigate(ctx, info.ID, url)
	default:
		return s.config.Tabs.Open(ctx, url)
	}
}

func (s *Server) extractNowHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	info, err := s.tab(ctx, req.GetString("url", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	failed, resp := s.send(ctx, messaging.Message{Type: messaging.ExtractNow, TabID: info.ID})
	if failed != nil {
		return failed, nil
	}
	return jsonResult(resp.Data)
}

func (s *Server) askHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError("question parameter is required"), nil
	}

	info, err := s.tab(ctx, req.GetString("url", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.config.Chat.Open(ctx, session.Tab{ID: info.ID, URL: info.URL, Title: info.Title}); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("open session failed: %v", err)), nil
	}

	answer, err := s.config.Chat.Send(ctx, question, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("ask failed: %v", err)), nil
	}
	return mcp.NewToolResultText(answer.Content), nil
}

func (s *Server) searchHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query parameter is required"), nil
	}

	hits, err := s.config.Search.Search(ctx, query, req.GetInt("limit", 10))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	return jsonResult(hits)
}

// ServeStdio starts the MCP server using stdio transport.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

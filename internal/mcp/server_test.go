package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mfenderov/elf/internal/messaging"
	"github.com/mfenderov/elf/internal/search"
	"github.com/mfenderov/elf/internal/session"
	"github.com/mfenderov/elf/internal/tabs"
	"github.com/mfenderov/elf/pkg/models"
)

type fakePages struct {
	pages []models.PageRecord
}

func (f *fakePages) Page(ctx context.Context, url string) (*models.PageRecord, error) {
	for _, p := range f.pages {
		if p.URL == url {
			return &p, nil
		}
	}
	return nil, errors.New("page not found")
}

func (f *fakePages) Pages(ctx context.Context) ([]models.PageRecord, error) {
	return f.pages, nil
}

type fakeTabs struct {
	opened    []string
	navigated []string
	active    *tabs.Info
}

func (f *fakeTabs) Open(ctx context.Context, target string) (tabs.Info, error) {
	f.opened = append(f.opened, target)
	info := tabs.Info{ID: len(f.opened), URL: target, Title: "Opened", Active: true}
	f.active = &info
	return info, nil
}

func (f *fakeTabs) Navigate(ctx context.Context, id int, target string) (tabs.Info, error) {
	f.navigated = append(f.navigated, target)
	info := tabs.Info{ID: id, URL: target, Title: "Navigated", Active: true}
	f.active = &info
	return info, nil
}

func (f *fakeTabs) Active() (tabs.Info, bool) {
	if f.active == nil {
		return tabs.Info{}, false
	}
	return *f.active, true
}

type fakeChat struct {
	opened []session.Tab
	asked  []string
}

func (f *fakeChat) Open(ctx context.Context, tab session.Tab) error {
	f.opened = append(f.opened, tab)
	return nil
}

func (f *fakeChat) Send(ctx context.Context, text string, onChunk func(string)) (*models.Message, error) {
	f.asked = append(f.asked, text)
	return &models.Message{Role: models.RoleAssistant, Content: "answer to " + text}, nil
}

type fakeSearch struct{}

func (fakeSearch) Search(ctx context.Context, query string, limit int) ([]search.Hit, error) {
	return []search.Hit{{URL: "https://example.com/a", Title: query}}, nil
}

func newTestServer(t *testing.T) (*Server, *fakeTabs, *fakeChat) {
	t.Helper()
	bus := messaging.NewBus()
	enabled := true
	apiURL := "http://localhost:8787"
	r := bus.Background()
	r.Handle(messaging.GetState, func(ctx context.Context, msg messaging.Message) (*messaging.Response, error) {
		return &messaging.Response{Success: true, Enabled: enabled}, nil
	})
	r.Handle(messaging.StateChanged, func(ctx context.Context, msg messaging.Message) (*messaging.Response, error) {
		enabled = *msg.Enabled
		return &messaging.Response{Success: true, Enabled: enabled}, nil
	})
	r.Handle(messaging.GetAPIURL, func(ctx context.Context, msg messaging.Message) (*messaging.Response, error) {
		return &messaging.Response{Success: true, APIURL: apiURL}, nil
	})
	r.Handle(messaging.SetAPIURL, func(ctx context.Context, msg messaging.Message) (*messaging.Response, error) {
		apiURL = msg.APIURL
		return &messaging.Response{Success: true, APIURL: apiURL}, nil
	})
	r.Handle(messaging.ExtractNow, func(ctx context.Context, msg messaging.Message) (*messaging.Response, error) {
		return &messaging.Response{Success: true, Data: &models.PageRecord{URL: "tab", Title: "extracted"}}, nil
	})

	ft := &fakeTabs{}
	fc := &fakeChat{}
	s, err := NewServer(Config{
		Name:    "elf",
		Version: "1.0.0",
		Bus:     bus,
		Pages: &fakePages{pages: []models.PageRecord{
			{URL: "https://example.com/a", Title: "A", ContentLength: 5, ExtractedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		}},
		Tabs:   ft,
		Chat:   fc,
		Search: fakeSearch{},
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return s, ft, fc
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content %T", res.Content[0])
	}
	return tc.Text
}

func TestNewServer_Validation(t *testing.T) {
	if _, err := NewServer(Config{Name: "elf"}); err == nil {
		t.Error("expected error without dependencies")
	}
}

func TestServer_State(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx := context.Background()

	res, _ := s.setStateHandler(ctx, call(map[string]any{"enabled": false}))
	if res.IsError {
		t.Fatalf("set_state failed: %s", text(t, res))
	}

	res, _ = s.getStateHandler(ctx, call(nil))
	var state map[string]bool
	if err := json.Unmarshal([]byte(text(t, res)), &state); err != nil {
		t.Fatal(err)
	}
	if state["enabled"] {
		t.Error("expected disabled state")
	}

	res, _ = s.setStateHandler(ctx, call(map[string]any{}))
	if !res.IsError {
		t.Error("set_state without enabled should fail")
	}
}

func TestServer_APIURL(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx := context.Background()

	res, _ := s.setAPIURLHandler(ctx, call(map[string]any{"api_url": "https://api.example.com"}))
	if got := text(t, res); got != "https://api.example.com" {
		t.Errorf("set_api_url = %q", got)
	}
	res, _ = s.getAPIURLHandler(ctx, call(nil))
	if got := text(t, res); got != "https://api.example.com" {
		t.Errorf("get_api_url = %q", got)
	}
}

func TestServer_Pages(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx := context.Background()

	res, _ := s.listPagesHandler(ctx, call(nil))
	var list []pageSummary
	if err := json.Unmarshal([]byte(text(t, res)), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].URL != "https://example.com/a" {
		t.Errorf("list_pages = %+v", list)
	}

	res, _ = s.getPageHandler(ctx, call(map[string]any{"url": "https://example.com/a"}))
	if res.IsError {
		t.Errorf("get_page_content failed: %s", text(t, res))
	}
	res, _ = s.getPageHandler(ctx, call(map[string]any{"url": "https://example.com/missing"}))
	if !res.IsError {
		t.Error("missing page should be an error")
	}
}

func TestServer_ExtractNow(t *testing.T) {
	s, ft, _ := newTestServer(t)
	ctx := context.Background()

	res, _ := s.extractNowHandler(ctx, call(nil))
	if !res.IsError {
		t.Error("extract_now without a tab should fail")
	}

	res, _ = s.extractNowHandler(ctx, call(map[string]any{"url": "https://example.com/b"}))
	if res.IsError {
		t.Fatalf("extract_now failed: %s", text(t, res))
	}
	if len(ft.opened) != 1 {
		t.Errorf("expected page to be opened, got %v", ft.opened)
	}
}

func TestServer_ReusesActiveTab(t *testing.T) {
	s, ft, _ := newTestServer(t)
	ctx := context.Background()

	for _, u := range []string{"https://example.com/a", "https://example.com/a", "https://example.com/b"} {
		res, _ := s.extractNowHandler(ctx, call(map[string]any{"url": u}))
		if res.IsError {
			t.Fatalf("extract_now %s failed: %s", u, text(t, res))
		}
	}

	if len(ft.opened) != 1 {
		t.Errorf("expected one tab to be opened, got %v", ft.opened)
	}
	if len(ft.navigated) != 1 || ft.navigated[0] != "https://example.com/b" {
		t.Errorf("expected the active tab to navigate to b, got %v", ft.navigated)
	}
	if info, _ := ft.Active(); info.ID != 1 {
		t.Errorf("active tab = %d, want 1", info.ID)
	}
}

func TestServer_Ask(t *testing.T) {
	s, _, fc := newTestServer(t)
	ctx := context.Background()

	res, _ := s.askHandler(ctx, call(map[string]any{"question": "Summarize", "url": "https://example.com/b"}))
	if res.IsError {
		t.Fatalf("ask failed: %s", text(t, res))
	}
	if got := text(t, res); got != "answer to Summarize" {
		t.Errorf("ask = %q", got)
	}
	if len(fc.opened) != 1 || fc.opened[0].URL != "https://example.com/b" {
		t.Errorf("session not opened for page: %+v", fc.opened)
	}

	res, _ = s.askHandler(ctx, call(map[string]any{}))
	if !res.IsError {
		t.Error("ask without question should fail")
	}
}

func TestServer_Search(t *testing.T) {
	s, _, _ := newTestServer(t)

	res, _ := s.searchHandler(context.Background(), call(map[string]any{"query": "alpha"}))
	var hits []search.Hit
	if err := json.Unmarshal([]byte(text(t, res)), &hits); err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Title != "alpha" {
		t.Errorf("search_pages = %+v", hits)
	}
}

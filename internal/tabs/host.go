// Package tabs hosts the open pages. Each tab runs a content agent over
// its loaded document; switching tabs is announced to the background.
package tabs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mfenderov/elf/internal/content"
	"github.com/mfenderov/elf/internal/extractor"
	"github.com/mfenderov/elf/internal/messaging"
	"github.com/mfenderov/elf/internal/scraper"
	"github.com/mfenderov/elf/internal/watch"
)

// Fetcher loads a page.
type Fetcher interface {
	Fetch(ctx context.Context, target string) (*scraper.Page, error)
}

// Config holds host settings passed on to every content agent.
type Config struct {
	Extractor       *extractor.Extractor
	Debounce        time.Duration
	MinMutatedNodes int
}

// Info describes an open tab.
type Info struct {
	ID     int
	URL    string
	Title  string
	Active bool
}

type tab struct {
	id     int
	target string
	agent  *content.Agent
}

// Host owns the open tabs.
type Host struct {
	bus     *messaging.Bus
	fetcher Fetcher
	config  Config

	mu     sync.Mutex
	tabs   map[int]*tab
	active int
	nextID int
}

// New creates an empty host.
func New(bus *messaging.Bus, fetcher Fetcher, config Config) *Host {
	if config.Extractor == nil {
		config.Extractor = extractor.New(extractor.Options{})
	}
	return &Host{
		bus:     bus,
		fetcher: fetcher,
		config:  config,
		tabs:    make(map[int]*tab),
		nextID:  1,
	}
}

// Open makes target the active tab. A tab already showing target is
// re-activated; otherwise target is loaded in a new tab.
func (h *Host) Open(ctx context.Context, target string) (Info, error) {
	if id, ok := h.find(target); ok {
		return h.Activate(ctx, id)
	}

	pageURL, html, err := h.load(ctx, target)
	if err != nil {
		return Info{}, err
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.mu.Unlock()

	if err := h.attach(ctx, id, target, pageURL, html); err != nil {
		return Info{}, err
	}
	return h.Activate(ctx, id)
}

// Navigate loads target in an existing tab.
func (h *Host) Navigate(ctx context.Context, id int, target string) (Info, error) {
	if _, ok := h.get(id); !ok {
		return Info{}, fmt.Errorf("tab %d not found", id)
	}

	pageURL, html, err := h.load(ctx, target)
	if err != nil {
		return Info{}, err
	}
	if err := h.attach(ctx, id, target, pageURL, html); err != nil {
		return Info{}, err
	}
	return h.Activate(ctx, id)
}

// Reload fetches the tab's page again and applies it as a mutation.
func (h *Host) Reload(ctx context.Context, id int) (watch.Summary, error) {
	t, ok := h.get(id)
	if !ok {
		return watch.Summary{}, fmt.Errorf("tab %d not found", id)
	}

	_, html, err := h.load(ctx, t.target)
	if err != nil {
		return watch.Summary{}, err
	}
	return t.agent.Mutate(html)
}

// Mutate replaces the document of a tab.
func (h *Host) Mutate(id int, html string) (watch.Summary, error) {
	t, ok := h.get(id)
	if !ok {
		return watch.Summary{}, fmt.Errorf("tab %d not found", id)
	}
	return t.agent.Mutate(html)
}

// Activate makes a tab the active one and announces it.
func (h *Host) Activate(ctx context.Context, id int) (Info, error) {
	h.mu.Lock()
	t, ok := h.tabs[id]
	if ok {
		h.active = id
	}
	h.mu.Unlock()
	if !ok {
		return Info{}, fmt.Errorf("tab %d not found", id)
	}

	info := Info{ID: id, URL: t.agent.URL(), Title: t.agent.Title(), Active: true}
	_, err := h.bus.SendToBackground(ctx, messaging.Message{
		Type:  messaging.TabChanged,
		TabID: info.ID,
		URL:   info.URL,
		Title: info.Title,
	})
	if err != nil {
		slog.Debug("tab change not delivered", "tab", id, "error", err)
	}
	return info, nil
}

// Active returns the active tab.
func (h *Host) Active() (Info, bool) {
	h.mu.Lock()
	id := h.active
	h.mu.Unlock()
	if id == 0 {
		return Info{}, false
	}
	return h.Info(id)
}

// Info describes one tab.
func (h *Host) Info(id int) (Info, bool) {
	t, ok := h.get(id)
	if !ok {
		return Info{}, false
	}
	h.mu.Lock()
	active := h.active == id
	h.mu.Unlock()
	return Info{ID: id, URL: t.agent.URL(), Title: t.agent.Title(), Active: active}, true
}

// List returns every open tab ordered by id.
func (h *Host) List() []Info {
	h.mu.Lock()
	ids := make([]int, 0, len(h.tabs))
	for id := range h.tabs {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	sort.Ints(ids)
	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		if info, ok := h.Info(id); ok {
			out = append(out, info)
		}
	}
	return out
}

// Close stops a tab's agent and forgets the tab.
func (h *Host) Close(id int) {
	h.mu.Lock()
	t, ok := h.tabs[id]
	delete(h.tabs, id)
	if h.active == id {
		h.active = 0
	}
	h.mu.Unlock()

	if ok {
		t.agent.Stop()
	}
}

// CloseAll closes every tab.
func (h *Host) CloseAll() {
	for _, info := range h.List() {
		h.Close(info.ID)
	}
}

// find returns the tab opened or navigated to target.
func (h *Host) find(target string) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, t := range h.tabs {
		if t.target == target || t.agent.URL() == target {
			return id, true
		}
	}
	return 0, false
}

func (h *Host) get(id int) (*tab, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tabs[id]
	return t, ok
}

// load fetches target. Browser-internal pages are not fetched; they get
// an empty document the extractor refuses.
func (h *Host) load(ctx context.Context, target string) (string, string, error) {
	if extractor.IsInternalURL(target) {
		return target, "<html><body></body></html>", nil
	}
	page, err := h.fetcher.Fetch(ctx, target)
	if err != nil {
		return "", "", fmt.Errorf("failed to load %s: %w", target, err)
	}
	return page.URL, page.HTML, nil
}

func (h *Host) attach(ctx context.Context, id int, target, pageURL, html string) error {
	agent, err := content.New(content.Config{
		TabID:           id,
		URL:             pageURL,
		Bus:             h.bus,
		Extractor:       h.config.Extractor,
		Debounce:        h.config.Debounce,
		MinMutatedNodes: h.config.MinMutatedNodes,
	}, html)
	if err != nil {
		return err
	}

	h.mu.Lock()
	old := h.tabs[id]
	h.tabs[id] = &tab{id: id, target: target, agent: agent}
	h.mu.Unlock()

	if old != nil {
		old.agent.Stop()
	}
	agent.Start(ctx)
	return nil
}

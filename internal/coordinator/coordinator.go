// Package coordinator is the background context: it owns the extracted
// page map, the enable flag and backend settings, and routes messages
// between tabs and panels.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mfenderov/elf/internal/kv"
	"github.com/mfenderov/elf/internal/messaging"
	"github.com/mfenderov/elf/pkg/models"
)

// Badge texts.
const (
	BadgeOn  = ""
	BadgeOff = "OFF"
)

// ErrPageNotFound is returned when no extraction is stored for a URL.
var ErrPageNotFound = errors.New("page not found")

// Indicator shows the enabled state to the user.
type Indicator interface {
	SetBadge(text string)
}

// PageIndexer mirrors stored pages into a search index.
type PageIndexer interface {
	IndexPage(ctx context.Context, page *models.PageRecord) error
	DeletePage(ctx context.Context, url string) error
}

// PanelOpener opens the chat panel for a tab.
type PanelOpener interface {
	OpenPanel(ctx context.Context, tabID int) error
}

// Config holds coordinator dependencies and limits.
type Config struct {
	DefaultAPIURL string
	MaxPages      int
	Indicator     Indicator
	Indexer       PageIndexer
	Panel         PanelOpener
	Now           func() time.Time
}

// Coordinator persists extractions and settings.
type Coordinator struct {
	store  *kv.Store
	bus    *messaging.Bus
	config Config
}

// New creates a coordinator. Call Start to register its message handlers.
func New(store *kv.Store, bus *messaging.Bus, config Config) *Coordinator {
	if config.MaxPages <= 0 {
		config.MaxPages = models.MaxPages
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Coordinator{store: store, bus: bus, config: config}
}

// Start registers the background handlers and refreshes the badge from
// the persisted flag.
func (c *Coordinator) Start(ctx context.Context) {
	r := c.bus.Background()
	r.Handle(messaging.ContentExtracted, c.handleContentExtracted)
	r.Handle(messaging.ContentUpdated, c.relay)
	r.Handle(messaging.TabChanged, c.relay)
	r.Handle(messaging.GetState, c.handleGetState)
	r.Handle(messaging.StateChanged, c.handleStateChanged)
	r.Handle(messaging.ExtractNow, c.handleExtractNow)
	r.Handle(messaging.GetAPIURL, c.handleGetAPIURL)
	r.Handle(messaging.SetAPIURL, c.handleSetAPIURL)
	r.Handle(messaging.OpenSidePanel, c.handleOpenSidePanel)

	c.updateBadge(c.Enabled(ctx))
}

// RecordExtraction stores page under its URL, stamps extractedAt and
// evicts the least recently extracted pages beyond the cap.
func (c *Coordinator) RecordExtraction(ctx context.Context, page *models.PageRecord) error {
	if page == nil || page.URL == "" {
		return fmt.Errorf("page record without url")
	}

	rec := *page
	rec.ExtractedAt = c.config.Now()

	var evicted []string
	err := c.store.Update(ctx, models.KeyExtractedContent, func(current json.RawMessage) (any, error) {
		pages, err := decodePages(current)
		if err != nil {
			return nil, err
		}
		pages[rec.URL] = &rec
		evicted = evict(pages, c.config.MaxPages)
		return pages, nil
	})
	if err != nil {
		return fmt.Errorf("failed to record extraction: %w", err)
	}

	slog.Debug("recorded extraction", "url", rec.URL, "length", rec.ContentLength, "evicted", len(evicted))

	if c.config.Indexer != nil {
		if err := c.config.Indexer.IndexPage(ctx, &rec); err != nil {
			slog.Warn("failed to index page", "url", rec.URL, "error", err)
		}
		for _, u := range evicted {
			if err := c.config.Indexer.DeletePage(ctx, u); err != nil {
				slog.Warn("failed to remove evicted page from index", "url", u, "error", err)
			}
		}
	}
	return nil
}

// evict drops the oldest entries until at most max remain and returns
// their URLs.
func evict(pages map[string]*models.PageRecord, max int) []string {
	if len(pages) <= max {
		return nil
	}

	urls := make([]string, 0, len(pages))
	for u := range pages {
		urls = append(urls, u)
	}
	sort.Slice(urls, func(i, j int) bool {
		a, b := pages[urls[i]].ExtractedAt, pages[urls[j]].ExtractedAt
		if a.Equal(b) {
			return urls[i] < urls[j]
		}
		return a.Before(b)
	})

	evicted := urls[:len(urls)-max]
	for _, u := range evicted {
		delete(pages, u)
	}
	return evicted
}

func decodePages(raw json.RawMessage) (map[string]*models.PageRecord, error) {
	pages := make(map[string]*models.PageRecord)
	if raw == nil {
		return pages, nil
	}
	if err := json.Unmarshal(raw, &pages); err != nil {
		return nil, fmt.Errorf("failed to decode pages: %w", err)
	}
	return pages, nil
}

func (c *Coordinator) loadPages(ctx context.Context) (map[string]*models.PageRecord, error) {
	var pages map[string]*models.PageRecord
	err := c.store.Get(ctx, models.KeyExtractedContent, &pages)
	if errors.Is(err, kv.ErrNotFound) {
		return map[string]*models.PageRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	return pages, nil
}

// Page returns the stored extraction for url.
func (c *Coordinator) Page(ctx context.Context, url string) (*models.PageRecord, error) {
	pages, err := c.loadPages(ctx)
	if err != nil {
		return nil, err
	}
	page, ok := pages[url]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPageNotFound, url)
	}
	return page, nil
}

// Pages returns every stored extraction, most recent first.
func (c *Coordinator) Pages(ctx context.Context) ([]models.PageRecord, error) {
	pages, err := c.loadPages(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.PageRecord, 0, len(pages))
	for _, p := range pages {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExtractedAt.Equal(out[j].ExtractedAt) {
			return out[i].URL < out[j].URL
		}
		return out[i].ExtractedAt.After(out[j].ExtractedAt)
	})
	return out, nil
}

// ClearPage forgets everything stored for url: its extraction, session
// and conversation.
func (c *Coordinator) ClearPage(ctx context.Context, url string) error {
	err := c.store.Update(ctx, models.KeyExtractedContent, func(current json.RawMessage) (any, error) {
		pages, err := decodePages(current)
		if err != nil {
			return nil, err
		}
		delete(pages, url)
		return pages, nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear page: %w", err)
	}

	if err := c.store.Remove(ctx, models.SessionKey(url), models.MessagesKey(url)); err != nil {
		return fmt.Errorf("failed to clear page session: %w", err)
	}

	if c.config.Indexer != nil {
		if err := c.config.Indexer.DeletePage(ctx, url); err != nil {
			slog.Warn("failed to remove page from index", "url", url, "error", err)
		}
	}
	return nil
}

// ClearPages forgets every stored extraction.
func (c *Coordinator) ClearPages(ctx context.Context) error {
	if err := c.store.Remove(ctx, models.KeyExtractedContent); err != nil {
		return fmt.Errorf("failed to clear pages: %w", err)
	}
	return nil
}

// Enabled reports the persisted flag. An unset flag means enabled;
// storage errors are logged and also read as enabled.
func (c *Coordinator) Enabled(ctx context.Context) bool {
	var enabled bool
	err := c.store.Get(ctx, models.KeyEnabled, &enabled)
	if errors.Is(err, kv.ErrNotFound) {
		return true
	}
	if err != nil {
		slog.Warn("failed to load enabled flag", "error", err)
		return true
	}
	return enabled
}

// SetEnabled persists the flag and updates the badge.
func (c *Coordinator) SetEnabled(ctx context.Context, enabled bool) error {
	if err := c.store.Set(ctx, map[string]any{models.KeyEnabled: enabled}); err != nil {
		return fmt.Errorf("failed to save enabled flag: %w", err)
	}
	c.updateBadge(enabled)
	return nil
}

func (c *Coordinator) updateBadge(enabled bool) {
	if c.config.Indicator == nil {
		return
	}
	if enabled {
		c.config.Indicator.SetBadge(BadgeOn)
	} else {
		c.config.Indicator.SetBadge(BadgeOff)
	}
}

// APIURL returns the configured backend URL, or the default when unset
// or blank.
func (c *Coordinator) APIURL(ctx context.Context) string {
	var u string
	err := c.store.Get(ctx, models.KeyAPIURL, &u)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		slog.Warn("failed to load api url", "error", err)
	}
	if strings.TrimSpace(u) == "" {
		return c.config.DefaultAPIURL
	}
	return u
}

// SetAPIURL persists the backend URL. A blank URL restores the default.
func (c *Coordinator) SetAPIURL(ctx context.Context, u string) error {
	u = strings.TrimSpace(u)
	var err error
	if u == "" {
		err = c.store.Remove(ctx, models.KeyAPIURL)
	} else {
		err = c.store.Set(ctx, map[string]any{models.KeyAPIURL: strings.TrimRight(u, "/")})
	}
	if err != nil {
		return fmt.Errorf("failed to save api url: %w", err)
	}
	return nil
}

// SetAPIKey persists the backend credential. A blank key removes it.
func (c *Coordinator) SetAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	var err error
	if key == "" {
		err = c.store.Remove(ctx, models.KeyAPIKey)
	} else {
		err = c.store.Set(ctx, map[string]any{models.KeyAPIKey: key})
	}
	if err != nil {
		return fmt.Errorf("failed to save api key: %w", err)
	}
	return nil
}

// AddTokens adds n to the running token total.
func (c *Coordinator) AddTokens(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	err := c.store.Update(ctx, models.KeyTotalTokens, func(current json.RawMessage) (any, error) {
		var total int
		if current != nil {
			if err := json.Unmarshal(current, &total); err != nil {
				return nil, fmt.Errorf("failed to decode token total: %w", err)
			}
		}
		return total + n, nil
	})
	if err != nil {
		return fmt.Errorf("failed to add tokens: %w", err)
	}
	return nil
}

// Settings loads every process-wide setting. Unreadable values keep
// their defaults.
func (c *Coordinator) Settings(ctx context.Context) models.Settings {
	s := models.Settings{
		Enabled: c.Enabled(ctx),
		APIURL:  c.APIURL(ctx),
	}

	var key string
	if err := c.store.Get(ctx, models.KeyAPIKey, &key); err == nil && key != "" {
		s.APIKey = &key
	} else if err != nil && !errors.Is(err, kv.ErrNotFound) {
		slog.Warn("failed to load api key", "error", err)
	}

	if err := c.store.Get(ctx, models.KeyTotalTokens, &s.TotalTokens); err != nil && !errors.Is(err, kv.ErrNotFound) {
		slog.Warn("failed to load token total", "error", err)
	}
	return s
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mfenderov/elf/internal/backend"
	"github.com/mfenderov/elf/internal/config"
	"github.com/mfenderov/elf/internal/coordinator"
	"github.com/mfenderov/elf/internal/extractor"
	"github.com/mfenderov/elf/internal/kv"
	"github.com/mfenderov/elf/internal/messaging"
	"github.com/mfenderov/elf/internal/scraper"
	"github.com/mfenderov/elf/internal/search"
	"github.com/mfenderov/elf/internal/session"
	"github.com/mfenderov/elf/internal/tabs"
	"github.com/mfenderov/elf/internal/ui"
	"github.com/mfenderov/elf/pkg/models"
)

// app wires the background, tab and panel contexts of one process.
type app struct {
	cfg     config.Config
	store   *kv.Store
	bus     *messaging.Bus
	coord   *coordinator.Coordinator
	scraper *scraper.Scraper
	host    *tabs.Host
	chat    *session.Manager
	display *ui.Display
	index   *search.Index // nil unless Elasticsearch is enabled and reachable
}

func newApp(ctx context.Context, out io.Writer) (*app, error) {
	cfg := GetConfig()

	store, err := kv.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		store:   store,
		bus:     messaging.NewBus(),
		display: ui.NewDisplay(out, ui.Options{Plain: plain}),
	}

	if cfg.Elasticsearch.Enabled {
		a.index = openIndex(ctx, cfg.Elasticsearch)
	}

	coordCfg := coordinator.Config{
		DefaultAPIURL: config.DefaultAPIURL,
		Indicator:     a.display,
		Panel:         panel{a},
	}
	if a.index != nil {
		coordCfg.Indexer = a.index
	}
	a.coord = coordinator.New(store, a.bus, coordCfg)
	a.coord.Start(ctx)

	if err := a.seedSettings(ctx); err != nil {
		slog.Warn("failed to seed settings", "error", err)
	}

	a.scraper = scraper.New(scraper.Config{
		UserAgent:  cfg.Scraper.UserAgent,
		Timeout:    cfg.Scraper.Timeout,
		Render:     cfg.Scraper.Render,
		ControlURL: cfg.Scraper.ControlURL,
	})

	a.host = tabs.New(a.bus, a.scraper, tabs.Config{
		Extractor:       extractor.New(extractor.Options{Markdown: cfg.Scraper.Markdown}),
		Debounce:        cfg.Watch.Debounce,
		MinMutatedNodes: cfg.Watch.MinMutatedNodes,
	})

	a.chat, err = session.New(session.Config{
		Store:    store,
		Bus:      a.bus,
		Settings: a.coord,
		Connect:  a.connect,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	return a, nil
}

func openIndex(ctx context.Context, es config.Elasticsearch) *search.Index {
	index, err := search.New(search.Config{
		Addresses: es.Addresses,
		Index:     es.Index,
		Username:  es.Username,
		Password:  es.Password,
	})
	if err != nil {
		slog.Warn("search disabled", "error", err)
		return nil
	}
	if !index.Ping(ctx) {
		slog.Warn("search disabled: elasticsearch not reachable", "addresses", es.Addresses)
		return nil
	}
	if err := index.CreateIndex(ctx); err != nil {
		slog.Warn("search disabled", "error", err)
		return nil
	}
	return index
}

// seedSettings copies the configured backend URL and key into the store
// the first time they are missing there.
func (a *app) seedSettings(ctx context.Context) error {
	var s string
	if err := a.store.Get(ctx, models.KeyAPIURL, &s); errors.Is(err, kv.ErrNotFound) && a.cfg.Backend.APIURL != config.DefaultAPIURL {
		if err := a.coord.SetAPIURL(ctx, a.cfg.Backend.APIURL); err != nil {
			return err
		}
	}
	if err := a.store.Get(ctx, models.KeyAPIKey, &s); errors.Is(err, kv.ErrNotFound) && a.cfg.Backend.APIKey != "" {
		if err := a.coord.SetAPIKey(ctx, a.cfg.Backend.APIKey); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) connect(s models.Settings) (session.Backend, error) {
	var key string
	if s.APIKey != nil {
		key = *s.APIKey
	}
	client, err := backend.New(backend.Config{
		BaseURL:     s.APIURL,
		APIKey:      key,
		Timeout:     a.cfg.Backend.Timeout,
		MaxAttempts: a.cfg.Backend.MaxAttempts,
		Backoff:     a.cfg.Backend.Backoff,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// openTab shows target in the active tab, opening the first tab when
// none exists. A following session manager opens the page's session.
func (a *app) openTab(ctx context.Context, target string) (tabs.Info, error) {
	var (
		info tabs.Info
		err  error
	)
	if active, ok := a.host.Active(); ok {
		info, err = a.host.Navigate(ctx, active.ID, target)
	} else {
		info, err = a.host.Open(ctx, target)
	}
	if err != nil {
		return tabs.Info{}, fmt.Errorf("failed to open %s: %w", target, err)
	}
	return info, nil
}

func (a *app) Close() {
	if a.host != nil {
		a.host.CloseAll()
	}
	if a.scraper != nil {
		if err := a.scraper.Close(); err != nil {
			slog.Debug("failed to close browser", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		slog.Debug("failed to close store", "error", err)
	}
}

// panel opens the chat session of a tab on OPEN_SIDEPANEL.
type panel struct {
	a *app
}

func (p panel) OpenPanel(ctx context.Context, tabID int) error {
	info, ok := p.a.host.Info(tabID)
	if !ok {
		return fmt.Errorf("tab %d not found", tabID)
	}
	return p.a.chat.Open(ctx, session.Tab{ID: info.ID, URL: info.URL, Title: info.Title})
}

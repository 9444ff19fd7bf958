// Package content is the per-tab context: it holds the tab's live
// document, answers extraction requests and re-extracts on significant
// mutations.
package content

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mfenderov/elf/internal/extractor"
	"github.com/mfenderov/elf/internal/messaging"
	"github.com/mfenderov/elf/internal/watch"
	"github.com/mfenderov/elf/pkg/models"
)

// Config holds agent settings.
type Config struct {
	TabID           int
	URL             string
	Bus             *messaging.Bus
	Extractor       *extractor.Extractor
	Debounce        time.Duration
	MinMutatedNodes int
}

// Agent is the content context of one tab.
type Agent struct {
	tabID    int
	url      string
	bus      *messaging.Bus
	ext      *extractor.Extractor
	minNodes int

	mu  sync.RWMutex
	doc *goquery.Document
	ctx context.Context

	debouncer *watch.Debouncer
}

// New parses page and creates its agent.
func New(config Config, page string) (*Agent, error) {
	if config.Bus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	if config.Extractor == nil {
		config.Extractor = extractor.New(extractor.Options{})
	}
	if config.Debounce <= 0 {
		config.Debounce = 2 * time.Second
	}
	if config.MinMutatedNodes <= 0 {
		config.MinMutatedNodes = 5
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	a := &Agent{
		tabID:    config.TabID,
		url:      config.URL,
		bus:      config.Bus,
		ext:      config.Extractor,
		minNodes: config.MinMutatedNodes,
		doc:      doc,
		ctx:      context.Background(),
	}
	a.debouncer = watch.NewDebouncer(config.Debounce, a.onSettled)
	return a, nil
}

// Start attaches the agent to its tab and runs the on-load extraction.
func (a *Agent) Start(ctx context.Context) {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	r := messaging.NewRouter(fmt.Sprintf("tab %d", a.tabID))
	r.Handle(messaging.TriggerExtraction, a.handleTrigger)
	r.Handle(messaging.GetPageContent, a.handleGetPageContent)
	r.Handle(messaging.CheckReady, func(ctx context.Context, msg messaging.Message) (*messaging.Response, error) {
		return &messaging.Response{Success: true, Ready: true}, nil
	})
	a.bus.AttachTab(a.tabID, r)

	if _, err := a.ExtractNow(ctx); err != nil {
		slog.Debug("no extraction on load", "tab", a.tabID, "url", a.url, "error", err)
	}
}

// Stop detaches the agent and cancels a pending re-extraction.
func (a *Agent) Stop() {
	a.debouncer.Stop()
	a.bus.DetachTab(a.tabID)
}

// URL returns the page URL.
func (a *Agent) URL() string {
	return a.url
}

// Title returns the document title.
func (a *Agent) Title() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return strings.TrimSpace(a.doc.Find("title").First().Text())
}

// PageContent extracts the current document.
func (a *Agent) PageContent(ctx context.Context) (*models.PageRecord, error) {
	if !a.enabled(ctx) {
		return nil, fmt.Errorf("%w: disabled", extractor.ErrExtractionUnavailable)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ext.Extract(a.doc, a.url)
}

// ExtractNow extracts the current document and reports it to the
// background context.
func (a *Agent) ExtractNow(ctx context.Context) (*models.PageRecord, error) {
	rec, err := a.PageContent(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := a.bus.SendToBackground(ctx, messaging.Message{Type: messaging.ContentExtracted, Data: rec})
	if err != nil {
		slog.Warn("failed to report extraction", "url", a.url, "error", err)
	} else if !resp.Success {
		slog.Warn("background rejected extraction", "url", a.url, "error", resp.Error)
	}
	return rec, nil
}

// Mutate replaces the live document. Significant changes schedule a
// debounced re-extraction.
func (a *Agent) Mutate(page string) (watch.Summary, error) {
	next, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return watch.Summary{}, fmt.Errorf("failed to parse page: %w", err)
	}

	a.mu.Lock()
	summary := watch.Diff(a.doc, next)
	a.doc = next
	a.mu.Unlock()

	if summary.Significant(a.minNodes) {
		slog.Debug("significant mutation", "tab", a.tabID, "nodes", summary.Nodes, "main", summary.MainTouched)
		a.debouncer.Trigger()
	}
	return summary, nil
}

func (a *Agent) onSettled() {
	a.mu.RLock()
	ctx := a.ctx
	a.mu.RUnlock()

	if _, err := a.ExtractNow(ctx); err != nil {
		slog.Debug("re-extraction skipped", "tab", a.tabID, "error", err)
		return
	}
	_, err := a.bus.SendToBackground(ctx, messaging.Message{
		Type:  messaging.ContentUpdated,
		TabID: a.tabID,
		URL:   a.url,
		Title: a.Title(),
	})
	if err != nil {
		slog.Debug("failed to announce update", "tab", a.tabID, "error", err)
	}
}

// enabled asks the background context. An unreachable background reads
// as enabled.
func (a *Agent) enabled(ctx context.Context) bool {
	resp, err := a.bus.SendToBackground(ctx, messaging.Message{Type: messaging.GetState})
	if err != nil {
		slog.Debug("state unavailable", "error", err)
		return true
	}
	return resp.Enabled
}

func (a *Agent) handleTrigger(ctx context.Context, msg messaging.Message) (*messaging.Response, error) {
	rec, err := a.ExtractNow(ctx)
	if err != nil {
		return &messaging.Response{Success: false, Error: err.Error()}, nil
	}
	return &messaging.Response{Success: true, Data: rec}, nil
}

func (a *Agent) handleGetPageContent(ctx context.Context, msg messaging.Message) (*messaging.Response, error) {
	rec, err := a.PageContent(ctx)
	if err != nil {
		return &messaging.Response{Success: false, Error: err.Error()}, nil
	}
	return &messaging.Response{Success: true, Data: rec}, nil
}

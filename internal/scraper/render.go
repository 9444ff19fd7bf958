package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Renderer loads pages in a headless Chrome so the extracted DOM is the
// one a user sees after scripts ran.
type Renderer struct {
	controlURL string
	timeout    time.Duration

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

// NewRenderer creates a renderer. The browser starts on first use.
func NewRenderer(controlURL string, timeout time.Duration) *Renderer {
	return &Renderer{controlURL: controlURL, timeout: timeout}
}

func (r *Renderer) connect() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		return r.browser, nil
	}

	controlURL := r.controlURL
	if controlURL == "" {
		r.launcher = launcher.New().Headless(true)
		u, err := r.launcher.Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	r.browser = browser
	slog.Debug("browser connected", "control_url", controlURL)
	return browser, nil
}

// Render opens target in a new tab, waits for load and returns the DOM.
func (r *Renderer) Render(ctx context.Context, target string) (*Page, error) {
	browser, err := r.connect()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: target})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", target, err)
	}
	defer page.Close()

	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("failed waiting for %s: %w", target, err)
	}

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("failed to read DOM of %s: %w", target, err)
	}

	finalURL := target
	if info, err := page.Info(); err == nil && info.URL != "" {
		finalURL = info.URL
	}

	return &Page{
		URL:         finalURL,
		HTML:        html,
		ContentType: "text/html",
		StatusCode:  200,
		FetchedAt:   time.Now(),
	}, nil
}

// Close shuts the browser down.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	r.browser = nil
	if r.launcher != nil {
		r.launcher.Cleanup()
		r.launcher = nil
	}
	return err
}

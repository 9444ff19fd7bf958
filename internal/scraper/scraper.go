// Package scraper loads pages into HTML documents for extraction.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

// Config holds scraper configuration.
type Config struct {
	UserAgent  string
	Timeout    time.Duration
	Render     bool   // load pages in a headless browser so scripts run
	ControlURL string // DevTools URL of a running browser; empty launches one
}

// Page is a loaded document.
type Page struct {
	URL         string
	HTML        string
	ContentType string
	StatusCode  int
	FetchedAt   time.Time
	Markdown    bool // the source was Markdown, converted to HTML
}

// Scraper fetches pages over HTTP, from a headless browser, or from disk.
type Scraper struct {
	config   Config
	renderer *Renderer
}

// New creates a new Scraper with the given configuration.
func New(config Config) *Scraper {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "elf/1.0"
	}
	s := &Scraper{config: config}
	if config.Render {
		s.renderer = NewRenderer(config.ControlURL, config.Timeout)
	}
	return s
}

// Close releases the headless browser, if one was started.
func (s *Scraper) Close() error {
	if s.renderer != nil {
		return s.renderer.Close()
	}
	return nil
}

// Fetch loads target, which is an http(s) URL, a file:// URL or a local path.
func (s *Scraper) Fetch(ctx context.Context, target string) (*Page, error) {
	if path, ok := localPath(target); ok {
		return s.readFile(path)
	}
	if s.renderer != nil {
		return s.renderer.Render(ctx, target)
	}
	return s.fetchHTTP(ctx, target)
}

func (s *Scraper) fetchHTTP(ctx context.Context, target string) (*Page, error) {
	var page *Page
	var fetchErr error

	slog.Debug("fetching page", "url", target)

	c := colly.NewCollector(
		colly.MaxDepth(1),
		colly.UserAgent(s.config.UserAgent),
	)
	c.SetRequestTimeout(s.config.Timeout)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			slog.Debug("fetch cancelled", "url", r.URL.String())
			r.Abort()
		}
	})

	c.OnResponse(func(r *colly.Response) {
		page = &Page{
			URL:         r.Request.URL.String(),
			HTML:        string(r.Body),
			ContentType: r.Headers.Get("Content-Type"),
			StatusCode:  r.StatusCode,
			FetchedAt:   time.Now(),
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		fetchErr = fmt.Errorf("failed to fetch %s (status %d): %w", r.Request.URL, r.StatusCode, err)
	})

	if err := c.Visit(target); err != nil && fetchErr == nil {
		fetchErr = fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	c.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	if page == nil {
		return nil, errors.New("no response received")
	}

	if Detect(page.URL, page.ContentType, page.HTML) {
		html, err := markdownToHTML(page.HTML)
		if err != nil {
			return nil, err
		}
		page.HTML = html
		page.Markdown = true
	}

	slog.Debug("fetched page", "url", page.URL, "content_type", page.ContentType, "size", len(page.HTML))
	return page, nil
}

func (s *Scraper) readFile(path string) (*Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	page := &Page{
		URL:       (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(),
		HTML:      string(data),
		FetchedAt: time.Now(),
	}
	if IsMarkdownURL(path) {
		html, err := markdownToHTML(page.HTML)
		if err != nil {
			return nil, err
		}
		page.HTML = html
		page.Markdown = true
	}
	return page, nil
}

// localPath reports whether target names a file rather than a web page.
func localPath(target string) (string, bool) {
	if strings.HasPrefix(target, "file://") {
		u, err := url.Parse(target)
		if err != nil {
			return "", false
		}
		return filepath.FromSlash(u.Path), true
	}
	if strings.Contains(target, "://") || strings.HasPrefix(target, "about:") {
		return "", false
	}
	if _, err := os.Stat(target); err == nil {
		return target, true
	}
	return "", false
}

// Package session runs the chat lifecycle of the page in the active tab:
// find-or-create the remote session, stream answers and keep the
// conversation log.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mfenderov/elf/internal/backend"
	"github.com/mfenderov/elf/internal/export"
	"github.com/mfenderov/elf/internal/extractor"
	"github.com/mfenderov/elf/internal/kv"
	"github.com/mfenderov/elf/internal/messaging"
	"github.com/mfenderov/elf/pkg/models"
)

var (
	// ErrBusy is returned by Send while another message is streaming.
	ErrBusy = errors.New("a message is already being sent")
	// ErrStale is returned when the active page changed while an
	// operation was running; its result was discarded.
	ErrStale = errors.New("active page changed")
	// ErrNoSession is returned when no page session is ready.
	ErrNoSession = errors.New("no active session")
	// ErrEmptyMessage is returned by Send for blank text.
	ErrEmptyMessage = errors.New("message is empty")
)

// State of the active page's session.
type State int

const (
	Uninitialized State = iota
	Bootstrapping
	Ready
	Sending
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Bootstrapping:
		return "bootstrapping"
	case Ready:
		return "ready"
	case Sending:
		return "sending"
	case Failed:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Tab identifies the page a session belongs to.
type Tab struct {
	ID    int
	URL   string
	Title string
}

// Backend is the remote assistant service.
type Backend interface {
	StoreContent(ctx context.Context, req models.StoreContentRequest) (string, error)
	CreateAssistant(ctx context.Context, contentID string) (*backend.Assistant, error)
	StreamChat(ctx context.Context, req backend.ChatRequest, onChunk func(string)) (*backend.ChatResult, error)
}

// Connector builds a backend client for the current settings.
type Connector func(s models.Settings) (Backend, error)

// SettingsSource reads settings and records token usage.
type SettingsSource interface {
	Settings(ctx context.Context) models.Settings
	AddTokens(ctx context.Context, n int) error
}

// Config holds Manager dependencies.
type Config struct {
	Store    *kv.Store
	Bus      *messaging.Bus
	Settings SettingsSource
	Connect  Connector
	Now      func() time.Time
}

// Snapshot is a copy of the manager's state for rendering.
type Snapshot struct {
	State    State
	Tab      Tab
	Session  *models.Session
	Messages []models.Message
	Err      error
}

// Manager tracks one session at a time: the active tab's.
type Manager struct {
	store    *kv.Store
	bus      *messaging.Bus
	settings SettingsSource
	connect  Connector
	now      func() time.Time

	mu         sync.Mutex
	generation uint64
	tab        Tab
	state      State
	session    *models.Session
	messages   []models.Message
	lastErr    error
}

// New creates a session manager.
func New(config Config) (*Manager, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config.Bus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	if config.Settings == nil {
		return nil, fmt.Errorf("settings source is required")
	}
	if config.Connect == nil {
		return nil, fmt.Errorf("backend connector is required")
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Manager{
		store:    config.Store,
		bus:      config.Bus,
		settings: config.Settings,
		connect:  config.Connect,
		now:      config.Now,
	}, nil
}

// Open makes tab the active page. A stored session is restored without
// remote calls; otherwise the page is bootstrapped.
func (m *Manager) Open(ctx context.Context, tab Tab) error {
	m.mu.Lock()
	m.generation++
	gen := m.generation
	m.tab = tab
	m.state = Uninitialized
	m.session = nil
	m.messages = nil
	m.lastErr = nil
	m.mu.Unlock()

	slog.Debug("opening session", "tab", tab.ID, "url", tab.URL)

	var sess models.Session
	err := m.store.Get(ctx, models.SessionKey(tab.URL), &sess)
	switch {
	case err == nil:
		return m.restore(ctx, gen, &sess)
	case errors.Is(err, kv.ErrNotFound):
		return m.bootstrap(ctx, gen)
	default:
		return m.fail(gen, fmt.Errorf("failed to load session: %w", err))
	}
}

func (m *Manager) restore(ctx context.Context, gen uint64, sess *models.Session) error {
	m.mu.Lock()
	tab := m.tab
	m.mu.Unlock()

	var log []models.Message
	if err := m.store.Get(ctx, models.MessagesKey(tab.URL), &log); err != nil && !errors.Is(err, kv.ErrNotFound) {
		slog.Warn("failed to load conversation", "url", tab.URL, "error", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return ErrStale
	}
	m.session = sess
	m.messages = log
	m.state = Ready
	slog.Debug("restored session", "url", tab.URL, "thread", sess.ThreadID, "messages", len(log))
	return nil
}

func (m *Manager) bootstrap(ctx context.Context, gen uint64) error {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return ErrStale
	}
	m.state = Bootstrapping
	tab := m.tab
	m.mu.Unlock()

	page, err := m.pageContent(ctx, tab)
	if err != nil {
		return m.fail(gen, err)
	}

	client, err := m.connect(m.settings.Settings(ctx))
	if err != nil {
		return m.fail(gen, fmt.Errorf("failed to create backend client: %w", err))
	}

	contentID, err := client.StoreContent(ctx, page.StoreRequest())
	if err != nil {
		return m.fail(gen, fmt.Errorf("failed to store content: %w", err))
	}

	assistant, err := client.CreateAssistant(ctx, contentID)
	if err != nil {
		return m.fail(gen, fmt.Errorf("failed to create assistant: %w", err))
	}

	sess := &models.Session{
		ContentID:   contentID,
		AssistantID: assistant.AssistantID,
		ThreadID:    assistant.ThreadID,
		CreatedAt:   m.now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		slog.Debug("discarding stale bootstrap", "url", tab.URL)
		return ErrStale
	}
	if err := m.store.Set(ctx, map[string]any{models.SessionKey(tab.URL): sess}); err != nil {
		m.state = Failed
		m.lastErr = fmt.Errorf("failed to save session: %w", err)
		return m.lastErr
	}
	m.session = sess
	m.messages = nil
	m.state = Ready
	slog.Debug("created session", "url", tab.URL, "content", contentID, "thread", sess.ThreadID)
	return nil
}

// pageContent asks the tab's content agent for the current page.
func (m *Manager) pageContent(ctx context.Context, tab Tab) (*models.PageRecord, error) {
	resp, err := m.bus.SendToTab(ctx, tab.ID, messaging.Message{Type: messaging.GetPageContent})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", extractor.ErrExtractionUnavailable, err)
	}
	if !resp.Success || resp.Data == nil {
		return nil, fmt.Errorf("%w: %s", extractor.ErrExtractionUnavailable, resp.Error)
	}
	return resp.Data, nil
}

// fail moves the session to the error state unless gen is stale.
func (m *Manager) fail(gen uint64, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return ErrStale
	}
	m.state = Failed
	m.lastErr = err
	slog.Debug("session error", "url", m.tab.URL, "error", err)
	return err
}

// Send posts text to the assistant and streams the answer to onChunk.
// The user message is logged before streaming; the answer is logged once
// the stream is done. Failures append an error entry and leave the
// session usable.
func (m *Manager) Send(ctx context.Context, text string, onChunk func(string)) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	m.mu.Lock()
	if m.state == Sending {
		m.mu.Unlock()
		return nil, ErrBusy
	}
	if m.session == nil {
		m.mu.Unlock()
		return nil, ErrNoSession
	}
	gen := m.generation
	tab := m.tab
	sess := *m.session
	m.state = Sending
	m.lastErr = nil
	m.mu.Unlock()

	userMsg := models.Message{Role: models.RoleUser, Content: text, Timestamp: m.now()}
	if err := m.appendMessage(ctx, gen, tab.URL, userMsg); err != nil {
		return nil, m.sendFailed(ctx, gen, tab.URL, err)
	}

	client, err := m.connect(m.settings.Settings(ctx))
	if err != nil {
		return nil, m.sendFailed(ctx, gen, tab.URL, fmt.Errorf("failed to create backend client: %w", err))
	}

	forward := func(chunk string) {
		if onChunk != nil && m.current(gen) {
			onChunk(chunk)
		}
	}

	res, err := client.StreamChat(ctx, backend.ChatRequest{
		ThreadID:  sess.ThreadID,
		Message:   text,
		ContentID: sess.ContentID,
	}, forward)
	if err != nil {
		return nil, m.sendFailed(ctx, gen, tab.URL, err)
	}

	if !m.current(gen) {
		slog.Debug("discarding stale answer", "url", tab.URL)
		return nil, ErrStale
	}

	answer := models.Message{Role: models.RoleAssistant, Content: res.Text, Timestamp: m.now()}
	if err := m.appendMessage(ctx, gen, tab.URL, answer); err != nil {
		return nil, m.sendFailed(ctx, gen, tab.URL, err)
	}

	if res.TotalTokens > 0 {
		if err := m.settings.AddTokens(ctx, res.TotalTokens); err != nil {
			slog.Warn("failed to record token usage", "error", err)
		}
	}

	m.mu.Lock()
	if gen == m.generation {
		m.state = Ready
	}
	m.mu.Unlock()
	return &answer, nil
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

// sendFailed logs an error entry for the page and returns to Failed.
func (m *Manager) sendFailed(ctx context.Context, gen uint64, pageURL string, cause error) error {
	if !m.current(gen) {
		return ErrStale
	}

	entry := models.Message{Role: models.RoleError, Content: cause.Error(), Timestamp: m.now()}
	if err := m.appendMessage(ctx, gen, pageURL, entry); err != nil {
		slog.Warn("failed to log error entry", "url", pageURL, "error", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen == m.generation {
		m.state = Failed
		m.lastErr = cause
	}
	return cause
}

// appendMessage persists msg to the page's log and mirrors it in memory
// while gen is current.
func (m *Manager) appendMessage(ctx context.Context, gen uint64, pageURL string, msg models.Message) error {
	err := m.store.Update(ctx, models.MessagesKey(pageURL), func(current json.RawMessage) (any, error) {
		var log []models.Message
		if current != nil {
			if err := json.Unmarshal(current, &log); err != nil {
				return nil, fmt.Errorf("failed to decode conversation: %w", err)
			}
		}
		return append(log, msg), nil
	})
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen == m.generation {
		m.messages = append(m.messages, msg)
	}
	return nil
}

// ClearConversation empties the active page's log. The session stays.
// It is refused with ErrBusy while an answer is streaming.
func (m *Manager) ClearConversation(ctx context.Context) error {
	m.mu.Lock()
	tab := m.tab
	ok := m.session != nil
	sending := m.state == Sending
	m.mu.Unlock()
	if !ok {
		return ErrNoSession
	}
	if sending {
		return ErrBusy
	}

	if err := m.store.Remove(ctx, models.MessagesKey(tab.URL)); err != nil {
		return fmt.Errorf("failed to clear conversation: %w", err)
	}

	m.mu.Lock()
	m.messages = nil
	m.mu.Unlock()
	return nil
}

// RefreshContext forgets the active page's session and log and
// bootstraps it again from the current page content.
func (m *Manager) RefreshContext(ctx context.Context) error {
	m.mu.Lock()
	tab := m.tab
	m.mu.Unlock()
	if tab.URL == "" {
		return ErrNoSession
	}

	if err := m.store.Remove(ctx, models.SessionKey(tab.URL), models.MessagesKey(tab.URL)); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return m.Open(ctx, tab)
}

// ResetAll wipes every stored page, session, conversation and setting,
// then bootstraps the active page from scratch.
func (m *Manager) ResetAll(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to reset storage: %w", err)
	}

	m.mu.Lock()
	tab := m.tab
	m.mu.Unlock()

	if tab.URL == "" {
		m.mu.Lock()
		m.generation++
		m.state = Uninitialized
		m.session = nil
		m.messages = nil
		m.lastErr = nil
		m.mu.Unlock()
		return nil
	}
	return m.Open(ctx, tab)
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		State:    m.state,
		Tab:      m.tab,
		Messages: append([]models.Message(nil), m.messages...),
		Err:      m.lastErr,
	}
	if m.session != nil {
		sess := *m.session
		s.Session = &sess
	}
	return s
}

// Export writes the active page's conversation to w.
func (m *Manager) Export(w io.Writer, e export.Exporter) error {
	snap := m.Snapshot()
	if snap.Tab.URL == "" {
		return ErrNoSession
	}

	return e.Export(&export.Conversation{
		Title:      snap.Tab.Title,
		URL:        snap.Tab.URL,
		ExportedAt: m.now(),
		Messages:   snap.Messages,
	}, w)
}

// Follow re-opens the session whenever the active tab changes. The
// session is opened before the TAB_CHANGED publish returns, so the
// activating caller sees it. The returned function stops following.
func (m *Manager) Follow(ctx context.Context) func() {
	return m.bus.Subscribe(func(msg messaging.Message) {
		if msg.Type != messaging.TabChanged {
			return
		}
		tab := Tab{ID: msg.TabID, URL: msg.URL, Title: msg.Title}
		if err := m.Open(ctx, tab); err != nil && !errors.Is(err, ErrStale) {
			slog.Warn("failed to open session", "url", tab.URL, "error", err)
		}
	})
}

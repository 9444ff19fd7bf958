package session

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mfenderov/elf/internal/backend"
	"github.com/mfenderov/elf/internal/export"
	"github.com/mfenderov/elf/internal/extractor"
	"github.com/mfenderov/elf/internal/kv"
	"github.com/mfenderov/elf/internal/messaging"
	"github.com/mfenderov/elf/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu       sync.Mutex
	stores   int
	creates  int
	chats    []backend.ChatRequest
	chunks   []string
	tokens   int
	chatErr  error
	release  chan struct{} // when set, StreamChat waits on it
	started  chan struct{}
	storeErr error
}

func (f *fakeBackend) StoreContent(ctx context.Context, req models.StoreContentRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stores++
	if f.storeErr != nil {
		return "", f.storeErr
	}
	return "c" + string(rune('0'+f.stores)), nil
}

func (f *fakeBackend) CreateAssistant(ctx context.Context, contentID string) (*backend.Assistant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	return &backend.Assistant{AssistantID: "a" + string(rune('0'+f.creates)), ThreadID: "t" + string(rune('0'+f.creates))}, nil
}

func (f *fakeBackend) StreamChat(ctx context.Context, req backend.ChatRequest, onChunk func(string)) (*backend.ChatResult, error) {
	f.mu.Lock()
	f.chats = append(f.chats, req)
	chunks, chatErr, release, started, tokens := f.chunks, f.chatErr, f.release, f.started, f.tokens
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if release != nil {
		<-release
	}
	if chatErr != nil {
		return nil, chatErr
	}
	for _, c := range chunks {
		onChunk(c)
	}
	return &backend.ChatResult{Text: strings.Join(chunks, ""), TotalTokens: tokens}, nil
}

func (f *fakeBackend) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stores, f.creates, len(f.chats)
}

type fakeSettings struct {
	mu     sync.Mutex
	tokens int
}

func (f *fakeSettings) Settings(ctx context.Context) models.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.Settings{Enabled: true, APIURL: "http://backend", TotalTokens: f.tokens}
}

func (f *fakeSettings) AddTokens(ctx context.Context, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens += n
	return nil
}

type fixture struct {
	store    *kv.Store
	bus      *messaging.Bus
	backend  *fakeBackend
	settings *fakeSettings
	manager  *Manager
}

const articleURL = "https://example.com/article"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := kv.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store:    store,
		bus:      messaging.NewBus(),
		backend:  &fakeBackend{chunks: []string{"Hello", " there"}},
		settings: &fakeSettings{},
	}
	f.attachTab(1, articleURL)
	f.manager = f.newManager(t)
	return f
}

func (f *fixture) newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(Config{
		Store:    f.store,
		Bus:      f.bus,
		Settings: f.settings,
		Connect:  func(models.Settings) (Backend, error) { return f.backend, nil },
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) attachTab(id int, url string) {
	r := messaging.NewRouter("tab")
	r.Handle(messaging.GetPageContent, func(ctx context.Context, msg messaging.Message) (*messaging.Response, error) {
		return &messaging.Response{Success: true, Data: &models.PageRecord{URL: url, Title: "Article", Content: "Hello world"}}, nil
	})
	f.bus.AttachTab(id, r)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestOpen_BootstrapsNewPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.manager.Open(ctx, Tab{ID: 1, URL: articleURL, Title: "Article"}))

	snap := f.manager.Snapshot()
	assert.Equal(t, Ready, snap.State)
	require.NotNil(t, snap.Session)
	assert.Equal(t, "c1", snap.Session.ContentID)
	assert.Equal(t, "t1", snap.Session.ThreadID)

	var stored models.Session
	require.NoError(t, f.store.Get(ctx, models.SessionKey(articleURL), &stored))
	assert.Equal(t, "a1", stored.AssistantID)
}

func TestOpen_RoundTripRestoresWithoutRemoteCalls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tab := Tab{ID: 1, URL: articleURL}

	require.NoError(t, f.manager.Open(ctx, tab))
	_, err := f.manager.Send(ctx, "Summarize", nil)
	require.NoError(t, err)
	before := f.manager.Snapshot()

	reopened := f.newManager(t)
	require.NoError(t, reopened.Open(ctx, tab))
	after := reopened.Snapshot()

	assert.Equal(t, Ready, after.State)
	assert.Equal(t, before.Session.ContentID, after.Session.ContentID)
	assert.Equal(t, before.Session.AssistantID, after.Session.AssistantID)
	assert.Equal(t, before.Session.ThreadID, after.Session.ThreadID)
	require.Len(t, after.Messages, 2)
	assert.Equal(t, before.Messages[0].Content, after.Messages[0].Content)
	assert.Equal(t, before.Messages[1].Content, after.Messages[1].Content)

	stores, creates, _ := f.backend.counts()
	assert.Equal(t, 1, stores)
	assert.Equal(t, 1, creates)
}

func TestOpen_ExtractionUnavailable(t *testing.T) {
	f := newFixture(t)

	err := f.manager.Open(context.Background(), Tab{ID: 99, URL: "https://example.com/none"})
	assert.ErrorIs(t, err, extractor.ErrExtractionUnavailable)
	assert.Equal(t, Failed, f.manager.Snapshot().State)

	stores, _, _ := f.backend.counts()
	assert.Zero(t, stores)
}

func TestOpen_BackendFailureKeepsErrorState(t *testing.T) {
	f := newFixture(t)
	f.backend.storeErr = &backend.RemoteError{Op: "store content", StatusCode: 400, Message: "too big"}

	err := f.manager.Open(context.Background(), Tab{ID: 1, URL: articleURL})

	var re *backend.RemoteError
	assert.True(t, errors.As(err, &re))
	snap := f.manager.Snapshot()
	assert.Equal(t, Failed, snap.State)
	assert.Nil(t, snap.Session)

	_, err = f.manager.Send(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestSend_StreamsAndPersists(t *testing.T) {
	f := newFixture(t)
	f.backend.tokens = 21
	ctx := context.Background()
	require.NoError(t, f.manager.Open(ctx, Tab{ID: 1, URL: articleURL}))

	var chunks []string
	answer, err := f.manager.Send(ctx, "  Summarize ", func(s string) { chunks = append(chunks, s) })
	require.NoError(t, err)

	assert.Equal(t, "Hello there", answer.Content)
	assert.Equal(t, strings.Join(chunks, ""), answer.Content)
	assert.Equal(t, backend.ChatRequest{ThreadID: "t1", Message: "Summarize", ContentID: "c1"}, f.backend.chats[0])
	assert.Equal(t, 21, f.settings.tokens)

	var log []models.Message
	require.NoError(t, f.store.Get(ctx, models.MessagesKey(articleURL), &log))
	require.Len(t, log, 2)
	assert.Equal(t, models.RoleUser, log[0].Role)
	assert.Equal(t, "Summarize", log[0].Content)
	assert.Equal(t, models.RoleAssistant, log[1].Role)
	assert.Equal(t, Ready, f.manager.Snapshot().State)
}

func TestSend_WhileSendingIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.manager.Open(ctx, Tab{ID: 1, URL: articleURL}))
	require.Equal(t, "t1", f.manager.Snapshot().Session.ThreadID)

	f.backend.release = make(chan struct{})
	f.backend.started = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.manager.Send(ctx, "First", nil)
		done <- err
	}()
	<-f.backend.started

	_, err := f.manager.Send(ctx, "Summarize", nil)
	assert.ErrorIs(t, err, ErrBusy)

	close(f.backend.release)
	require.NoError(t, <-done)

	_, _, chats := f.backend.counts()
	assert.Equal(t, 1, chats, "no duplicate request")
	for _, m := range f.manager.Snapshot().Messages {
		assert.NotEqual(t, "Summarize", m.Content)
	}
}

func TestSend_ErrorFrameAppendsErrorEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.manager.Open(ctx, Tab{ID: 1, URL: articleURL}))

	f.backend.chatErr = &backend.StreamError{Message: "model overloaded"}
	_, err := f.manager.Send(ctx, "Summarize", nil)

	var se *backend.StreamError
	require.True(t, errors.As(err, &se))

	snap := f.manager.Snapshot()
	assert.Equal(t, Failed, snap.State)
	require.NotNil(t, snap.Session, "session survives errors")
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, models.RoleUser, snap.Messages[0].Role)
	assert.Equal(t, models.RoleError, snap.Messages[1].Role)
	for _, m := range snap.Messages {
		assert.NotEqual(t, models.RoleAssistant, m.Role, "no partial answer")
	}

	f.backend.chatErr = nil
	_, err = f.manager.Send(ctx, "Retry", nil)
	require.NoError(t, err)
	assert.Equal(t, Ready, f.manager.Snapshot().State)
}

func TestSend_EmptyMessage(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Send(context.Background(), "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestOpen_TabSwitchDiscardsStaleAnswer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.manager.Open(ctx, Tab{ID: 1, URL: articleURL}))

	f.backend.release = make(chan struct{})
	f.backend.started = make(chan struct{})

	var chunks []string
	done := make(chan error, 1)
	go func() {
		_, err := f.manager.Send(ctx, "Summarize", func(s string) { chunks = append(chunks, s) })
		done <- err
	}()
	<-f.backend.started

	f.attachTab(2, "https://example.com/other")
	f.backend.mu.Lock()
	f.backend.started = nil
	f.backend.mu.Unlock()
	// Opening tab 2 bootstraps through the same backend, which is
	// blocked only inside StreamChat.
	require.NoError(t, f.manager.Open(ctx, Tab{ID: 2, URL: "https://example.com/other"}))

	close(f.backend.release)
	assert.ErrorIs(t, <-done, ErrStale)
	assert.Empty(t, chunks)

	snap := f.manager.Snapshot()
	assert.Equal(t, "https://example.com/other", snap.Tab.URL)
	assert.Equal(t, Ready, snap.State)
	assert.Empty(t, snap.Messages)
}

func TestClearConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.manager.Open(ctx, Tab{ID: 1, URL: articleURL}))
	_, err := f.manager.Send(ctx, "Summarize", nil)
	require.NoError(t, err)

	require.NoError(t, f.manager.ClearConversation(ctx))

	snap := f.manager.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.NotNil(t, snap.Session)
	var log []models.Message
	assert.ErrorIs(t, f.store.Get(ctx, models.MessagesKey(articleURL), &log), kv.ErrNotFound)
	var sess models.Session
	assert.NoError(t, f.store.Get(ctx, models.SessionKey(articleURL), &sess))
}

func TestClearConversation_RefusedWhileSending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.manager.Open(ctx, Tab{ID: 1, URL: articleURL}))

	f.backend.release = make(chan struct{})
	f.backend.started = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.manager.Send(ctx, "Summarize", nil)
		done <- err
	}()
	<-f.backend.started

	assert.ErrorIs(t, f.manager.ClearConversation(ctx), ErrBusy)

	close(f.backend.release)
	require.NoError(t, <-done)

	var log []models.Message
	require.NoError(t, f.store.Get(ctx, models.MessagesKey(articleURL), &log))
	require.Len(t, log, 2, "question and answer stay together")
	assert.Equal(t, models.RoleUser, log[0].Role)
	assert.Equal(t, models.RoleAssistant, log[1].Role)

	require.NoError(t, f.manager.ClearConversation(ctx))
	assert.ErrorIs(t, f.store.Get(ctx, models.MessagesKey(articleURL), &log), kv.ErrNotFound)
}

func TestRefreshContext_Rebootstraps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.manager.Open(ctx, Tab{ID: 1, URL: articleURL}))
	_, err := f.manager.Send(ctx, "Summarize", nil)
	require.NoError(t, err)

	require.NoError(t, f.manager.RefreshContext(ctx))

	snap := f.manager.Snapshot()
	assert.Equal(t, "t2", snap.Session.ThreadID)
	assert.Empty(t, snap.Messages)
	stores, creates, _ := f.backend.counts()
	assert.Equal(t, 2, stores)
	assert.Equal(t, 2, creates)
}

func TestResetAll_ReinitializesFromScratch(t *testing.T) {
	store, err := kv.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, map[string]any{models.KeyTotalTokens: 500}))

	bus := messaging.NewBus()
	fb := &fakeBackend{chunks: []string{"ok"}}
	settings := &storeSettings{store: store}
	m, err := New(Config{Store: store, Bus: bus, Settings: settings,
		Connect: func(models.Settings) (Backend, error) { return fb, nil }})
	require.NoError(t, err)

	f := &fixture{bus: bus}
	f.attachTab(1, articleURL)

	require.NoError(t, m.Open(ctx, Tab{ID: 1, URL: articleURL}))
	_, err = m.Send(ctx, "Summarize", nil)
	require.NoError(t, err)

	require.NoError(t, m.ResetAll(ctx))

	reopened, err := New(Config{Store: store, Bus: bus, Settings: settings,
		Connect: func(models.Settings) (Backend, error) { return fb, nil }})
	require.NoError(t, err)
	require.NoError(t, reopened.Open(ctx, Tab{ID: 1, URL: articleURL}))

	stores, creates, _ := fb.counts()
	assert.Equal(t, 2, stores, "reset triggers a new store call")
	assert.Equal(t, 2, creates)
	assert.Equal(t, 0, settings.Settings(ctx).TotalTokens)
	assert.Empty(t, reopened.Snapshot().Messages)
}

// storeSettings reads the token total from the store, as the
// coordinator does.
type storeSettings struct {
	store *kv.Store
}

func (s *storeSettings) Settings(ctx context.Context) models.Settings {
	var st models.Settings
	_ = s.store.Get(ctx, models.KeyTotalTokens, &st.TotalTokens)
	return st
}

func (s *storeSettings) AddTokens(ctx context.Context, n int) error {
	return nil
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var buf bytes.Buffer
	assert.ErrorIs(t, f.manager.Export(&buf, &export.MarkdownExporter{}), ErrNoSession)

	require.NoError(t, f.manager.Open(ctx, Tab{ID: 1, URL: articleURL, Title: "Article"}))
	_, err := f.manager.Send(ctx, "Summarize", nil)
	require.NoError(t, err)

	require.NoError(t, f.manager.Export(&buf, &export.MarkdownExporter{}))
	out := buf.String()
	assert.Contains(t, out, "# Chat Export")
	assert.Contains(t, out, "**Page:** Article")
	assert.Contains(t, out, "### User — ")
	assert.Contains(t, out, "Hello there")
}

func TestFollow_OpensChangedTab(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stop := f.manager.Follow(ctx)
	defer stop()

	f.bus.Publish(messaging.Message{Type: messaging.TabChanged, TabID: 1, URL: articleURL, Title: "Article"})

	snap := f.manager.Snapshot()
	assert.Equal(t, Ready, snap.State, "opened before publish returns")
	assert.Equal(t, articleURL, snap.Tab.URL)

	stop()
	f.bus.Publish(messaging.Message{Type: messaging.TabChanged, TabID: 2, URL: "https://example.com/other"})
	assert.Equal(t, articleURL, f.manager.Snapshot().Tab.URL)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "error", Failed.String())
}

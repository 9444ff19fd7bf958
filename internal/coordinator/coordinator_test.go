package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mfenderov/elf/internal/kv"
	"github.com/mfenderov/elf/internal/messaging"
	"github.com/mfenderov/elf/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type badge struct {
	mu    sync.Mutex
	texts []string
}

func (b *badge) SetBadge(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.texts = append(b.texts, text)
}

func (b *badge) last() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.texts) == 0 {
		return "<unset>"
	}
	return b.texts[len(b.texts)-1]
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakeIndexer struct {
	mu      sync.Mutex
	indexed []string
	deleted []string
}

func (f *fakeIndexer) IndexPage(ctx context.Context, page *models.PageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, page.URL)
	return nil
}

func (f *fakeIndexer) DeletePage(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, url)
	return nil
}

func newTestCoordinator(t *testing.T, config Config) (*Coordinator, *kv.Store, *messaging.Bus) {
	t.Helper()
	store, err := kv.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	if config.Now == nil {
		c := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
		config.Now = c.Now
	}
	if config.DefaultAPIURL == "" {
		config.DefaultAPIURL = "http://localhost:8787"
	}

	bus := messaging.NewBus()
	c := New(store, bus, config)
	c.Start(context.Background())
	return c, store, bus
}

func page(url string) *models.PageRecord {
	return &models.PageRecord{URL: url, Title: "T " + url, Content: "content of " + url, ContentLength: 11}
}

func TestRecordExtraction_StampsAndStores(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Config{})
	ctx := context.Background()

	require.NoError(t, c.RecordExtraction(ctx, page("https://example.com/a")))

	got, err := c.Page(ctx, "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, "T https://example.com/a", got.Title)
	assert.False(t, got.ExtractedAt.IsZero())
}

func TestRecordExtraction_OverwritesSameURL(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Config{})
	ctx := context.Background()

	require.NoError(t, c.RecordExtraction(ctx, page("https://example.com/a")))
	second := page("https://example.com/a")
	second.Title = "updated"
	require.NoError(t, c.RecordExtraction(ctx, second))

	pages, err := c.Pages(ctx)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "updated", pages[0].Title)
}

func TestRecordExtraction_EvictsExactlyOldest(t *testing.T) {
	idx := &fakeIndexer{}
	c, _, _ := newTestCoordinator(t, Config{Indexer: idx})
	ctx := context.Background()

	for i := 0; i < models.MaxPages; i++ {
		require.NoError(t, c.RecordExtraction(ctx, page(fmt.Sprintf("https://example.com/%d", i))))
	}
	require.NoError(t, c.RecordExtraction(ctx, page("https://example.com/new")))

	pages, err := c.Pages(ctx)
	require.NoError(t, err)
	assert.Len(t, pages, models.MaxPages)

	_, err = c.Page(ctx, "https://example.com/0")
	assert.ErrorIs(t, err, ErrPageNotFound)

	for i := 1; i < models.MaxPages; i++ {
		_, err := c.Page(ctx, fmt.Sprintf("https://example.com/%d", i))
		assert.NoError(t, err, "page %d should survive", i)
	}
	assert.Equal(t, "https://example.com/new", pages[0].URL, "newest first")
	assert.Equal(t, []string{"https://example.com/0"}, idx.deleted)
	assert.Len(t, idx.indexed, models.MaxPages+1)
}

func TestRecordExtraction_ConcurrentWritersKeepCap(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Config{MaxPages: 10})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, c.RecordExtraction(ctx, page(fmt.Sprintf("https://example.com/%d", i))))
		}(i)
	}
	wg.Wait()

	pages, err := c.Pages(ctx)
	require.NoError(t, err)
	assert.Len(t, pages, 10)
}

func TestRecordExtraction_RejectsMissingURL(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Config{})

	assert.Error(t, c.RecordExtraction(context.Background(), &models.PageRecord{}))
	assert.Error(t, c.RecordExtraction(context.Background(), nil))
}

func TestEnabled_DefaultsAndBadge(t *testing.T) {
	b := &badge{}
	c, _, _ := newTestCoordinator(t, Config{Indicator: b})
	ctx := context.Background()

	assert.True(t, c.Enabled(ctx))
	assert.Equal(t, BadgeOn, b.last(), "badge refreshed at start")

	require.NoError(t, c.SetEnabled(ctx, false))
	assert.False(t, c.Enabled(ctx))
	assert.Equal(t, BadgeOff, b.last())

	require.NoError(t, c.SetEnabled(ctx, true))
	assert.Equal(t, BadgeOn, b.last())
}

func TestStart_RestoresBadgeFromStore(t *testing.T) {
	store, err := kv.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Set(context.Background(), map[string]any{models.KeyEnabled: false}))

	b := &badge{}
	New(store, messaging.NewBus(), Config{Indicator: b}).Start(context.Background())

	assert.Equal(t, BadgeOff, b.last())
}

func TestAPIURL_DefaultAndBlank(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Config{DefaultAPIURL: "http://default"})
	ctx := context.Background()

	assert.Equal(t, "http://default", c.APIURL(ctx))

	require.NoError(t, c.SetAPIURL(ctx, "https://api.example.com/"))
	assert.Equal(t, "https://api.example.com", c.APIURL(ctx))

	require.NoError(t, c.SetAPIURL(ctx, "   "))
	assert.Equal(t, "http://default", c.APIURL(ctx))
}

func TestSettings(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Config{})
	ctx := context.Background()

	s := c.Settings(ctx)
	assert.True(t, s.Enabled)
	assert.Nil(t, s.APIKey)
	assert.Zero(t, s.TotalTokens)

	require.NoError(t, c.SetAPIKey(ctx, "sk-test"))
	require.NoError(t, c.AddTokens(ctx, 12))
	require.NoError(t, c.AddTokens(ctx, 30))

	s = c.Settings(ctx)
	require.NotNil(t, s.APIKey)
	assert.Equal(t, "sk-test", *s.APIKey)
	assert.Equal(t, 42, s.TotalTokens)

	require.NoError(t, c.SetAPIKey(ctx, ""))
	assert.Nil(t, c.Settings(ctx).APIKey)
}

func TestClearPage_RemovesSessionToo(t *testing.T) {
	c, store, _ := newTestCoordinator(t, Config{})
	ctx := context.Background()
	u := "https://example.com/a"

	require.NoError(t, c.RecordExtraction(ctx, page(u)))
	require.NoError(t, c.RecordExtraction(ctx, page("https://example.com/b")))
	require.NoError(t, store.Set(ctx, map[string]any{
		models.SessionKey(u):  models.Session{ThreadID: "t1"},
		models.MessagesKey(u): []models.Message{{Role: models.RoleUser, Content: "hi"}},
	}))

	require.NoError(t, c.ClearPage(ctx, u))

	_, err := c.Page(ctx, u)
	assert.ErrorIs(t, err, ErrPageNotFound)
	keys, err := store.Keys(ctx, models.SessionKeyPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys)

	pages, err := c.Pages(ctx)
	require.NoError(t, err)
	assert.Len(t, pages, 1)

	require.NoError(t, c.ClearPages(ctx))
	pages, err = c.Pages(ctx)
	require.NoError(t, err)
	assert.Empty(t, pages)
}

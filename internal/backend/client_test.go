package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mfenderov/elf/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, url, key string) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: url, APIKey: key, Backoff: time.Millisecond})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestStoreContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/content/store", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get(HeaderRequestID))

		var req models.StoreContentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://example.com/article", req.URL)
		assert.Equal(t, "Hello", req.Content)

		w.Write([]byte(`{"success":true,"contentId":"c1"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, "")
	id, err := c.StoreContent(context.Background(), models.StoreContentRequest{
		URL:     "https://example.com/article",
		Content: "Hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "c1", id)
}

func TestCreateAssistant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/assistant/create", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "c1", body["contentId"])
		w.Write([]byte(`{"assistantId":"a1","threadId":"t1"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, "")
	a, err := c.CreateAssistant(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "a1", a.AssistantID)
	assert.Equal(t, "t1", a.ThreadID)
}

func TestCredentialHeader(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"with key", "sk-test"},
		{"without key", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got atomic.Value
			var present atomic.Bool
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, ok := r.Header[http.CanonicalHeaderKey(HeaderAPIKey)]
				present.Store(ok)
				got.Store(r.Header.Get(HeaderAPIKey))
				w.Write([]byte(`{"contentId":"c1"}`))
			}))
			defer server.Close()

			c := newTestClient(t, server.URL, tt.key)
			_, err := c.StoreContent(context.Background(), models.StoreContentRequest{})
			require.NoError(t, err)

			assert.Equal(t, tt.key != "", present.Load())
			assert.Equal(t, tt.key, got.Load())
		})
	}
}

func TestRetry_TransportFailures(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		conn, _, err := w.(http.Hijacker).Hijack()
		require.NoError(t, err)
		conn.Close()
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, "")
	_, err := c.StoreContent(context.Background(), models.StoreContentRequest{})

	var te *TransportError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, 3, te.Attempts)
	assert.Equal(t, int32(3), hits.Load())
}

func TestRetry_RecoversAfterTransportFailure(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			conn, _, _ := w.(http.Hijacker).Hijack()
			conn.Close()
			return
		}
		w.Write([]byte(`{"contentId":"c2"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, "")
	id, err := c.StoreContent(context.Background(), models.StoreContentRequest{})
	require.NoError(t, err)
	assert.Equal(t, "c2", id)
	assert.Equal(t, int32(2), hits.Load())
}

func TestRetry_ParsedErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"content too large"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, "")
	_, err := c.StoreContent(context.Background(), models.StoreContentRequest{})

	var re *RemoteError
	require.True(t, errors.As(err, &re), "got %v", err)
	assert.Equal(t, http.StatusBadRequest, re.StatusCode)
	assert.Equal(t, "content too large", re.Message)
	assert.Equal(t, int32(1), hits.Load())
}

func TestRetry_UnparsableErrorIsRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("Bad Gateway"))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, "")
	_, err := c.CreateAssistant(context.Background(), "c1")

	var re *RemoteError
	require.True(t, errors.As(err, &re), "got %v", err)
	assert.Equal(t, "Bad Gateway", re.Message)
	assert.Equal(t, int32(3), hits.Load())
}

func TestRetry_StopsOnCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _ := w.(http.Hijacker).Hijack()
		conn.Close()
	}))
	defer server.Close()

	c, err := New(Config{BaseURL: server.URL, Backoff: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = c.StoreContent(ctx, models.StoreContentRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseError(t *testing.T) {
	tests := []struct {
		body string
		want string
		ok   bool
	}{
		{`{"error":"nope"}`, "nope", true},
		{`{"error":{"message":"bad key"}}`, "bad key", true},
		{`{"message":"rate limited"}`, "rate limited", true},
		{`{"success":false}`, "", false},
		{`<html>502</html>`, "", false},
		{``, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			got, ok := parseError([]byte(tt.body))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

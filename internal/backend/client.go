// Package backend is the HTTP client of the remote assistant service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mfenderov/elf/pkg/models"
)

// Header names sent with every request.
const (
	HeaderAPIKey    = "X-OpenAI-Key"
	HeaderRequestID = "X-Request-ID"
)

// Config holds backend client configuration.
type Config struct {
	BaseURL     string
	APIKey      string // optional; sent as HeaderAPIKey when set
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration // waited attempt*Backoff between retries
	HTTPClient  *http.Client
}

// Client talks to the assistant backend.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
}

// New creates a new backend client.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.Backoff <= 0 {
		config.Backoff = time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}

	return &Client{
		httpClient:  config.HTTPClient,
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		apiKey:      config.APIKey,
		timeout:     config.Timeout,
		maxAttempts: config.MaxAttempts,
		backoff:     config.Backoff,
	}, nil
}

type storeResponse struct {
	ContentID string `json:"contentId"`
}

// Assistant identifies a remote assistant and its conversation thread.
type Assistant struct {
	AssistantID string `json:"assistantId"`
	ThreadID    string `json:"threadId"`
}

// StoreContent uploads a page and returns its content id.
func (c *Client) StoreContent(ctx context.Context, req models.StoreContentRequest) (string, error) {
	var resp storeResponse
	if err := c.postJSON(ctx, "store content", "/api/content/store", req, &resp); err != nil {
		return "", err
	}
	if resp.ContentID == "" {
		return "", fmt.Errorf("store content: response missing contentId")
	}
	return resp.ContentID, nil
}

// CreateAssistant creates an assistant bound to stored content.
func (c *Client) CreateAssistant(ctx context.Context, contentID string) (*Assistant, error) {
	var resp Assistant
	body := map[string]string{"contentId": contentID}
	if err := c.postJSON(ctx, "create assistant", "/api/assistant/create", body, &resp); err != nil {
		return nil, err
	}
	if resp.AssistantID == "" || resp.ThreadID == "" {
		return nil, fmt.Errorf("create assistant: response missing assistantId or threadId")
	}
	return &resp, nil
}

// postJSON sends a JSON request, retrying failures that produced no
// parseable error body.
func (c *Client) postJSON(ctx context.Context, op, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			wait := time.Duration(attempt-1) * c.backoff
			slog.Debug("retrying backend request", "op", op, "attempt", attempt, "wait", wait, "error", lastErr)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", op, ctx.Err())
			case <-time.After(wait):
			}
		}

		status, body, err := c.do(ctx, path, payload)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%s: %w", op, ctx.Err())
			}
			lastErr = err
			continue
		}

		if status < 200 || status > 299 {
			if msg, ok := parseError(body); ok {
				return &RemoteError{Op: op, StatusCode: status, Message: msg}
			}
			lastErr = &RemoteError{Op: op, StatusCode: status, Message: strings.TrimSpace(string(body))}
			continue
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%s: failed to unmarshal response: %w", op, err)
		}
		return nil
	}

	if remote, ok := lastErr.(*RemoteError); ok {
		return remote
	}
	return &TransportError{Op: op, Attempts: c.maxAttempts, Err: lastErr}
}

func (c *Client) do(ctx context.Context, path string, payload []byte) (int, []byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := c.newRequest(ctx, path, payload)
	if err != nil {
		return 0, nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) newRequest(ctx context.Context, path string, payload []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderRequestID, uuid.NewString())
	if c.apiKey != "" {
		req.Header.Set(HeaderAPIKey, c.apiKey)
	}
	return req, nil
}

// parseError extracts the message of an error body shaped like
// {"error":"..."}, {"error":{"message":"..."}} or {"message":"..."}.
func parseError(body []byte) (string, bool) {
	var e struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return "", false
	}

	if len(e.Error) > 0 {
		var s string
		if err := json.Unmarshal(e.Error, &s); err == nil && s != "" {
			return s, true
		}
		var obj struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(e.Error, &obj); err == nil && obj.Message != "" {
			return obj.Message, true
		}
	}
	if e.Message != "" {
		return e.Message, true
	}
	return "", false
}

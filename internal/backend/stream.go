package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// ChatRequest is one user message sent to a thread.
type ChatRequest struct {
	ThreadID  string `json:"threadId"`
	Message   string `json:"message"`
	ContentID string `json:"contentId"`
}

// ChatResult is the finalized assistant answer.
type ChatResult struct {
	Text        string
	TotalTokens int
}

// Frame kinds.
const (
	FrameText  = "text"
	FrameDone  = "done"
	FrameError = "error"
)

type frame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Usage   *struct {
		TotalTokens int `json:"totalTokens"`
	} `json:"usage,omitempty"`
}

// StreamChat sends req and calls onChunk with every text chunk in
// arrival order. It returns the concatenated text once the stream is
// done. An error frame or a dropped connection yields a *StreamError;
// no partial result is returned with it.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest, onChunk func(string)) (*ChatResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, "/api/chat/stream", payload)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "chat stream", Attempts: 1, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		msg, ok := parseError(body)
		if !ok {
			msg = strings.TrimSpace(string(body))
		}
		return nil, &RemoteError{Op: "chat stream", StatusCode: resp.StatusCode, Message: msg}
	}

	return readStream(resp.Body, onChunk)
}

// readStream consumes newline-delimited "data: " frames. A frame split
// across network reads is reassembled by the line reader; lines that
// still do not parse are dropped.
func readStream(body io.Reader, onChunk func(string)) (*ChatResult, error) {
	reader := bufio.NewReader(body)
	var text strings.Builder
	result := &ChatResult{}

	for {
		line, readErr := reader.ReadString('\n')

		if f, ok := parseFrame(line); ok {
			switch f.Type {
			case FrameText:
				if f.Content != "" {
					text.WriteString(f.Content)
					if onChunk != nil {
						onChunk(f.Content)
					}
				}
			case FrameDone:
				if f.Usage != nil {
					result.TotalTokens = f.Usage.TotalTokens
				}
				result.Text = text.String()
				return result, nil
			case FrameError:
				msg := f.Content
				if msg == "" {
					msg = "backend reported an error"
				}
				return nil, &StreamError{Message: msg}
			default:
				slog.Debug("ignoring unknown frame", "type", f.Type)
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				// Closed without a done frame: keep what arrived.
				result.Text = text.String()
				return result, nil
			}
			return nil, &StreamError{Message: "connection dropped", Err: readErr}
		}
	}
}

func parseFrame(line string) (frame, bool) {
	line = strings.TrimRight(line, "\r\n")
	payload, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return frame{}, false
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return frame{}, false
	}
	if payload == "[DONE]" {
		return frame{Type: FrameDone}, true
	}

	var f frame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		slog.Debug("dropping malformed frame", "error", err)
		return frame{}, false
	}
	return f, true
}

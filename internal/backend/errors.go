package backend

import "fmt"

// TransportError is a failure to obtain a response, after all attempts.
type TransportError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: request failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RemoteError is a non-success response from the backend.
type RemoteError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: API error (status %d): %s", e.Op, e.StatusCode, e.Message)
}

// StreamError aborts a chat stream, either from an error frame or a
// dropped connection.
type StreamError struct {
	Message string
	Err     error
}

func (e *StreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stream aborted: %s: %v", e.Message, e.Err)
	}
	return "stream aborted: " + e.Message
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

package transport

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by sends on a session that has been closed.
var ErrClosed = errors.New("transport: session closed")

// ConnectionError reports that the agent connection could not be opened.
type ConnectionError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: connect to %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// HandshakeError is a websocket upgrade the agent answered with a non-101 status.
type HandshakeError struct {
	StatusCode int
	Status     string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("agent rejected handshake: %s", e.Status)
}

// Temporary reports whether the agent may accept a later attempt.
func (e *HandshakeError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

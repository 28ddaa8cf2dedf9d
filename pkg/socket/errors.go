package socket

import (
	"errors"
	"fmt"
)

// Sentinel errors for connection error conditions.
var (
	// ErrConnClosed is returned when an operation is attempted on a closed connection.
	ErrConnClosed = errors.New("socket: connection closed")

	// ErrInvalidHandshake is returned when the first frame is not a handshake.
	ErrInvalidHandshake = errors.New("socket: invalid handshake")

	// ErrPeerError is returned when the peer sent an error frame.
	ErrPeerError = errors.New("socket: peer reported error")
)

// ConnError wraps an error with connection context for debugging.
type ConnError struct {
	ConnID string
	Op     string // Operation that failed
	Err    error  // Underlying error
}

// Error returns the error message with connection context.
func (e *ConnError) Error() string {
	if e.ConnID == "" {
		return fmt.Sprintf("socket: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("socket: conn %s: %s: %v", e.ConnID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ConnError) Unwrap() error {
	return e.Err
}

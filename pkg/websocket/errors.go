package websocket

import (
	"errors"
	"fmt"
)

// Common error variables returned by the connection manager
var (
	// ErrConnectionNotFound is returned when an operation names a connection
	// that was never established via Connect
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrConnectionClosed is returned when an operation is attempted on a
	// connection that has been explicitly closed
	ErrConnectionClosed = errors.New("connection closed")

	// ErrAlreadyConnected is returned when Connect is called twice for the
	// same connection name
	ErrAlreadyConnected = errors.New("connection already established")

	// ErrUnknownEndpoint is returned when no endpoint URL is configured for
	// a connection name
	ErrUnknownEndpoint = errors.New("no endpoint configured for connection name")

	// ErrNotConnected is returned by Send when the socket is not up
	ErrNotConnected = errors.New("websocket not connected")
)

// ProtocolError reports an inbound frame that could not be decoded as JSON.
// It is delivered to the handler rather than dropped, so exchange-side
// protocol changes stay visible.
type ProtocolError struct {
	Frame []byte
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed frame: %.64q", e.Frame)
}

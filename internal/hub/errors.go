package hub

import "errors"

var (
	// ErrHubClosed is returned by every Hub entry point once Shutdown has begun.
	ErrHubClosed = errors.New("hub: closed")

	// ErrClientBufferFull is returned when a client's outbound queue has no room.
	// Callers must not retry synchronously.
	ErrClientBufferFull = errors.New("hub: client buffer full")

	// ErrClientClosed is returned when enqueueing onto a client whose outbound
	// queue has already been closed.
	ErrClientClosed = errors.New("hub: client closed")
)

package session

import "errors"

// Sentinel errors returned by sessions and the manager.
var (
	// ErrQueueFull reports an inbound queue at capacity; the message was
	// dropped, not deferred.
	ErrQueueFull = errors.New("session: inbound queue full")

	// ErrSessionStopped reports an enqueue against a session that has
	// been stopped.
	ErrSessionStopped = errors.New("session: session stopped")

	// ErrManagerClosed reports a start attempt after shutdown.
	ErrManagerClosed = errors.New("session: manager closed")
)

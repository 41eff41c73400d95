package session

import (
	"context"
	"errors"
)

// Router dispatches routed inbound messages to device sessions, starting
// a session on first contact so no message for a valid device is
// silently dropped.
type Router struct {
	manager *Manager
	logger  Logger
}

// NewRouter builds a Router over the manager.
func NewRouter(manager *Manager, logger Logger) *Router {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Router{manager: manager, logger: logger}
}

// Route enqueues msg on its device's session, lazily starting one bound
// by the same discovery and handshake windows as an explicit start. The
// enqueue never blocks on session processing: a full queue drops the
// message and returns ErrQueueFull.
func (r *Router) Route(ctx context.Context, msg InboundMessage) error {
	if msg.DeviceID == "" {
		return errors.New("session: message without device id")
	}

	sess, ok := r.manager.Lookup(msg.DeviceID)
	if !ok {
		if err := r.manager.Start(ctx, msg.DeviceID); err != nil {
			return err
		}
		sess, ok = r.manager.Lookup(msg.DeviceID)
		if !ok {
			// Stopped between start and enqueue; the message is dropped
			// like any other enqueue against a stopped session.
			return ErrSessionStopped
		}
	}

	err := sess.Enqueue(msg)
	if errors.Is(err, ErrQueueFull) {
		r.logger.Warn("inbound queue full, dropping message",
			"device_id", msg.DeviceID,
			"kind", msg.Kind)
	}
	return err
}

package capability

import (
	"errors"
	"fmt"
)

// Sentinel errors for capability operations.
//
// Use errors.Is to check against these:
//
//	result, err := client.CallTool(ctx, server, "ping", nil)
//	if errors.Is(err, capability.ErrServerNotConnected) {
//	    // fail-fast path, nothing was published
//	}
var (
	// ErrServerNotConnected indicates a list or call against a server that
	// is not currently in the connected state, including names the
	// registry has never seen. Operations fail with this immediately,
	// before any publish, rather than waiting out an RPC timeout.
	ErrServerNotConnected = errors.New("capability: server not connected")

	// ErrHandshakeFailed indicates the initialize exchange with a server
	// did not complete. The server is marked failed and retried on its
	// next presence announcement.
	ErrHandshakeFailed = errors.New("capability: handshake failed")

	// ErrCallTimeout indicates a tool invocation exceeded its deadline
	// without a response from the server.
	ErrCallTimeout = errors.New("capability: call timed out")

	// ErrClosed indicates an operation on a client after Stop.
	ErrClosed = errors.New("capability: client closed")

	// ErrInvalidScope indicates a scope configuration that cannot be
	// turned into a presence name filter.
	ErrInvalidScope = errors.New("capability: invalid scope")
)

// ProtocolError is a JSON-RPC error object returned by a capability
// server: a malformed request, an unknown method, an unknown tool. It is
// a transport-level failure; a tool that ran and declared its own failure
// arrives as CallResult.IsError instead, never as a ProtocolError.
type ProtocolError struct {
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("capability: server error %d: %s", e.Code, e.Message)
}

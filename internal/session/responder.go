package session

import (
	"context"

	"github.com/nerrad567/voicelink-core/internal/capability"
)

// FragmentKind tags one variant of a Responder stream fragment.
type FragmentKind string

// Fragment variants.
const (
	// FragmentText carries response content for the device.
	FragmentText FragmentKind = "text"

	// FragmentToolCall records a completed tool invocation. Informational;
	// it produces no wire output.
	FragmentToolCall FragmentKind = "tool_call"

	// FragmentError reports a failed turn. At most one per stream, always
	// the last fragment before the channel closes.
	FragmentError FragmentKind = "error"
)

// Fragment is one element of a Responder's reply stream.
type Fragment struct {
	Kind FragmentKind

	// Text is the content for FragmentText, or the user-facing failure
	// text for FragmentError.
	Text string

	// Tool is set for FragmentToolCall.
	Tool *ToolInvocation
}

// ToolInvocation describes one tool call the Responder made during a
// turn.
type ToolInvocation struct {
	Name      string
	Arguments map[string]any
	Result    string
}

// Responder turns device input into a streamed reply, using the tools in
// the catalog and the device's conversation history.
//
// The returned channel yields fragments in reply order and is closed
// when the stream ends, after any terminal FragmentError. A Responder
// must honor ctx cancellation by closing the stream promptly.
// Returning an error instead of a channel means the invocation could not
// start at all.
type Responder interface {
	Respond(ctx context.Context, input string, tools *capability.Catalog, history []Turn) (<-chan Fragment, error)
}

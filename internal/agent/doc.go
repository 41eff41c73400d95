// Package agent implements the production Responder: an OpenAI-compatible
// chat-completions client that streams reply text and runs the tool-call
// loop against the device's capability catalog.
//
// A turn is one or more streaming requests. Content deltas are forwarded
// as they arrive; when the model requests tool calls the agent executes
// them through the catalog, appends the results as tool messages, and
// asks again, up to a configured round limit. Transient HTTP failures
// retry with exponential backoff before the stream starts; any terminal
// failure surfaces as a single error fragment.
package agent

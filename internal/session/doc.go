// Package session orchestrates per-device conversations.
//
// A Manager holds at most one live Session per device id. Each session
// owns a device-scoped capability transport, a FIFO inbound queue, a
// sliding window of conversation memory and a tool catalog rebuilt
// whenever the transport's connected-server set changes. The Router
// lazily starts sessions as messages arrive; the Streamer turns each
// Responder reply into an ordered, task-correlated wire sequence.
//
// Sessions are isolated: turns for one device run strictly one at a
// time, while different devices stream concurrently. A failed turn
// produces exactly one error reply and the session keeps serving.
// Stopping a session cancels its in-flight turn, releases its transport
// and clears its memory; stop and shutdown are idempotent.
package session

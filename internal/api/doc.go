// Package api implements the gateway WebSocket endpoint and the operator
// HTTP API for VoiceLink Core.
//
// This package provides:
//   - The gateway endpoint: a line-framed JSON-RPC WebSocket carrying
//     device input (ASR results, device messages), session control, and
//     the outbound response stream
//   - REST endpoints for health, metrics, operator login, live session
//     inspection, capability server listing, and the tool invocation
//     audit log
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - TLS support for production deployments
//
// # Architecture
//
// The server sits between the voice gateway (upstream of ASR/TTS) and the
// per-device session layer. Each gateway connection owns its own session
// manager: device sessions live and die with the connection that created
// them, and their response streams write back to that same connection.
// The operator API reads across all live connections.
//
// # Security
//
// The gateway socket is unauthenticated, matching the deployment model of
// a trusted gateway on a private network. Operator endpoints require a
// JWT obtained from POST /auth/login with the configured operator
// password.
package api

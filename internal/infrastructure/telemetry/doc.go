// Package telemetry provides InfluxDB connectivity for VoiceLink Core.
//
// It wraps the official influxdb-client-go v2 library with VoiceLink-specific
// patterns for connection management, measurement writing, and health
// monitoring.
//
// # Purpose
//
// This package records operational time-series data:
//   - conversation_turn: per-turn latency, chunk counts, failures
//   - tool_invocation: per-call outcome and round-trip time
//   - session_event: session starts and stops per device
//
// Telemetry is optional. When disabled in config, Connect returns
// ErrDisabled and callers run without a client (all Record helpers are
// nil-safe at the call sites, which check before recording).
//
// # Usage
//
//	client, err := telemetry.Connect(cfg.Telemetry)
//	if errors.Is(err, telemetry.ErrDisabled) {
//	    // run without telemetry
//	} else if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.RecordToolInvocation("web-ui-hardware-controller/a1b2c3", "lamp_on", "success", 420*time.Millisecond)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via a
// callback set with SetOnError. Connection and health check errors are
// returned directly.
package telemetry

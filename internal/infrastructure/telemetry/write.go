package telemetry

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// RecordTurn writes a conversation_turn measurement.
//
// One point per completed Respond cycle, whether it produced speech or
// failed. The write is non-blocking; data is batched and sent
// asynchronously.
//
// Parameters:
//   - deviceID: Device the turn belonged to
//   - duration: Wall time from dequeue to final chunk
//   - chunks: Number of content chunks streamed to the device
//   - failed: Whether the turn ended with an error notice
func (c *Client) RecordTurn(deviceID string, duration time.Duration, chunks int, failed bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"conversation_turn",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
			"chunks":      chunks,
			"failed":      failed,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// RecordToolInvocation writes a tool_invocation measurement.
//
// Parameters:
//   - serverName: Capability server that handled the call
//   - toolName: Original (unprefixed) tool name
//   - outcome: "success", "tool_error", or "transport_error"
//   - duration: Round-trip time of the tools/call request
func (c *Client) RecordToolInvocation(serverName, toolName, outcome string, duration time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"tool_invocation",
		map[string]string{
			"server":  serverName,
			"tool":    toolName,
			"outcome": outcome,
		},
		map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// RecordSessionEvent writes a session_event measurement.
//
// Parameters:
//   - deviceID: Device whose session changed
//   - event: "started" or "stopped"
func (c *Client) RecordSessionEvent(deviceID, event string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"session_event",
		map[string]string{
			"device_id": deviceID,
			"event":     event,
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("gateway_stats",
//	    map[string]string{"host": "core-01"},
//	    map[string]interface{}{"connections": 3, "sessions": 2})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

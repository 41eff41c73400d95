package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the VoiceLink MQTT conventions.
//
// Capability servers and their clients rendezvous on $-prefixed topics so
// that broker-level "#" subscriptions from other tenants never see them
// ($-topics are excluded from root wildcards by the MQTT spec).
const (
	// TopicPrefixPresence is the base for capability-server presence
	// announcements: $mcp-server/presence/{server_id}/{server_name}
	TopicPrefixPresence = "$mcp-server/presence"

	// TopicPrefixRPC is the base for per-client RPC channels:
	// $mcp-rpc/{client_id}/{server_id}/{server_name}
	TopicPrefixRPC = "$mcp-rpc"

	// TopicPrefixDevice is the base for device-directed notifications:
	// $message/{device_id}
	TopicPrefixDevice = "$message"

	// TopicPrefixSystem is the base for VoiceLink system topics.
	TopicPrefixSystem = "voicelink/system"
)

// Topics provides builders for VoiceLink MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
// Server names are hierarchical and may contain '/' (for example
// "web-ui-hardware-controller/a1b2c3"), so they always occupy the tail of
// a topic and parsers treat everything after the fixed segments as the name.
//
//	topics := mqtt.Topics{}
//	presence := topics.ServerPresence("srv-01", "web-ui-hardware-controller/a1b2c3")
//	// Returns: "$mcp-server/presence/srv-01/web-ui-hardware-controller/a1b2c3"
type Topics struct{}

// =============================================================================
// Presence Topics
// =============================================================================

// ServerPresence returns the retained presence topic for a capability server.
//
// Example: $mcp-server/presence/srv-01/web-ui-hardware-controller/a1b2c3
func (Topics) ServerPresence(serverID, serverName string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixPresence, serverID, serverName)
}

// PresenceFilter returns the subscription pattern for discovering servers
// whose names match nameFilter. The filter is itself a topic filter over the
// server-name space: an exact name matches one server, "#" matches all.
//
// Example: $mcp-server/presence/+/web-ui-hardware-controller/a1b2c3
// Example: $mcp-server/presence/+/#
func (Topics) PresenceFilter(nameFilter string) string {
	return fmt.Sprintf("%s/+/%s", TopicPrefixPresence, nameFilter)
}

// =============================================================================
// RPC Topics
// =============================================================================

// RPC returns the request/response channel between one client and one server.
// The client publishes JSON-RPC requests here; the server publishes its
// responses to the same topic.
//
// Example: $mcp-rpc/voicelink-abc/srv-01/web-ui-hardware-controller/a1b2c3
func (Topics) RPC(clientID, serverID, serverName string) string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicPrefixRPC, clientID, serverID, serverName)
}

// RPCInbox returns the subscription pattern covering every RPC channel
// belonging to the given client.
//
// Pattern: $mcp-rpc/{client_id}/#
func (Topics) RPCInbox(clientID string) string {
	return fmt.Sprintf("%s/%s/#", TopicPrefixRPC, clientID)
}

// =============================================================================
// Device Topics
// =============================================================================

// DeviceChannel returns the notification topic for a specific device.
// Out-of-band notices (loading status, pushed messages) are published here.
//
// Example: $message/device-living-room
func (Topics) DeviceChannel(deviceID string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixDevice, deviceID)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the service status topic.
//
// Example: voicelink/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// =============================================================================
// Topic Parsers
// =============================================================================

// ParsePresenceTopic extracts the server id and server name from a presence
// topic. The server name is everything after the id segment and may itself
// contain '/'.
//
// Parameters:
//   - topic: A topic received on a PresenceFilter subscription
//
// Returns:
//   - serverID: The announcing server's client id
//   - serverName: The announced server name
//   - error: If the topic does not match the presence scheme
func ParsePresenceTopic(topic string) (serverID, serverName string, err error) {
	rest, ok := strings.CutPrefix(topic, TopicPrefixPresence+"/")
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not a presence topic", ErrInvalidTopic, topic)
	}

	id, name, ok := strings.Cut(rest, "/")
	if !ok || id == "" || name == "" {
		return "", "", fmt.Errorf("%w: presence topic %q missing server id or name", ErrInvalidTopic, topic)
	}

	return id, name, nil
}

// ParseRPCTopic extracts the client id, server id and server name from an
// RPC channel topic.
//
// Returns:
//   - clientID: The channel owner's client id
//   - serverID: The server's client id
//   - serverName: The server name (may contain '/')
//   - error: If the topic does not match the RPC scheme
func ParseRPCTopic(topic string) (clientID, serverID, serverName string, err error) {
	rest, ok := strings.CutPrefix(topic, TopicPrefixRPC+"/")
	if !ok {
		return "", "", "", fmt.Errorf("%w: %q is not an RPC topic", ErrInvalidTopic, topic)
	}

	cid, rest, ok := strings.Cut(rest, "/")
	if !ok || cid == "" {
		return "", "", "", fmt.Errorf("%w: RPC topic %q missing client id", ErrInvalidTopic, topic)
	}

	sid, name, ok := strings.Cut(rest, "/")
	if !ok || sid == "" || name == "" {
		return "", "", "", fmt.Errorf("%w: RPC topic %q missing server id or name", ErrInvalidTopic, topic)
	}

	return cid, sid, name, nil
}

// Package mqtt provides MQTT client connectivity for VoiceLink Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// VoiceLink uses MQTT as the rendezvous between device sessions and
// capability servers. Servers announce themselves on retained presence
// topics; each session opens per-server RPC channels and publishes
// device notifications, all through this client.
//
//	Device Sessions ↔ MQTT Broker ↔ Capability Servers
//
// # Topic Scheme
//
//   - $mcp-server/presence/{server_id}/{server_name}: retained presence
//   - $mcp-rpc/{client_id}/{server_id}/{server_name}: RPC channel
//   - $message/{device_id}: device-directed notifications
//   - voicelink/system/status: service online/offline status
//
// Server names are hierarchical and may contain '/'; see topics.go for the
// builders and parsers that handle this.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Discover every capability server
//	err = client.Subscribe(mqtt.Topics{}.PresenceFilter("#"), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Push a notification to a device
//	topic := mqtt.Topics{}.DeviceChannel("device-living-room")
//	client.Publish(topic, []byte(`{"type":"message"}`), 1, false)
package mqtt

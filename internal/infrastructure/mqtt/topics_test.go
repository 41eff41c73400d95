package mqtt

import (
	"errors"
	"testing"
)

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name     string
		builder  func() string
		expected string
	}{
		{
			name: "ServerPresence",
			builder: func() string {
				return Topics{}.ServerPresence("srv-01", "web-ui-hardware-controller/a1b2c3")
			},
			expected: "$mcp-server/presence/srv-01/web-ui-hardware-controller/a1b2c3",
		},
		{
			name: "PresenceFilter exact name",
			builder: func() string {
				return Topics{}.PresenceFilter("web-ui-hardware-controller/a1b2c3")
			},
			expected: "$mcp-server/presence/+/web-ui-hardware-controller/a1b2c3",
		},
		{
			name: "PresenceFilter all servers",
			builder: func() string {
				return Topics{}.PresenceFilter("#")
			},
			expected: "$mcp-server/presence/+/#",
		},
		{
			name: "RPC",
			builder: func() string {
				return Topics{}.RPC("voicelink-abc", "srv-01", "web-ui-hardware-controller/a1b2c3")
			},
			expected: "$mcp-rpc/voicelink-abc/srv-01/web-ui-hardware-controller/a1b2c3",
		},
		{
			name: "RPCInbox",
			builder: func() string {
				return Topics{}.RPCInbox("voicelink-abc")
			},
			expected: "$mcp-rpc/voicelink-abc/#",
		},
		{
			name: "DeviceChannel",
			builder: func() string {
				return Topics{}.DeviceChannel("device-living-room")
			},
			expected: "$message/device-living-room",
		},
		{
			name: "SystemStatus",
			builder: func() string {
				return Topics{}.SystemStatus()
			},
			expected: "voicelink/system/status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.builder()
			if result != tt.expected {
				t.Errorf("%s() = %q, want %q", tt.name, result, tt.expected)
			}
		})
	}
}

func TestParsePresenceTopic(t *testing.T) {
	tests := []struct {
		name     string
		topic    string
		wantID   string
		wantName string
		wantErr  bool
	}{
		{
			name:     "simple server name",
			topic:    "$mcp-server/presence/srv-01/calculator",
			wantID:   "srv-01",
			wantName: "calculator",
		},
		{
			name:     "hierarchical server name",
			topic:    "$mcp-server/presence/srv-01/web-ui-hardware-controller/a1b2c3",
			wantID:   "srv-01",
			wantName: "web-ui-hardware-controller/a1b2c3",
		},
		{
			name:    "not a presence topic",
			topic:   "$mcp-rpc/client/srv/name",
			wantErr: true,
		},
		{
			name:    "missing server name",
			topic:   "$mcp-server/presence/srv-01",
			wantErr: true,
		},
		{
			name:    "trailing slash only",
			topic:   "$mcp-server/presence/srv-01/",
			wantErr: true,
		},
		{
			name:    "empty topic",
			topic:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, name, err := ParsePresenceTopic(tt.topic)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParsePresenceTopic(%q) expected error, got nil", tt.topic)
				}
				if !errors.Is(err, ErrInvalidTopic) {
					t.Errorf("ParsePresenceTopic(%q) error = %v, want ErrInvalidTopic", tt.topic, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePresenceTopic(%q) error = %v", tt.topic, err)
			}
			if id != tt.wantID {
				t.Errorf("serverID = %q, want %q", id, tt.wantID)
			}
			if name != tt.wantName {
				t.Errorf("serverName = %q, want %q", name, tt.wantName)
			}
		})
	}
}

func TestParseRPCTopic(t *testing.T) {
	tests := []struct {
		name       string
		topic      string
		wantClient string
		wantServer string
		wantName   string
		wantErr    bool
	}{
		{
			name:       "simple server name",
			topic:      "$mcp-rpc/voicelink-abc/srv-01/calculator",
			wantClient: "voicelink-abc",
			wantServer: "srv-01",
			wantName:   "calculator",
		},
		{
			name:       "hierarchical server name",
			topic:      "$mcp-rpc/voicelink-abc/srv-01/web-ui-hardware-controller/a1b2c3",
			wantClient: "voicelink-abc",
			wantServer: "srv-01",
			wantName:   "web-ui-hardware-controller/a1b2c3",
		},
		{
			name:    "not an RPC topic",
			topic:   "$mcp-server/presence/srv-01/calculator",
			wantErr: true,
		},
		{
			name:    "missing server name",
			topic:   "$mcp-rpc/voicelink-abc/srv-01",
			wantErr: true,
		},
		{
			name:    "missing server id and name",
			topic:   "$mcp-rpc/voicelink-abc",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, server, name, err := ParseRPCTopic(tt.topic)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseRPCTopic(%q) expected error, got nil", tt.topic)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRPCTopic(%q) error = %v", tt.topic, err)
			}
			if client != tt.wantClient {
				t.Errorf("clientID = %q, want %q", client, tt.wantClient)
			}
			if server != tt.wantServer {
				t.Errorf("serverID = %q, want %q", server, tt.wantServer)
			}
			if name != tt.wantName {
				t.Errorf("serverName = %q, want %q", name, tt.wantName)
			}
		})
	}
}

func TestPresenceTopicRoundTrip(t *testing.T) {
	topics := Topics{}
	built := topics.ServerPresence("srv-42", "web-ui-hardware-controller/kitchen")

	id, name, err := ParsePresenceTopic(built)
	if err != nil {
		t.Fatalf("ParsePresenceTopic() error = %v", err)
	}
	if id != "srv-42" {
		t.Errorf("serverID = %q, want %q", id, "srv-42")
	}
	if name != "web-ui-hardware-controller/kitchen" {
		t.Errorf("serverName = %q, want %q", name, "web-ui-hardware-controller/kitchen")
	}
}

func TestRPCTopicRoundTrip(t *testing.T) {
	topics := Topics{}
	built := topics.RPC("voicelink-dev-1", "srv-42", "web-ui-hardware-controller/kitchen")

	client, server, name, err := ParseRPCTopic(built)
	if err != nil {
		t.Fatalf("ParseRPCTopic() error = %v", err)
	}
	if client != "voicelink-dev-1" {
		t.Errorf("clientID = %q, want %q", client, "voicelink-dev-1")
	}
	if server != "srv-42" {
		t.Errorf("serverID = %q, want %q", server, "srv-42")
	}
	if name != "web-ui-hardware-controller/kitchen" {
		t.Errorf("serverName = %q, want %q", name, "web-ui-hardware-controller/kitchen")
	}
}

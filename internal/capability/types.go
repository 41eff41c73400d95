package capability

import (
	"encoding/json"
	"strings"
	"time"
)

// ServerState is the connection state of a discovered capability server.
type ServerState string

// Server connection states.
//
// A presence announcement moves a server to StateConnecting and starts a
// handshake; handshake success moves it to StateConnected, failure to
// StateFailed. A failed server goes back to StateConnecting on its next
// announcement. A disconnect announcement removes the server from the
// registry entirely in any state; StateDisconnected names that terminal
// outcome in events and logs but is never stored.
const (
	StateUnknown      ServerState = "unknown"
	StateConnecting   ServerState = "connecting"
	StateConnected    ServerState = "connected"
	StateFailed       ServerState = "failed"
	StateDisconnected ServerState = "disconnected"
)

// ServerInfo is a point-in-time view of one registry entry.
type ServerInfo struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	State        ServerState `json:"state"`
	ToolCount    int         `json:"tool_count"`
	DiscoveredAt time.Time   `json:"discovered_at"`
}

// Tool is one invocable operation advertised by a capability server.
// Immutable once built; catalogs replace tools wholesale on rebuild.
type Tool struct {
	Name        string
	Description string
	Params      []ParamSpec
}

// ParamSpec describes a single tool parameter as a flat field: the
// argument validator and the Responder's tool definitions are both built
// from this list, so there is exactly one source of truth per parameter.
type ParamSpec struct {
	Name        string
	Type        string
	Required    bool
	Description string
}

// EventKind classifies a connected-set change.
type EventKind string

// Connection event kinds.
const (
	EventConnected EventKind = "connected"
	EventFailed    EventKind = "failed"
	EventRemoved   EventKind = "removed"
)

// Event is one connected-set change. Consumers watch the client's event
// channel to learn when the catalog is stale; the event itself carries no
// state, so a consumer re-reads the registry however late it wakes up.
type Event struct {
	Kind   EventKind
	Server string
}

// PartKind tags one variant of a tool result content part.
type PartKind string

// Content part variants.
const (
	PartText     PartKind = "text"
	PartImage    PartKind = "image"
	PartAudio    PartKind = "audio"
	PartResource PartKind = "resource"
)

// ContentPart is one element of a tool result payload. Exactly one
// variant applies, selected by Kind; the other fields are zero.
type ContentPart struct {
	Kind     PartKind
	Text     string // PartText
	MimeType string // PartImage, PartAudio
	URI      string // PartResource
}

// UnmarshalJSON decodes the wire form of a content part:
//
//	{"type":"text","text":"..."}
//	{"type":"image","data":"...","mimeType":"image/png"}
//	{"type":"audio","data":"...","mimeType":"audio/wav"}
//	{"type":"resource","resource":{"uri":"..."}}
//
// Binary payloads are not retained; Render reduces those variants to
// placeholders.
func (p *ContentPart) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		MimeType string `json:"mimeType"`
		Resource struct {
			URI string `json:"uri"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	p.Kind = PartKind(raw.Type)
	p.Text = raw.Text
	p.MimeType = raw.MimeType
	p.URI = raw.Resource.URI
	return nil
}

// MarshalJSON emits the same wire form UnmarshalJSON accepts.
func (p ContentPart) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case PartText:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{string(p.Kind), p.Text})
	case PartResource:
		return json.Marshal(struct {
			Type     string `json:"type"`
			Resource struct {
				URI string `json:"uri"`
			} `json:"resource"`
		}{Type: string(p.Kind), Resource: struct {
			URI string `json:"uri"`
		}{p.URI}})
	default:
		return json.Marshal(struct {
			Type     string `json:"type"`
			MimeType string `json:"mimeType,omitempty"`
		}{string(p.Kind), p.MimeType})
	}
}

// Render produces the single-line human-readable form of the part.
// Non-text variants become placeholders so no part is ever dropped from a
// normalized result.
func (p ContentPart) Render() string {
	switch p.Kind {
	case PartText:
		return p.Text
	case PartImage, PartAudio:
		return placeholder(string(p.Kind), p.MimeType)
	case PartResource:
		return placeholder(string(p.Kind), p.URI)
	default:
		return placeholder(string(p.Kind), "")
	}
}

func placeholder(kind, detail string) string {
	if detail == "" {
		return "[" + kind + "]"
	}
	return "[" + kind + " " + detail + "]"
}

// CallResult is the structured outcome of one tools/call invocation that
// reached its server. Invocations that never completed surface as errors
// from CallTool instead.
type CallResult struct {
	// Content holds the result payload parts in arrival order.
	Content []ContentPart

	// IsError reports that the tool ran and declared failure. The
	// content then carries the failure text.
	IsError bool
}

// Normalize renders every content part and joins them with "\n" in
// arrival order, producing the single string the Responder consumes.
func (r *CallResult) Normalize() string {
	if len(r.Content) == 0 {
		return ""
	}
	rendered := make([]string, len(r.Content))
	for i, part := range r.Content {
		rendered[i] = part.Render()
	}
	return strings.Join(rendered, "\n")
}

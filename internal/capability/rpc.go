package capability

import (
	"encoding/json"
	"sort"

	"github.com/google/uuid"
)

// jsonRPCVersion tags every message on an RPC channel.
const jsonRPCVersion = "2.0"

// protocolVersion is the capability protocol revision this client speaks
// during the initialize exchange.
const protocolVersion = "2024-11-05"

// RPC method names of the capability convention.
const (
	methodInitialize  = "initialize"
	methodInitialized = "notifications/initialized"
	methodToolsList   = "tools/list"
	methodToolsCall   = "tools/call"
)

// newRequestID returns the correlation id for one JSON-RPC request.
func newRequestID() string {
	return uuid.NewString()
}

// rpcRequest is an outgoing JSON-RPC request, or a notification when ID
// is empty.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcEnvelope is an incoming JSON-RPC message of any shape: Method is set
// on server-initiated traffic, Result or Error on responses to our own
// requests. Ids we issue are uuid strings, so a string field suffices for
// correlation.
type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is the JSON-RPC error object.
type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// peerInfo identifies one side of the initialize exchange.
type peerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// initializeParams is the client half of the initialize exchange.
type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      peerInfo       `json:"clientInfo"`
}

// initializeResult is the server half. Only the fields the client acts on
// are decoded.
type initializeResult struct {
	ProtocolVersion string   `json:"protocolVersion"`
	ServerInfo      peerInfo `json:"serverInfo"`
}

// toolsListResult is the payload of a tools/list response.
type toolsListResult struct {
	Tools []toolSchema `json:"tools"`
}

// toolSchema is one advertised tool: a name, a description and a JSON
// schema for its arguments.
type toolSchema struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema inputSchema `json:"inputSchema"`
}

// inputSchema is the subset of JSON schema the catalog understands: an
// object with typed properties and a required list.
type inputSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]propertySchema `json:"properties"`
	Required   []string                  `json:"required"`
}

// propertySchema describes one property of an input schema.
type propertySchema struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// toolsCallParams is the payload of a tools/call request.
type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// toolsCallResult is the payload of a tools/call response.
type toolsCallResult struct {
	Content []ContentPart `json:"content"`
	IsError bool          `json:"isError"`
}

// toolFromSchema flattens an advertised schema into the field list the
// catalog validates against. Parameters are sorted by name so repeated
// builds of the same schema produce identical tools.
func toolFromSchema(s toolSchema) Tool {
	required := make(map[string]bool, len(s.InputSchema.Required))
	for _, name := range s.InputSchema.Required {
		required[name] = true
	}

	params := make([]ParamSpec, 0, len(s.InputSchema.Properties))
	for name, prop := range s.InputSchema.Properties {
		params = append(params, ParamSpec{
			Name:        name,
			Type:        prop.Type,
			Required:    required[name],
			Description: prop.Description,
		})
	}
	sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })

	return Tool{
		Name:        s.Name,
		Description: s.Description,
		Params:      params,
	}
}

package agent

import (
	"github.com/nerrad567/voicelink-core/internal/capability"
)

// Chat-completions wire types. JSON tags are the API contract; any
// OpenAI-compatible endpoint accepts these shapes.

// chatMessage is one conversation message. Assistant messages may carry
// tool calls; tool messages answer one call via ToolCallID.
type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// toolCall is a complete tool invocation requested by the model.
type toolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function functionCall `json:"function"`
}

// functionCall names the tool and carries its arguments as a JSON string,
// which is how the API delivers them.
type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// toolDefinition describes one available tool in the function-calling
// format sent with each request.
type toolDefinition struct {
	Type     string         `json:"type"`
	Function functionSchema `json:"function"`
}

// functionSchema is the name, description and JSON Schema parameter
// object for one tool.
type functionSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// chatRequest is the request body for a streaming completion.
type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []chatMessage    `json:"messages"`
	Tools       []toolDefinition `json:"tools,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	Stream      bool             `json:"stream"`
}

// streamChunk is one decoded SSE data payload.
type streamChunk struct {
	Choices []struct {
		Delta        streamDelta `json:"delta"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

// streamDelta is the incremental piece of the reply in one chunk.
type streamDelta struct {
	Content   string          `json:"content"`
	ToolCalls []toolCallDelta `json:"tool_calls,omitempty"`
}

// toolCallDelta is a partial tool call. Streaming responses assemble a
// call across several chunks: the first carries the id and name, later
// ones append argument text. Index identifies the call being extended.
type toolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// apiError is the structured failure the API embeds in error responses
// and, with some providers, in stream chunks.
type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// toolDefinitions renders every catalog tool in the function-calling
// format. An empty catalog produces nil so the request omits the tools
// field entirely.
func toolDefinitions(c *capability.Catalog) []toolDefinition {
	tools := c.Tools()
	if len(tools) == 0 {
		return nil
	}
	defs := make([]toolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, toolDefinition{
			Type: "function",
			Function: functionSchema{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  paramSchema(t.Params),
			},
		})
	}
	return defs
}

// paramSchema builds the JSON Schema object for a tool's parameters.
func paramSchema(params []capability.ParamSpec) map[string]any {
	props := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		prop := map[string]any{"type": schemaType(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// schemaType maps a declared parameter type onto a JSON Schema type.
// Vendor-specific tags, which the argument validator passes through
// unchecked, become "string" so the definition stays valid Schema.
func schemaType(t string) string {
	switch t {
	case "string", "integer", "number", "boolean", "object", "array":
		return t
	default:
		return "string"
	}
}

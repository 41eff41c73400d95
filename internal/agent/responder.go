package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/nerrad567/voicelink-core/internal/capability"
	"github.com/nerrad567/voicelink-core/internal/infrastructure/config"
	"github.com/nerrad567/voicelink-core/internal/session"
)

// defaultMaxToolRounds caps the tool-call loop when the configuration
// does not.
const defaultMaxToolRounds = 8

// errorResultPrefix marks a tool result the model should read as a
// failure, matching the catalog's error-content convention.
const errorResultPrefix = "Error: "

// Logger is the minimal logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Responder produces streamed replies from an OpenAI-compatible
// chat-completions endpoint, executing catalog tools the model requests.
// It implements session.Responder.
//
// Thread Safety: safe for concurrent use. Each Respond call runs an
// independent request loop; the Responder itself is immutable after New.
type Responder struct {
	client        *client
	systemPrompt  string
	maxToolRounds int
	logger        Logger
}

var _ session.Responder = (*Responder)(nil)

// New builds a Responder from agent configuration.
//
// The system prompt file is read once here: a missing or empty file is a
// startup error, not something to discover on the first turn.
//
// Parameters:
//   - cfg: Agent section of the loaded configuration
//   - logger: Structured logger (nil for none)
//
// Returns:
//   - *Responder: Ready responder
//   - error: If the system prompt cannot be loaded
func New(cfg config.AgentConfig, logger Logger) (*Responder, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	prompt, err := loadSystemPrompt(cfg.SystemPromptPath)
	if err != nil {
		return nil, err
	}

	rounds := cfg.MaxToolRounds
	if rounds <= 0 {
		rounds = defaultMaxToolRounds
	}

	return &Responder{
		client: &client{
			apiBase:        strings.TrimRight(cfg.APIBase, "/"),
			apiKey:         cfg.APIKey,
			model:          cfg.Model,
			temperature:    cfg.Temperature,
			httpClient:     &http.Client{Timeout: cfg.GetRequestTimeout()},
			maxRetries:     cfg.MaxRetries,
			retryBaseDelay: cfg.GetRetryBaseDelay(),
			logger:         logger,
		},
		systemPrompt:  prompt,
		maxToolRounds: rounds,
		logger:        logger,
	}, nil
}

// Respond implements session.Responder. The returned stream is fed by a
// goroutine running the chat loop and is closed when the turn completes,
// fails, or ctx is cancelled.
func (r *Responder) Respond(ctx context.Context, input string, tools *capability.Catalog, history []session.Turn) (<-chan session.Fragment, error) {
	msgs := r.buildMessages(input, history)
	defs := toolDefinitions(tools)

	out := make(chan session.Fragment)
	go r.run(ctx, out, msgs, defs, tools)
	return out, nil
}

// buildMessages assembles the request messages: system prompt, prior
// turns, then the new input.
func (r *Responder) buildMessages(input string, history []session.Turn) []chatMessage {
	msgs := make([]chatMessage, 0, len(history)+2)
	msgs = append(msgs, chatMessage{Role: "system", Content: r.systemPrompt})
	for _, t := range history {
		msgs = append(msgs, chatMessage{Role: string(t.Role), Content: t.Content})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: input})
	return msgs
}

// run drives the chat loop: stream a response, execute any requested
// tools, append the results and ask again, until the model answers with
// content only or the round limit is hit.
//
// Failures emit a single error fragment with no text; the session layer
// substitutes its standard reply. Cancellation closes the stream with no
// error fragment at all.
func (r *Responder) run(ctx context.Context, out chan<- session.Fragment, msgs []chatMessage, defs []toolDefinition, tools *capability.Catalog) {
	defer close(out)

	emitText := func(text string) error {
		return emit(ctx, out, session.Fragment{Kind: session.FragmentText, Text: text})
	}

	for round := 0; ; round++ {
		result, err := r.client.stream(ctx, msgs, defs, emitText)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("chat request failed", "error", err)
			_ = emit(ctx, out, session.Fragment{Kind: session.FragmentError})
			return
		}

		if len(result.toolCalls) == 0 {
			return
		}
		if round >= r.maxToolRounds {
			r.logger.Warn("tool round limit reached", "limit", r.maxToolRounds)
			_ = emit(ctx, out, session.Fragment{Kind: session.FragmentError})
			return
		}

		msgs = append(msgs, chatMessage{
			Role:      "assistant",
			Content:   result.content,
			ToolCalls: result.toolCalls,
		})
		for _, call := range result.toolCalls {
			invocation := r.executeCall(ctx, tools, call)
			if err := emit(ctx, out, session.Fragment{Kind: session.FragmentToolCall, Tool: invocation}); err != nil {
				return
			}
			msgs = append(msgs, chatMessage{
				Role:       "tool",
				Content:    invocation.Result,
				ToolCallID: call.ID,
			})
		}
	}
}

// executeCall runs one requested tool through the catalog. Every failure
// mode becomes model-readable "Error: " text in the invocation result
// rather than a stream error, so the turn continues and the model can
// react.
func (r *Responder) executeCall(ctx context.Context, tools *capability.Catalog, call toolCall) *session.ToolInvocation {
	name := call.Function.Name
	invocation := &session.ToolInvocation{Name: name}

	args, err := parseCallArgs(call.Function.Arguments)
	if err != nil {
		r.logger.Warn("tool arguments unparseable", "tool", name, "error", err)
		invocation.Result = errorResultPrefix + "invalid tool arguments: " + err.Error()
		return invocation
	}
	invocation.Arguments = args

	tool, ok := tools.Get(name)
	if !ok {
		r.logger.Warn("model requested unknown tool", "tool", name)
		invocation.Result = errorResultPrefix + "unknown tool: " + name
		return invocation
	}

	text, err := tool.Call(ctx, args)
	if err != nil {
		r.logger.Warn("tool call failed", "tool", name, "error", err)
		invocation.Result = errorResultPrefix + name + " is unavailable: " + err.Error()
		return invocation
	}

	r.logger.Debug("tool call completed", "tool", name, "server", tool.Server)
	invocation.Result = text
	return invocation
}

// parseCallArgs decodes the JSON arguments string. Models emit an empty
// string for calls that take no arguments.
func parseCallArgs(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// emit delivers a fragment unless the turn has been cancelled.
func emit(ctx context.Context, out chan<- session.Fragment, f session.Fragment) error {
	select {
	case out <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

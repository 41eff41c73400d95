package capability

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// errorContentPrefix marks a normalized tool result that carries a
// declared failure. The Responder reasons about the text instead of the
// call raising locally.
const errorContentPrefix = "Error: "

// Outcome classifies one catalog invocation for observers.
type Outcome string

// Invocation outcomes.
const (
	OutcomeSuccess        Outcome = "success"
	OutcomeToolError      Outcome = "tool_error"
	OutcomeTransportError Outcome = "transport_error"
)

// InvokeObserver sees the outcome of every catalog tool invocation.
// Observers feed the audit log and telemetry; they must not block.
type InvokeObserver func(server, tool string, outcome Outcome, duration time.Duration)

// CatalogSource lists and calls tools on connected servers. *Client
// satisfies it; catalog tests substitute a scripted fake.
type CatalogSource interface {
	ConnectedServers() []string
	ListTools(ctx context.Context, serverName string) ([]Tool, error)
	CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (*CallResult, error)
}

// BuildOptions configures a catalog build.
type BuildOptions struct {
	// Observer, when set, sees every wrapper invocation.
	Observer InvokeObserver

	// Logger is optional structured logging.
	Logger Logger
}

// Catalog is an immutable set of uniquely named callable tools. Sessions
// build a fresh catalog on every connected-set change and swap the whole
// value, so readers always see a complete catalog, old or new.
type Catalog struct {
	tools  []*CatalogTool
	byName map[string]*CatalogTool
}

// EmptyCatalog returns a catalog with no tools, for sessions running
// degraded before any server connects.
func EmptyCatalog() *Catalog {
	return &Catalog{byName: make(map[string]*CatalogTool)}
}

// BuildCatalog assembles the callable wrapper set from every connected
// server's advertised tools.
//
// Servers are visited in sorted name order, so when two servers advertise
// the same tool name the first name wins every build; the duplicate is
// skipped with a warning. A server whose listing fails is omitted from
// this catalog and picked up again on the next rebuild.
func BuildCatalog(ctx context.Context, source CatalogSource, opts BuildOptions) *Catalog {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	catalog := EmptyCatalog()
	for _, server := range source.ConnectedServers() {
		tools, err := source.ListTools(ctx, server)
		if err != nil {
			logger.Warn("tool listing failed, omitting server from catalog",
				"server", server,
				"error", err)
			continue
		}

		for _, tool := range tools {
			if _, exists := catalog.byName[tool.Name]; exists {
				logger.Warn("duplicate tool name, keeping the first",
					"tool", tool.Name,
					"server", server)
				continue
			}
			wrapper := &CatalogTool{
				Tool:     tool,
				Server:   server,
				source:   source,
				observer: opts.Observer,
			}
			catalog.byName[tool.Name] = wrapper
			catalog.tools = append(catalog.tools, wrapper)
		}
	}
	return catalog
}

// Tools returns the catalog's tools in build order.
func (c *Catalog) Tools() []*CatalogTool {
	out := make([]*CatalogTool, len(c.tools))
	copy(out, c.tools)
	return out
}

// Get looks a tool up by name.
func (c *Catalog) Get(name string) (*CatalogTool, bool) {
	tool, ok := c.byName[name]
	return tool, ok
}

// Len reports the number of tools in the catalog.
func (c *Catalog) Len() int {
	return len(c.tools)
}

// CatalogTool is one callable wrapper around a remote tool.
type CatalogTool struct {
	Tool

	// Server is the capability server the tool lives on.
	Server string

	source   CatalogSource
	observer InvokeObserver
}

// Call validates args, invokes the remote tool and normalizes the result
// to a single string:
//
//   - success: the content parts rendered and joined by "\n".
//   - declared tool failure, or arguments failing validation: the same
//     normalized text prefixed "Error: ", returned as content rather than
//     an error so the Responder can reason about it.
//   - transport failure: an error and no content.
func (t *CatalogTool) Call(ctx context.Context, args map[string]any) (string, error) {
	if err := validateArgs(t.Params, args); err != nil {
		t.observe(OutcomeToolError, 0)
		return errorContentPrefix + err.Error(), nil
	}

	start := time.Now()
	result, err := t.source.CallTool(ctx, t.Server, t.Name, args)
	elapsed := time.Since(start)
	if err != nil {
		t.observe(OutcomeTransportError, elapsed)
		return "", err
	}

	text := result.Normalize()
	if result.IsError {
		t.observe(OutcomeToolError, elapsed)
		return errorContentPrefix + text, nil
	}
	t.observe(OutcomeSuccess, elapsed)
	return text, nil
}

func (t *CatalogTool) observe(outcome Outcome, duration time.Duration) {
	if t.observer != nil {
		t.observer(t.Server, t.Name, outcome, duration)
	}
}

// validateArgs checks an argument mapping against the parameter spec:
// every required parameter present, no unknown parameters, every value
// matching its declared type tag. All problems are reported in one error
// so the Responder can fix them in a single correction.
func validateArgs(params []ParamSpec, args map[string]any) error {
	specs := make(map[string]ParamSpec, len(params))
	for _, p := range params {
		specs[p.Name] = p
	}

	var problems []string
	for _, p := range params {
		if p.Required {
			if _, ok := args[p.Name]; !ok {
				problems = append(problems, fmt.Sprintf("missing required argument %q", p.Name))
			}
		}
	}

	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec, ok := specs[name]
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown argument %q", name))
			continue
		}
		if err := checkType(spec.Type, args[name]); err != nil {
			problems = append(problems, fmt.Sprintf("argument %q: %v", name, err))
		}
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// checkType matches one decoded JSON value against a schema type tag.
// Unknown tags accept anything; servers may advertise types this client
// has no rule for.
func checkType(typeTag string, value any) error {
	switch typeTag {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %s", jsonTypeName(value))
		}
	case "number":
		switch value.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("expected number, got %s", jsonTypeName(value))
		}
	case "integer":
		switch v := value.(type) {
		case int, int64:
		case float64:
			// JSON has no integer type; whole-valued floats qualify.
			if v != math.Trunc(v) {
				return fmt.Errorf("expected integer, got %v", v)
			}
		default:
			return fmt.Errorf("expected integer, got %s", jsonTypeName(value))
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %s", jsonTypeName(value))
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("expected object, got %s", jsonTypeName(value))
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("expected array, got %s", jsonTypeName(value))
		}
	}
	return nil
}

// jsonTypeName names a decoded JSON value's type for error messages.
func jsonTypeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}

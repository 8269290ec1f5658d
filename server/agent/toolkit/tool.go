// Package toolkit assembles the tool set of one agent invocation.
package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"

	"github.com/shopmind/shopmind/plugin/sandbox"
	"github.com/shopmind/shopmind/plugin/woocommerce"
)

// ErrMissingCredentials is returned when store credentials are incomplete.
var ErrMissingCredentials = woocommerce.ErrMissingCredentials

// Tool is a langchaingo tool that also publishes the JSON schema of its arguments.
type Tool interface {
	tools.Tool
	Parameters() map[string]any
}

// Definition converts a tool into the function spec sent to the model.
func Definition(t Tool) llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

// Envelope is the JSON shape every built-in tool returns.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Failure renders err as {success:false,error}.
func Failure(err error) string {
	return encode(&Envelope{Success: false, Error: err.Error()})
}

func encode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(&Envelope{Success: false, Error: "failed to encode tool result: " + err.Error()})
	}
	return string(b)
}

// Handler does the work of a tool. Returned errors become {success:false,error} results.
type Handler func(ctx context.Context, args Args) (any, error)

type funcTool struct {
	name        string
	description string
	schema      map[string]any
	required    []string
	handler     Handler
}

// NewTool builds a tool from a schema and handler.
func NewTool(name, description string, schema map[string]any, handler Handler) Tool {
	t := &funcTool{name: name, description: description, schema: schema, handler: handler}
	if req, ok := schema["required"].([]string); ok {
		t.required = req
	}
	return t
}

func (t *funcTool) Name() string { return t.name }

func (t *funcTool) Description() string { return t.description }

func (t *funcTool) Parameters() map[string]any { return t.schema }

func (t *funcTool) Call(ctx context.Context, input string) (string, error) {
	args, err := ParseArgs(input)
	if err != nil {
		return Failure(err), nil
	}
	for _, key := range t.required {
		if !args.Has(key) {
			return Failure(errors.Errorf("missing required argument %q", key)), nil
		}
	}
	out, err := t.handler(ctx, args)
	if err != nil {
		slog.Warn("[AGENT TOOL ERROR]", "tool", t.name, "err", err)
		return Failure(err), nil
	}
	switch v := out.(type) {
	case *Envelope, *sandbox.Result:
		return encode(v), nil
	default:
		return encode(&Envelope{Success: true, Data: v}), nil
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Schemas
// ─────────────────────────────────────────────────────────────────────────────

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func integerProp(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

func numberProp(description string) map[string]any {
	return map[string]any{"type": "number", "description": description}
}

func booleanProp(description string) map[string]any {
	return map[string]any{"type": "boolean", "description": description}
}

func enumProp(description string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": description, "enum": values}
}

// ─────────────────────────────────────────────────────────────────────────────
// Arguments
// ─────────────────────────────────────────────────────────────────────────────

// Args are the decoded JSON arguments of a tool call.
type Args map[string]any

// ParseArgs decodes a JSON object. Empty input is an empty object.
func ParseArgs(input string) (Args, error) {
	args := Args{}
	input = strings.TrimSpace(input)
	if input == "" || input == "null" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return nil, errors.Wrap(err, "arguments must be a JSON object")
	}
	return args, nil
}

// Has reports whether key is present and not null.
func (a Args) Has(key string) bool {
	v, ok := a[key]
	return ok && v != nil
}

// String returns the string form of a scalar argument.
func (a Args) String(key string) string {
	switch v := a[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Int returns an integer argument or def when absent or not numeric.
func (a Args) Int(key string, def int) int {
	switch v := a[key].(type) {
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// Float returns a numeric argument or def.
func (a Args) Float(key string, def float64) float64 {
	switch v := a[key].(type) {
	case float64:
		return v
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

// Bool returns a boolean argument or def.
func (a Args) Bool(key string, def bool) bool {
	switch v := a[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Params copies the listed keys into store query parameters, skipping absent ones.
func (a Args) Params(keys ...string) woocommerce.Params {
	params := woocommerce.Params{}
	for _, k := range keys {
		if a.Has(k) {
			params[k] = a[k]
		}
	}
	return params
}

// ID returns a positive integer id argument.
func (a Args) ID(key string) (int, error) {
	id := a.Int(key, 0)
	if id <= 0 {
		return 0, errors.Errorf("%s must be a positive integer", key)
	}
	return id, nil
}

func sortedNames(ts []Tool) []string {
	names := make([]string, 0, len(ts))
	for _, t := range ts {
		names = append(names, t.Name())
	}
	sort.Strings(names)
	return names
}

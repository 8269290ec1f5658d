// Package mcpregistry discovers tools exposed by MCP servers so they can join an agent's tool set.
package mcpregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"
)

// Registry is the configured set of MCP server endpoints (streamable HTTP).
type Registry struct {
	endpoints []string
	info      mcp.Implementation
}

// New returns a registry over endpoints. Empty entries are ignored.
func New(endpoints []string, version string) *Registry {
	var clean []string
	for _, e := range endpoints {
		if e = strings.TrimSpace(e); e != "" {
			clean = append(clean, e)
		}
	}
	return &Registry{
		endpoints: clean,
		info:      mcp.Implementation{Name: "shopmind", Version: version},
	}
}

// Endpoints returns the configured server URLs.
func (r *Registry) Endpoints() []string {
	return r.endpoints
}

// Session holds the connections opened for one agent invocation.
type Session struct {
	clients []*client.Client
	tools   []*Tool
}

// Tools returns every tool discovered in the session.
func (s *Session) Tools() []*Tool {
	return s.tools
}

// Close closes all server connections.
func (s *Session) Close() error {
	var errs []string
	for _, c := range s.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return errors.Errorf("failed to close MCP clients: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Discover connects to every endpoint and lists its tools. A server that cannot be
// reached is logged and skipped.
func (r *Registry) Discover(ctx context.Context) *Session {
	session := &Session{}
	for _, endpoint := range r.endpoints {
		c, tools, err := r.connect(ctx, endpoint)
		if err != nil {
			slog.Warn("[MCP] tool discovery failed", "endpoint", endpoint, "err", err)
			continue
		}
		session.clients = append(session.clients, c)
		session.tools = append(session.tools, tools...)
		slog.Info("[MCP] tools discovered", "endpoint", endpoint, "count", len(tools))
	}
	return session
}

func (r *Registry) connect(ctx context.Context, endpoint string) (*client.Client, []*Tool, error) {
	c, err := client.NewStreamableHttpClient(endpoint)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create client")
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, nil, errors.Wrap(err, "failed to start client")
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = r.info
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, nil, errors.Wrap(err, "failed to initialize session")
	}
	listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = c.Close()
		return nil, nil, errors.Wrap(err, "failed to list tools")
	}
	tools := make([]*Tool, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		tools = append(tools, &Tool{client: c, def: t})
	}
	return c, tools, nil
}

// Tool is one remote MCP tool.
type Tool struct {
	client *client.Client
	def    mcp.Tool
}

func (t *Tool) Name() string { return t.def.Name }

func (t *Tool) Description() string { return t.def.Description }

// Parameters is the tool's JSON schema.
func (t *Tool) Parameters() map[string]any {
	if len(t.def.RawInputSchema) > 0 {
		var schema map[string]any
		if err := json.Unmarshal(t.def.RawInputSchema, &schema); err == nil {
			return schema
		}
	}
	props := t.def.InputSchema.Properties
	if props == nil {
		props = map[string]any{}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(t.def.InputSchema.Required) > 0 {
		schema["required"] = t.def.InputSchema.Required
	}
	return schema
}

// Call invokes the remote tool with the JSON-encoded arguments.
func (t *Tool) Call(ctx context.Context, input string) (string, error) {
	args := map[string]any{}
	if strings.TrimSpace(input) != "" {
		if err := json.Unmarshal([]byte(input), &args); err != nil {
			return "", errors.Wrap(err, "arguments must be a JSON object")
		}
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = t.def.Name
	req.Params.Arguments = args

	res, err := t.client.CallTool(ctx, req)
	if err != nil {
		return "", errors.Wrapf(err, "MCP tool %s failed", t.def.Name)
	}
	text := contentText(res.Content)
	if res.IsError {
		return "", fmt.Errorf("MCP tool %s returned an error: %s", t.def.Name, text)
	}
	return text, nil
}

func contentText(contents []mcp.Content) string {
	parts := make([]string, 0, len(contents))
	for _, c := range contents {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if b, err := json.Marshal(v); err == nil {
				parts = append(parts, string(b))
			}
		}
	}
	return strings.Join(parts, "\n")
}

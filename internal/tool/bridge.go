package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/oklog/ulid/v2"

	"github.com/helmsman-dev/helmsman/internal/llm"
	"github.com/helmsman-dev/helmsman/pkg/cerr"
)

// BridgeName is the MCP server name the model CLI sees; tool names are
// prefixed mcp__<BridgeName>__ on the wire.
const BridgeName = "helmsman"

// Bridge exposes the registry to the model CLI as an MCP server over
// streamable HTTP on a loopback port. Discovery carries each tool's
// real input schema, and execution routes back through the invoker, so
// the permission gateway and the current item's compensation log apply
// to calls the CLI makes directly.
type Bridge struct {
	registry *Registry
	invoker  *Invoker
	server   *http.Server
	listener net.Listener
}

func NewBridge(registry *Registry, invoker *Invoker) *Bridge {
	return &Bridge{registry: registry, invoker: invoker}
}

// Start binds a loopback listener, serves the MCP endpoint on it and
// returns the URL to hand to the CLI.
func (b *Bridge) Start(ctx context.Context) (string, error) {
	srv := mcp.NewServer(&mcp.Implementation{Name: BridgeName, Version: "0.1.0"}, nil)
	for _, def := range b.registry.Defs() {
		schema, err := toSchema(def.InputSchema)
		if err != nil {
			return "", cerr.NewError(cerr.Internal,
				fmt.Sprintf("invalid input schema for tool %s", def.Name), err)
		}
		name := def.Name
		mcp.AddTool(srv, &mcp.Tool{
			Name:        name,
			Description: def.Description,
			InputSchema: schema,
		}, func(ctx context.Context, _ *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
			return b.call(ctx, name, args)
		})
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", cerr.NewError(cerr.Internal, "failed to bind tool bridge listener", err)
	}
	b.listener = ln
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
	b.server = &http.Server{
		Handler:     handler,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		// ErrServerClosed is the normal shutdown path.
		_ = b.server.Serve(ln)
	}()
	return fmt.Sprintf("http://%s", ln.Addr()), nil
}

func (b *Bridge) Close() error {
	if b.server == nil {
		return nil
	}
	return b.server.Close()
}

// call runs one MCP tools/call through the invoker. Permission denials
// and execution failures surface to the model as error results rather
// than protocol errors, so it can react in-conversation.
func (b *Bridge) call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, any, error) {
	result, err := b.invoker.InvokeBound(ctx, llm.ToolCall{
		ID:   ulid.Make().String(),
		Name: name,
		Args: args,
	})
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
			IsError: true,
		}, nil, nil
	}
	if result.Error != "" {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: result.Error}},
			IsError: true,
		}, nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: result.Output}},
	}, nil, nil
}

// toSchema converts a tool's free-form schema map into the typed form
// the SDK declares on the wire.
func toSchema(raw map[string]any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, err
	}
	return &schema, nil
}

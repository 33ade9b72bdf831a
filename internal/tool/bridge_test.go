package tool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-dev/helmsman/internal/eventbus"
	"github.com/helmsman-dev/helmsman/internal/permission"
	"github.com/helmsman-dev/helmsman/internal/saga"
)

type echoTool struct {
	kind    permission.OperationKind
	command string
	fail    bool
}

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "echoes its message" }

func (e *echoTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{"type": "string", "description": "text to echo"},
		},
		"required": []string{"message"},
	}
}

func (e *echoTool) Classify(map[string]any) (permission.OperationKind, string, string) {
	return e.kind, "", e.command
}

func (e *echoTool) Invoke(_ context.Context, args map[string]any) (*Result, error) {
	if e.fail {
		return &Result{Error: "echo broken"}, nil
	}
	msg, _ := args["message"].(string)
	return &Result{Output: msg}, nil
}

func newTestBridge(t *testing.T, et *echoTool) *Bridge {
	t.Helper()
	registry := NewRegistry()
	registry.Register(et)
	inv := NewInvoker(InvokerConfig{
		Registry:  registry,
		Gateway:   permission.NewGateway(permission.DefaultPolicy(), nil),
		Bus:       eventbus.New(),
		SessionID: "sess-1",
	})
	return NewBridge(registry, inv)
}

func TestBridgeServesLoopbackURL(t *testing.T) {
	b := newTestBridge(t, &echoTool{kind: permission.OpReadFile})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url, err := b.Start(ctx)
	require.NoError(t, err)
	defer b.Close()

	assert.True(t, strings.HasPrefix(url, "http://127.0.0.1:"), "bridge must stay on loopback, got %s", url)
}

func TestBridgeCallRoutesThroughInvoker(t *testing.T) {
	b := newTestBridge(t, &echoTool{kind: permission.OpReadFile})

	sg := saga.NewManager()
	b.invoker.Bind("item-1", sg)
	defer b.invoker.Unbind()

	res, _, err := b.call(context.Background(), "echo", map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	assert.Equal(t, "hi", res.Content[0].(*mcp.TextContent).Text)
}

func TestBridgeCallSurfacesToolError(t *testing.T) {
	b := newTestBridge(t, &echoTool{kind: permission.OpReadFile, fail: true})

	res, _, err := b.call(context.Background(), "echo", map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "echo broken", res.Content[0].(*mcp.TextContent).Text)
}

func TestBridgeCallDenialBecomesErrorResult(t *testing.T) {
	b := newTestBridge(t, &echoTool{kind: permission.OpBash, command: "sudo rm -rf /var"})

	res, _, err := b.call(context.Background(), "echo", map[string]any{"message": "hi"})
	require.NoError(t, err, "denials stay in-conversation, not protocol errors")
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].(*mcp.TextContent).Text, "denied")
}

func TestToolSchemaConversion(t *testing.T) {
	et := &echoTool{kind: permission.OpReadFile}
	schema, err := toSchema(et.InputSchema())
	require.NoError(t, err)

	data, err := json.Marshal(schema)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"object"`)
	assert.Contains(t, string(data), `"message"`)
	assert.Contains(t, string(data), `"required"`)
}

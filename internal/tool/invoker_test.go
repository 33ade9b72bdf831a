package tool_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-dev/helmsman/internal/eventbus"
	"github.com/helmsman-dev/helmsman/internal/llm"
	"github.com/helmsman-dev/helmsman/internal/permission"
	"github.com/helmsman-dev/helmsman/internal/saga"
	"github.com/helmsman-dev/helmsman/internal/tool"
	"github.com/helmsman-dev/helmsman/pkg/cerr"
)

type fakeTool struct {
	name    string
	kind    permission.OperationKind
	target  string
	command string
	invoked int
	result  *tool.Result
	err     error
	undo    saga.UndoAction
	block   bool
}

func (f *fakeTool) Name() string                { return f.name }
func (f *fakeTool) Description() string         { return "fake" }
func (f *fakeTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }

func (f *fakeTool) Classify(map[string]any) (permission.OperationKind, string, string) {
	return f.kind, f.target, f.command
}

func (f *fakeTool) PrepareUndo(map[string]any) (saga.UndoAction, error) {
	return f.undo, nil
}

func (f *fakeTool) Invoke(ctx context.Context, _ map[string]any) (*tool.Result, error) {
	f.invoked++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &tool.Result{Output: "ok"}, nil
}

type fakeConfirmer struct {
	granted     bool
	alwaysAllow bool
	calls       int
	lastPrompt  string
}

func (c *fakeConfirmer) Confirm(prompt string) (bool, bool, error) {
	c.calls++
	c.lastPrompt = prompt
	return c.granted, c.alwaysAllow, nil
}

type invokerEnv struct {
	root      string
	registry  *tool.Registry
	rules     *permission.RuleStore
	confirmer *fakeConfirmer
}

func newInvoker(t *testing.T, env *invokerEnv, timeout time.Duration) *tool.Invoker {
	t.Helper()
	if env.root == "" {
		root, err := filepath.EvalSymlinks(t.TempDir())
		require.NoError(t, err)
		env.root = root
	}
	if env.registry == nil {
		env.registry = tool.NewRegistry()
	}
	if env.rules == nil {
		rules, err := permission.NewRuleStore(filepath.Join(env.root, "permissions.yaml"), "proj-1")
		require.NoError(t, err)
		env.rules = rules
	}
	var confirmer permission.Confirmer
	if env.confirmer != nil {
		confirmer = env.confirmer
	}
	return tool.NewInvoker(tool.InvokerConfig{
		Registry:  env.registry,
		Gateway:   permission.NewGateway(permission.DefaultPolicy(), env.rules),
		Rules:     env.rules,
		Confirmer: confirmer,
		Bus:       eventbus.New(),
		SessionID: "sess-1",
		Boundary:  tool.Boundary{ProjectRoot: env.root, WorkingDir: env.root},
		Timeout:   timeout,
	})
}

func TestInvokeLowRiskAllows(t *testing.T) {
	env := &invokerEnv{registry: tool.NewRegistry()}
	inv := newInvoker(t, env, 0)

	ft := &fakeTool{name: "read_file", kind: permission.OpReadFile}
	ft.target = filepath.Join(env.root, "main.go")
	env.registry.Register(ft)

	result, err := inv.Invoke(context.Background(), llm.ToolCall{Name: "read_file"}, "item-1", saga.NewManager())
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Output)
	assert.Equal(t, 1, ft.invoked)
}

func TestInvokeCriticalDenied(t *testing.T) {
	env := &invokerEnv{registry: tool.NewRegistry()}
	inv := newInvoker(t, env, 0)

	ft := &fakeTool{name: "bash", kind: permission.OpBash, command: "sudo rm -rf /var"}
	env.registry.Register(ft)

	_, err := inv.Invoke(context.Background(), llm.ToolCall{Name: "bash"}, "item-1", saga.NewManager())
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))
	assert.Equal(t, 0, ft.invoked, "denied tool must never run")
}

func TestInvokeAskWithoutConfirmerFailsFast(t *testing.T) {
	env := &invokerEnv{registry: tool.NewRegistry()}
	inv := newInvoker(t, env, 0)

	ft := &fakeTool{name: "bash", kind: permission.OpBash, command: "mkdir out"}
	env.registry.Register(ft)

	_, err := inv.Invoke(context.Background(), llm.ToolCall{Name: "bash"}, "item-1", saga.NewManager())
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.ConfirmationRequired))
	assert.Equal(t, 0, ft.invoked)
}

func TestInvokeAskConfirmed(t *testing.T) {
	confirmer := &fakeConfirmer{granted: true}
	env := &invokerEnv{registry: tool.NewRegistry(), confirmer: confirmer}
	inv := newInvoker(t, env, 0)

	ft := &fakeTool{name: "bash", kind: permission.OpBash, command: "mkdir out"}
	env.registry.Register(ft)

	_, err := inv.Invoke(context.Background(), llm.ToolCall{Name: "bash"}, "item-1", saga.NewManager())
	require.NoError(t, err)
	assert.Equal(t, 1, confirmer.calls)
	assert.Contains(t, confirmer.lastPrompt, "mkdir out")
	assert.Equal(t, 1, ft.invoked)
}

func TestInvokeAskDeclined(t *testing.T) {
	confirmer := &fakeConfirmer{granted: false}
	env := &invokerEnv{registry: tool.NewRegistry(), confirmer: confirmer}
	inv := newInvoker(t, env, 0)

	ft := &fakeTool{name: "bash", kind: permission.OpBash, command: "mkdir out"}
	env.registry.Register(ft)

	_, err := inv.Invoke(context.Background(), llm.ToolCall{Name: "bash"}, "item-1", saga.NewManager())
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))
	assert.Equal(t, 0, ft.invoked)
}

func TestInvokeAlwaysAllowGrantsRule(t *testing.T) {
	confirmer := &fakeConfirmer{granted: true, alwaysAllow: true}
	env := &invokerEnv{registry: tool.NewRegistry(), confirmer: confirmer}
	inv := newInvoker(t, env, 0)

	ft := &fakeTool{name: "bash", kind: permission.OpBash, command: "mkdir out"}
	env.registry.Register(ft)

	_, err := inv.Invoke(context.Background(), llm.ToolCall{Name: "bash"}, "item-1", saga.NewManager())
	require.NoError(t, err)
	assert.Equal(t, 1, confirmer.calls)

	// The identical call is now covered by the granted rule.
	_, err = inv.Invoke(context.Background(), llm.ToolCall{Name: "bash"}, "item-1", saga.NewManager())
	require.NoError(t, err)
	assert.Equal(t, 1, confirmer.calls, "second call must not prompt again")
	assert.Equal(t, 2, ft.invoked)
}

// markerUndo lets a test observe which compensation actually fires.
type markerUndo struct{ fired *bool }

func (a markerUndo) Describe() string             { return "marker" }
func (a markerUndo) Undo(_ context.Context) error { *a.fired = true; return nil }

func TestInvokeRecordsUndoAfterSuccess(t *testing.T) {
	env := &invokerEnv{registry: tool.NewRegistry()}
	inv := newInvoker(t, env, 0)

	ft := &fakeTool{
		name: "read_file",
		kind: permission.OpReadFile,
		undo: saga.DeleteFile{Path: "/tmp/x"},
	}
	env.registry.Register(ft)

	sg := saga.NewManager()
	_, err := inv.Invoke(context.Background(), llm.ToolCall{Name: "read_file"}, "item-1", sg)
	require.NoError(t, err)
	assert.Equal(t, 1, sg.Len())
}

func TestInvokeFailedCallRecordsNoUndo(t *testing.T) {
	env := &invokerEnv{registry: tool.NewRegistry()}
	inv := newInvoker(t, env, 0)

	ft := &fakeTool{
		name: "read_file",
		kind: permission.OpReadFile,
		undo: saga.DeleteFile{Path: "/tmp/x"},
		err:  fmt.Errorf("disk on fire"),
	}
	env.registry.Register(ft)

	sg := saga.NewManager()
	_, err := inv.Invoke(context.Background(), llm.ToolCall{Name: "read_file"}, "item-1", sg)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.ToolExecutionFailure))
	assert.Equal(t, 0, sg.Len(), "a failed call has nothing to compensate")
}

func TestInvokeModelVisibleErrorRecordsNoUndo(t *testing.T) {
	env := &invokerEnv{registry: tool.NewRegistry()}
	inv := newInvoker(t, env, 0)

	ft := &fakeTool{
		name:   "read_file",
		kind:   permission.OpReadFile,
		undo:   saga.DeleteFile{Path: "/tmp/x"},
		result: &tool.Result{Error: "no such file"},
	}
	env.registry.Register(ft)

	sg := saga.NewManager()
	result, err := inv.Invoke(context.Background(), llm.ToolCall{Name: "read_file"}, "item-1", sg)
	require.NoError(t, err)
	assert.Equal(t, "no such file", result.Error)
	assert.Equal(t, 0, sg.Len())
}

func TestInvokeResultUndoReplacesPrepared(t *testing.T) {
	env := &invokerEnv{registry: tool.NewRegistry()}
	inv := newInvoker(t, env, 0)

	var preparedFired, resultFired bool
	ft := &fakeTool{
		name:   "read_file",
		kind:   permission.OpReadFile,
		undo:   markerUndo{&preparedFired},
		result: &tool.Result{Output: "ok", Undo: markerUndo{&resultFired}},
	}
	env.registry.Register(ft)

	sg := saga.NewManager()
	_, err := inv.Invoke(context.Background(), llm.ToolCall{Name: "read_file"}, "item-1", sg)
	require.NoError(t, err)
	require.Equal(t, 1, sg.Len())

	require.NoError(t, sg.Rollback(context.Background()))
	assert.True(t, resultFired, "the compensation the call produced must win")
	assert.False(t, preparedFired)
}

func TestInvokeBoundRoutesToBoundItem(t *testing.T) {
	env := &invokerEnv{registry: tool.NewRegistry()}
	inv := newInvoker(t, env, 0)

	ft := &fakeTool{
		name: "read_file",
		kind: permission.OpReadFile,
		undo: saga.DeleteFile{Path: "/tmp/x"},
	}
	env.registry.Register(ft)

	sg := saga.NewManager()
	inv.Bind("item-7", sg)
	_, err := inv.InvokeBound(context.Background(), llm.ToolCall{Name: "read_file"})
	require.NoError(t, err)
	assert.Equal(t, 1, sg.Len())

	inv.Unbind()
	_, err = inv.InvokeBound(context.Background(), llm.ToolCall{Name: "read_file"})
	require.NoError(t, err)
	assert.Equal(t, 1, sg.Len(), "an unbound call records no compensation")
}

func TestInvokeTimeoutIsRetryable(t *testing.T) {
	env := &invokerEnv{registry: tool.NewRegistry()}
	inv := newInvoker(t, env, 20*time.Millisecond)

	ft := &fakeTool{name: "read_file", kind: permission.OpReadFile, block: true}
	env.registry.Register(ft)

	_, err := inv.Invoke(context.Background(), llm.ToolCall{Name: "read_file"}, "item-1", saga.NewManager())
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.DeadlineExceeded))
	assert.True(t, cerr.CodeOf(err).Retryable())
}

func TestInvokeUnknownTool(t *testing.T) {
	env := &invokerEnv{registry: tool.NewRegistry()}
	inv := newInvoker(t, env, 0)

	_, err := inv.Invoke(context.Background(), llm.ToolCall{Name: "nope"}, "item-1", saga.NewManager())
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}

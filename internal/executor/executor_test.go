package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-dev/helmsman/internal/eventbus"
	"github.com/helmsman-dev/helmsman/internal/executor"
	"github.com/helmsman-dev/helmsman/internal/llm"
	"github.com/helmsman-dev/helmsman/internal/permission"
	"github.com/helmsman-dev/helmsman/internal/todo"
	todorepo "github.com/helmsman-dev/helmsman/internal/todo/repositoryimpl"
	"github.com/helmsman-dev/helmsman/internal/tool"
	"github.com/helmsman-dev/helmsman/pkg/storage"
)

type chatStep func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

// scriptedClient plays back canned model turns in order.
type scriptedClient struct {
	t     *testing.T
	steps []chatStep
	calls int
}

func (c *scriptedClient) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if c.calls >= len(c.steps) {
		c.t.Fatalf("unexpected model call %d: %q", c.calls+1, req.Messages[0].Content)
	}
	step := c.steps[c.calls]
	c.calls++
	return step(ctx, req)
}

func text(content string) chatStep {
	return func(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Content: content, Usage: &llm.Usage{InputTokens: 10, OutputTokens: 5}}, nil
	}
}

// blockUntilDeadline simulates a model call that never answers within
// its per-call timeout.
func blockUntilDeadline(ctx context.Context, _ *llm.ChatRequest) (*llm.ChatResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func toolCall(name string) chatStep {
	return func(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: name, Args: map[string]any{}}}}, nil
	}
}

func newExecutor(t *testing.T, client llm.Client, cfg executor.Config) (*executor.Executor, *todo.Store) {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	store := todo.NewStore(todorepo.NewYAMLRepository(s), "sess-1")
	registry := tool.NewRegistry()
	root := t.TempDir()
	invoker := tool.NewInvoker(tool.InvokerConfig{
		Registry:  registry,
		Gateway:   permission.NewGateway(permission.DefaultPolicy(), nil),
		Bus:       eventbus.New(),
		SessionID: "sess-1",
		Boundary:  tool.Boundary{ProjectRoot: root, WorkingDir: root},
		Timeout:   time.Minute,
	})
	return executor.New(client, invoker, registry, store, eventbus.New(), "sess-1", cfg), store
}

func TestModelCallTimeoutRetried(t *testing.T) {
	ctx := context.Background()
	client := &scriptedClient{t: t, steps: []chatStep{
		blockUntilDeadline,
		text("Done."),
	}}
	exec, store := newExecutor(t, client, executor.Config{
		RoundBudget:     2,
		RedAttemptLimit: 2,
		ToolRetryLimit:  1,
		LLMTimeout:      30 * time.Millisecond,
	})

	item, err := store.Add(ctx, "answer a question", "", nil, nil, 0, false)
	require.NoError(t, err)
	require.NoError(t, store.SetScenario(ctx, item, todo.ScenarioFastPath))

	outcome, err := exec.Execute(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, todo.StateCompleted, outcome.State)
	assert.Equal(t, 2, client.calls, "the timed-out call must be retried")
}

func TestModelCallRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	client := &scriptedClient{t: t, steps: []chatStep{
		blockUntilDeadline,
		blockUntilDeadline,
	}}
	exec, store := newExecutor(t, client, executor.Config{
		RoundBudget:     2,
		RedAttemptLimit: 2,
		ToolRetryLimit:  1,
		LLMTimeout:      30 * time.Millisecond,
	})

	item, err := store.Add(ctx, "answer a question", "", nil, nil, 0, false)
	require.NoError(t, err)
	require.NoError(t, store.SetScenario(ctx, item, todo.ScenarioFastPath))

	outcome, err := exec.Execute(ctx, item)
	require.NoError(t, err, "an exhausted item fails without stopping the run")
	assert.Equal(t, todo.StateFailed, outcome.State)
	assert.Contains(t, outcome.Reason, "deadline")
	assert.Equal(t, 2, client.calls)
}

func TestModelCallCancellationNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &scriptedClient{t: t, steps: []chatStep{
		func(ctx context.Context, _ *llm.ChatRequest) (*llm.ChatResponse, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}
	exec, store := newExecutor(t, client, executor.Config{
		RoundBudget:     2,
		RedAttemptLimit: 2,
		ToolRetryLimit:  3,
		LLMTimeout:      time.Minute,
	})

	item, err := store.Add(ctx, "answer a question", "", nil, nil, 0, false)
	require.NoError(t, err)
	require.NoError(t, store.SetScenario(ctx, item, todo.ScenarioFastPath))

	outcome, err := exec.Execute(ctx, item)
	require.Error(t, err)
	assert.Equal(t, todo.StateFailed, outcome.State)
	assert.Equal(t, 1, client.calls, "the caller's cancellation must not burn retries")
}

func TestRedBudgetExhaustionDegradesToNormal(t *testing.T) {
	ctx := context.Background()
	client := &scriptedClient{t: t, steps: []chatStep{
		// Both red attempts spin on an unknown tool until the round
		// budget runs out.
		toolCall("nonexistent"),
		toolCall("nonexistent"),
		text("Made the change directly."),
		text("Checked the result.\nVERIFY: passing"),
		text("Recorded what changed."),
	}}
	exec, store := newExecutor(t, client, executor.Config{
		RoundBudget:     1,
		RedAttemptLimit: 2,
		ToolRetryLimit:  1,
		LLMTimeout:      time.Minute,
	})

	item, err := store.Add(ctx, "add retry to the fetcher", "", nil, nil, 0, true)
	require.NoError(t, err)
	require.NoError(t, store.SetScenario(ctx, item, todo.ScenarioCoding))

	outcome, err := exec.Execute(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, todo.StateCompleted, outcome.State)
	assert.Equal(t, todo.ScenarioNormal, item.Scenario, "a stalled test-first cycle degrades instead of aborting")
	assert.Equal(t, 5, client.calls)
}

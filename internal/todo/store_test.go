package todo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-dev/helmsman/internal/todo"
	"github.com/helmsman-dev/helmsman/internal/todo/repositoryimpl"
	"github.com/helmsman-dev/helmsman/pkg/cerr"
	"github.com/helmsman-dev/helmsman/pkg/storage"
)

func newStore(t *testing.T) *todo.Store {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return todo.NewStore(repositoryimpl.NewYAMLRepository(s), "sess-1")
}

func TestTransitionsNeverSkipInProgress(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	item, err := store.Add(ctx, "do the thing", "", nil, nil, 0, false)
	require.NoError(t, err)

	// Pending → Completed must be rejected.
	err = store.Transition(ctx, item, todo.StateCompleted, "")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
	assert.Equal(t, todo.StatePending, item.State)

	// Pending → Verifying is equally illegal.
	err = store.Transition(ctx, item, todo.StateVerifying, "")
	require.Error(t, err)

	// The legal path works end to end.
	require.NoError(t, store.Transition(ctx, item, todo.StateInProgress, ""))
	require.NoError(t, store.Transition(ctx, item, todo.StateVerifying, ""))
	require.NoError(t, store.Transition(ctx, item, todo.StateCompleted, ""))

	// Completed is terminal.
	err = store.Transition(ctx, item, todo.StateInProgress, "")
	require.Error(t, err)
}

func TestFailureReasonRecorded(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	item, err := store.Add(ctx, "doomed", "", nil, nil, 0, false)
	require.NoError(t, err)
	require.NoError(t, store.Transition(ctx, item, todo.StateInProgress, ""))
	require.NoError(t, store.Transition(ctx, item, todo.StateFailed, "verification did not pass"))

	items, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, todo.StateFailed, items[0].State)
	assert.Equal(t, "verification did not pass", items[0].FailureReason)
}

func TestNextPendingHonorsOrderAndDependencies(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	first, err := store.Add(ctx, "first", "", nil, nil, 0, false)
	require.NoError(t, err)
	second, err := store.Add(ctx, "second", "", nil, []string{first.ID}, 1, false)
	require.NoError(t, err)

	next, err := store.NextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, first.ID, next.ID)

	// While first is unfinished, second is not runnable.
	require.NoError(t, store.Transition(ctx, first, todo.StateInProgress, ""))
	next, err = store.NextPending(ctx)
	require.NoError(t, err)
	require.Nil(t, next)

	require.NoError(t, store.Transition(ctx, first, todo.StateVerifying, ""))
	require.NoError(t, store.Transition(ctx, first, todo.StateCompleted, ""))
	next, err = store.NextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, second.ID, next.ID)
}

func TestSkippedIsTerminal(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	item, err := store.Add(ctx, "skipped", "", nil, nil, 0, false)
	require.NoError(t, err)
	require.NoError(t, store.Transition(ctx, item, todo.StateSkipped, ""))

	err = store.Transition(ctx, item, todo.StateInProgress, "")
	require.Error(t, err)
	assert.True(t, item.State.Terminal())
}

package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/helmsman-dev/helmsman/pkg/cerr"
)

// Manager owns the saga plan for one in-flight work item. It is created
// by the executor when an item starts, discarded on success, and rolled
// back then discarded on failure. It is not shared across items.
type Manager struct {
	mu      sync.Mutex
	actions []UndoAction
}

func NewManager() *Manager {
	return &Manager{}
}

// Record appends a compensating action in forward-execution order.
func (m *Manager) Record(action UndoAction) {
	m.mu.Lock()
	m.actions = append(m.actions, action)
	m.mu.Unlock()
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.actions)
}

// Discard drops the plan after a successful item.
func (m *Manager) Discard() {
	m.mu.Lock()
	m.actions = nil
	m.mu.Unlock()
}

// Rollback undoes recorded actions in strict reverse order. It is
// best-effort: a failing step does not stop later steps, because a
// partial rollback is strictly preferable to none. All step failures
// are aggregated into the returned error. The plan is consumed either
// way.
func (m *Manager) Rollback(ctx context.Context) error {
	m.mu.Lock()
	actions := m.actions
	m.actions = nil
	m.mu.Unlock()

	var failures []error
	for i := len(actions) - 1; i >= 0; i-- {
		action := actions[i]
		if err := action.Undo(ctx); err != nil {
			slog.Warn("rollback step failed", "action", action.Describe(), "error", err)
			failures = append(failures, fmt.Errorf("%s: %w", action.Describe(), err))
			continue
		}
		slog.Debug("rollback step complete", "action", action.Describe())
	}

	if len(failures) > 0 {
		return cerr.NewError(cerr.RollbackFailure,
			fmt.Sprintf("%d of %d rollback steps failed", len(failures), len(actions)),
			errors.Join(failures...))
	}
	return nil
}

package todo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/helmsman-dev/helmsman/pkg/cerr"
)

// Store is the durable work-item list for one session. It is exclusively
// owned by the in-flight orchestrator; every state change goes through
// Transition so the monotonic state machine cannot be bypassed. Each
// repository call is atomic; the store never assumes multi-item
// transactions.
type Store struct {
	repo      Repository
	sessionID string
}

func NewStore(repo Repository, sessionID string) *Store {
	return &Store{repo: repo, sessionID: sessionID}
}

// Add creates a pending item at the end of the current order. dependsOn
// lists IDs of previously added items that must complete first.
func (s *Store) Add(ctx context.Context, title, description string, affectedPaths, dependsOn []string, orderIndex int, blocking bool) (*Item, error) {
	now := time.Now()
	item := &Item{
		ID:            ulid.Make().String(),
		SessionID:     s.sessionID,
		Title:         title,
		Description:   description,
		AffectedPaths: affectedPaths,
		DependsOn:     dependsOn,
		State:         StatePending,
		OrderIndex:    orderIndex,
		Blocking:      blocking,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// List returns the session's items in execution order.
func (s *Store) List(ctx context.Context) ([]*Item, error) {
	items, err := s.repo.List(ctx, s.sessionID)
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].OrderIndex < items[j].OrderIndex
	})
	return items, nil
}

// NextPending returns the first pending item whose dependencies are all
// completed, or nil when none remain runnable.
func (s *Store) NextPending(ctx context.Context) (*Item, error) {
	items, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	states := make(map[string]State, len(items))
	for _, item := range items {
		states[item.ID] = item.State
	}
	for _, item := range items {
		if item.State != StatePending {
			continue
		}
		if dependenciesMet(item, states) {
			return item, nil
		}
	}
	return nil, nil
}

func dependenciesMet(item *Item, states map[string]State) bool {
	for _, dep := range item.DependsOn {
		if states[dep] != StateCompleted {
			return false
		}
	}
	return true
}

// Transition moves an item to a new state, enforcing the state machine.
// The failure reason is recorded only on StateFailed.
func (s *Store) Transition(ctx context.Context, item *Item, to State, failureReason string) error {
	if !CanTransition(item.State, to) {
		return cerr.NewError(cerr.FailedPrecondition,
			fmt.Sprintf("illegal item transition %s → %s", item.State, to), nil)
	}
	item.State = to
	item.UpdatedAt = time.Now()
	if to == StateFailed {
		item.FailureReason = failureReason
	}
	return s.repo.Update(ctx, item)
}

// SetScenario records the classified scenario on a pending item.
func (s *Store) SetScenario(ctx context.Context, item *Item, scenario Scenario) error {
	item.Scenario = scenario
	item.UpdatedAt = time.Now()
	return s.repo.Update(ctx, item)
}

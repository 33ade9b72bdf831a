// Package event defines the observable records emitted during a run.
// External observers (CLI rendering, the HTTP stream) consume these
// instead of re-deriving state from model text.
package event

import (
	"time"

	"github.com/oklog/ulid/v2"
)

type Kind string

const (
	KindStageTransition Kind = "stage.transition"
	KindStageSkipped    Kind = "stage.skipped"
	KindItemState       Kind = "item.state"
	KindRoundStarted    Kind = "round.started"
	KindToolStarted     Kind = "tool.started"
	KindToolFinished    Kind = "tool.finished"
	KindPermission      Kind = "permission.verdict"
	KindRollback        Kind = "saga.rollback"
	KindRunFinished     Kind = "run.finished"
)

// TokenUsage is best-effort telemetry reported by the model client.
// Zero values mean the client did not report usage.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Event is one record in a session's totally ordered stream.
type Event struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Kind      Kind              `json:"kind"`
	Stage     string            `json:"stage,omitempty"`
	ItemID    string            `json:"item_id,omitempty"`
	Detail    string            `json:"detail"`
	Index     int               `json:"index,omitempty"`
	Total     int               `json:"total,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Usage     *TokenUsage       `json:"token_usage,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func New(sessionID string, kind Kind) *Event {
	return &Event{
		ID:        ulid.Make().String(),
		SessionID: sessionID,
		Kind:      kind,
		Timestamp: time.Now(),
	}
}

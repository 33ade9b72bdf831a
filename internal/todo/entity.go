package todo

import "time"

// Scenario is the execution policy class assigned to an item.
type Scenario string

const (
	ScenarioCoding   Scenario = "CODING"
	ScenarioNormal   Scenario = "NORMAL"
	ScenarioFastPath Scenario = "FAST_PATH"
)

type State string

const (
	StatePending    State = "PENDING"
	StateInProgress State = "IN_PROGRESS"
	StateVerifying  State = "VERIFYING"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
	StateSkipped    State = "SKIPPED"
)

// Item is one atomic, independently verifiable unit of the decomposed
// task. Exactly one item mutates state at a time, owned by the executor
// for the duration of its execution.
type Item struct {
	ID            string    `yaml:"id"`
	SessionID     string    `yaml:"session_id"`
	Title         string    `yaml:"title"`
	Description   string    `yaml:"description"`
	AffectedPaths []string  `yaml:"affected_paths,omitempty"`
	Scenario      Scenario  `yaml:"scenario"`
	State         State     `yaml:"state"`
	OrderIndex    int       `yaml:"order_index"`
	DependsOn     []string  `yaml:"depends_on,omitempty"`
	Blocking      bool      `yaml:"blocking,omitempty"`
	FailureReason string    `yaml:"failure_reason,omitempty"`
	CreatedAt     time.Time `yaml:"created_at"`
	UpdatedAt     time.Time `yaml:"updated_at"`
}

// validTransitions encodes the monotonic state machine. Every path out
// of Pending passes through InProgress; terminal states have no exits.
var validTransitions = map[State][]State{
	StatePending:    {StateInProgress, StateSkipped},
	StateInProgress: {StateVerifying, StateCompleted, StateFailed},
	StateVerifying:  {StateCompleted, StateFailed},
	StateCompleted:  {},
	StateFailed:     {},
	StateSkipped:    {},
}

// CanTransition reports whether from → to is a legal move. Completing an
// item without entering InProgress is illegal, with the one exception of
// skipping a still-pending item.
func CanTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state has no outgoing transitions.
func (s State) Terminal() bool {
	return len(validTransitions[s]) == 0
}

package workflow

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/helmsman-dev/helmsman/internal/event"
	"github.com/helmsman-dev/helmsman/internal/todo"
)

// ItemReport is the terminal record of one work item.
type ItemReport struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Scenario todo.Scenario `json:"scenario"`
	State    todo.State    `json:"state"`
	Reason   string        `json:"reason,omitempty"`
}

// Report is the externally visible result of a run. It is produced
// exactly once per invocation, including runs that failed or were
// cancelled partway.
type Report struct {
	SessionID       string           `json:"session_id"`
	Items           []ItemReport     `json:"items"`
	Completed       int              `json:"completed"`
	Failed          int              `json:"failed"`
	Skipped         int              `json:"skipped"`
	VerifyPassed    bool             `json:"verify_passed"`
	RepairAttempted bool             `json:"repair_attempted"`
	Cancelled       bool             `json:"cancelled"`
	// InterruptedItem names the item in flight when a cancellation
	// arrived; items after it were never attempted.
	InterruptedItem string           `json:"interrupted_item,omitempty"`
	Error           string           `json:"error,omitempty"`
	Usage           event.TokenUsage `json:"token_usage"`
	Duration        time.Duration    `json:"duration"`
}

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	okColor     = color.New(color.FgGreen)
	failColor   = color.New(color.FgRed)
	skipColor   = color.New(color.FgYellow)
	dimColor    = color.New(color.Faint)
)

// Render writes a human-readable summary. Machine consumers use the
// Report struct or the event stream instead.
func (r *Report) Render(w io.Writer) {
	headerColor.Fprintf(w, "Run report (session %s)\n", r.SessionID)
	for _, item := range r.Items {
		switch item.State {
		case todo.StateCompleted:
			okColor.Fprintf(w, "  ✔ %s", item.Title)
		case todo.StateFailed:
			failColor.Fprintf(w, "  ✘ %s", item.Title)
		case todo.StateSkipped:
			skipColor.Fprintf(w, "  - %s", item.Title)
		default:
			dimColor.Fprintf(w, "  · %s", item.Title)
		}
		dimColor.Fprintf(w, " [%s]", item.Scenario)
		if item.Reason != "" {
			failColor.Fprintf(w, " (%s)", item.Reason)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "  %d/%d completed", r.Completed, len(r.Items))
	if r.Failed > 0 {
		failColor.Fprintf(w, ", %d failed", r.Failed)
	}
	if r.Skipped > 0 {
		skipColor.Fprintf(w, ", %d skipped", r.Skipped)
	}
	fmt.Fprintln(w)

	if r.Cancelled {
		failColor.Fprintf(w, "  cancelled while executing %s; no further items were attempted\n", r.InterruptedItem)
	}
	if len(r.Items) > 0 && !r.Cancelled {
		if r.VerifyPassed {
			okColor.Fprintln(w, "  verification passed")
		} else {
			failColor.Fprintln(w, "  verification failed")
		}
		if r.RepairAttempted {
			dimColor.Fprintln(w, "  (one repair pass was attempted)")
		}
	}
	if r.Error != "" {
		failColor.Fprintf(w, "  error: %s\n", r.Error)
	}
	if r.Usage.InputTokens > 0 || r.Usage.OutputTokens > 0 {
		dimColor.Fprintf(w, "  tokens: %d in / %d out\n", r.Usage.InputTokens, r.Usage.OutputTokens)
	}
	dimColor.Fprintf(w, "  duration: %s\n", r.Duration.Round(time.Millisecond))
}

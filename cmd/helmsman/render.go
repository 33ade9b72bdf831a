package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/helmsman-dev/helmsman/internal/event"
)

var (
	stageColor = color.New(color.FgCyan, color.Bold)
	toolColor  = color.New(color.Faint)
	warnColor  = color.New(color.FgYellow)
	errColor   = color.New(color.FgRed)
)

// renderEvents prints the session event stream as terminal progress
// lines. It runs until the channel closes or the context ends; the final
// report is rendered separately.
func renderEvents(w io.Writer, ch <-chan *event.Event) {
	for ev := range ch {
		switch ev.Kind {
		case event.KindStageTransition:
			stageColor.Fprintf(w, "→ [%d/%d] %s", ev.Index, ev.Total, ev.Stage)
			if ev.Detail != "" {
				toolColor.Fprintf(w, " (%s)", ev.Detail)
			}
			fmt.Fprintln(w)
		case event.KindStageSkipped:
			toolColor.Fprintf(w, "  [%d/%d] %s skipped: %s\n", ev.Index, ev.Total, ev.Stage, ev.Detail)
		case event.KindItemState:
			state := ev.Metadata["state"]
			line := fmt.Sprintf("  item %s: %s", ev.Detail, state)
			if reason := ev.Metadata["reason"]; reason != "" {
				line += " (" + reason + ")"
			}
			if state == "FAILED" {
				errColor.Fprintln(w, line)
			} else {
				fmt.Fprintln(w, line)
			}
		case event.KindRoundStarted:
			toolColor.Fprintf(w, "    %s\n", ev.Detail)
		case event.KindToolStarted:
			toolColor.Fprintf(w, "    ⚙ %s\n", ev.Detail)
		case event.KindToolFinished:
			if ev.Metadata["status"] != "ok" {
				warnColor.Fprintf(w, "    ⚙ %s: %s\n", ev.Detail, ev.Metadata["status"])
			}
		case event.KindPermission:
			if ev.Metadata["decision"] != "allow" {
				warnColor.Fprintf(w, "    ⛨ %s\n", ev.Detail)
			}
		case event.KindRollback:
			warnColor.Fprintf(w, "  ↩ %s\n", ev.Detail)
		}
	}
}

// Package workflow contains the top-level state machine that turns one
// user input into a completed run: load context, optionally compress it,
// analyze, plan work items, execute them, verify globally and report.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/helmsman-dev/helmsman/internal/config"
	"github.com/helmsman-dev/helmsman/internal/event"
	"github.com/helmsman-dev/helmsman/internal/eventbus"
	"github.com/helmsman-dev/helmsman/internal/executor"
	"github.com/helmsman-dev/helmsman/internal/llm"
	"github.com/helmsman-dev/helmsman/internal/session"
	"github.com/helmsman-dev/helmsman/internal/todo"
	"github.com/helmsman-dev/helmsman/pkg/cerr"
	"github.com/helmsman-dev/helmsman/pkg/clog"
)

// Orchestrator owns one session's run. It is single-writer: no other
// component mutates the todo store or session history while a run is in
// flight.
type Orchestrator struct {
	client   llm.Client
	exec     *executor.Executor
	store    *todo.Store
	sessions *session.Registry
	sess     *session.Session
	bus      *eventbus.Bus
	env      *config.RunEnv
}

func NewOrchestrator(client llm.Client, exec *executor.Executor, store *todo.Store, sessions *session.Registry, sess *session.Session, bus *eventbus.Bus, env *config.RunEnv) *Orchestrator {
	return &Orchestrator{
		client:   client,
		exec:     exec,
		store:    store,
		sessions: sessions,
		sess:     sess,
		bus:      bus,
		env:      env,
	}
}

// Run drives the stage sequence for one user input. The returned Report
// is always populated, including for runs that aborted in an early
// stage; the error carries the abort cause when there is one.
func (o *Orchestrator) Run(ctx context.Context, userInput string) (*Report, error) {
	start := time.Now()
	ctx = clog.ContextWithAttrs(ctx)
	clog.AddAttribute(ctx, "session_id", o.sess.ID)

	report := &Report{SessionID: o.sess.ID}
	runErr := o.runStages(ctx, userInput, report)

	// Reporting always runs exactly once, regardless of how the earlier
	// stages ended.
	o.enterStage(ctx, StageReporting, "")
	if runErr != nil && !report.Cancelled {
		report.Error = runErr.Error()
	}
	o.collectItems(ctx, report)
	report.Duration = time.Since(start)

	ev := event.New(o.sess.ID, event.KindRunFinished)
	ev.Stage = StageReporting.String()
	ev.Detail = fmt.Sprintf("%d/%d items completed", report.Completed, len(report.Items))
	ev.Usage = &report.Usage
	o.bus.Publish(ev)

	return report, runErr
}

func (o *Orchestrator) runStages(ctx context.Context, userInput string, report *Report) error {
	o.enterStage(ctx, StageLoadContext, "")
	history := o.loadHistory()

	if over, estimate := o.contextOverBudget(history, userInput); over {
		o.enterStage(ctx, StageCompress, fmt.Sprintf("estimated %d tokens", estimate))
		compressed, err := o.chat(ctx, report, compressSystem, history)
		if err != nil {
			return cerr.NewError(cerr.CodeOf(err), "context compression failed", err)
		}
		history = compressed
	} else {
		ev := event.New(o.sess.ID, event.KindStageSkipped)
		ev.Stage = StageCompress.String()
		ev.Index = StageCompress.Index()
		ev.Total = StageCompress.Total()
		ev.Detail = fmt.Sprintf("estimated %d tokens, under threshold", estimateTokens(history)+estimateTokens(userInput))
		o.bus.Publish(ev)
	}

	o.enterStage(ctx, StageAnalysis, "")
	analysis, err := o.chat(ctx, report, analysisSystem, analysisPrompt(history, userInput))
	if err != nil {
		return cerr.NewError(cerr.CodeOf(err), "analysis failed", err)
	}

	o.enterStage(ctx, StagePlanning, "")
	items, err := o.plan(ctx, report, userInput, analysis)
	if err != nil {
		return err
	}

	o.enterStage(ctx, StageExecuting, fmt.Sprintf("%d items", len(items)))
	if err := o.executeAll(ctx, report); err != nil {
		return err
	}

	o.enterStage(ctx, StageVerifying, "")
	if err := o.verify(ctx, report); err != nil {
		return err
	}

	o.enterStage(ctx, StageCompleting, "")
	if err := o.sessions.AppendHistory(ctx, o.sess, "user", userInput); err != nil {
		cerr.Log(ctx, err)
	}
	if err := o.sessions.AppendHistory(ctx, o.sess, "assistant", analysis); err != nil {
		cerr.Log(ctx, err)
	}
	return nil
}

// enterStage emits the transition event before any blocking work in the
// stage begins, then persists the stage best-effort.
func (o *Orchestrator) enterStage(ctx context.Context, stage Stage, detail string) {
	ev := event.New(o.sess.ID, event.KindStageTransition)
	ev.Stage = stage.String()
	ev.Index = stage.Index()
	ev.Total = stage.Total()
	ev.Detail = detail
	o.bus.Publish(ev)

	if err := o.sessions.Touch(ctx, o.sess, stage.String()); err != nil {
		cerr.Log(ctx, err)
	}
}

func (o *Orchestrator) loadHistory() string {
	var sb strings.Builder
	for _, entry := range o.sess.History {
		fmt.Fprintf(&sb, "%s: %s\n", entry.Role, entry.Content)
	}
	return sb.String()
}

// contextOverBudget estimates token usage at four characters per token,
// which is deliberately rough: compression is an optimization, not a
// correctness requirement.
func (o *Orchestrator) contextOverBudget(history, userInput string) (bool, int) {
	estimate := estimateTokens(history) + estimateTokens(userInput)
	budget := int(float64(o.env.ModelContextWindow) * o.env.CompressThreshold)
	return estimate > budget, estimate
}

func estimateTokens(s string) int { return len(s) / 4 }

// plannedItem is the shape the planning prompt asks the model for.
// DependsOn holds zero-based indices of earlier items in the same plan.
type plannedItem struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	AffectedPaths []string `json:"affected_paths"`
	DependsOn     []int    `json:"depends_on"`
	Blocking      bool     `json:"blocking"`
}

// plan decomposes the input into work items. An empty or unparseable
// planning answer is replaced by a single default item covering the
// whole input, so the item list is never empty.
func (o *Orchestrator) plan(ctx context.Context, report *Report, userInput, analysis string) ([]*todo.Item, error) {
	answer, err := o.chat(ctx, report, planningSystem, planningPrompt(userInput, analysis))
	if err != nil {
		return nil, cerr.NewError(cerr.PlanningFailure, "planning call failed", err)
	}

	planned := parsePlan(answer)
	if len(planned) == 0 {
		slog.WarnContext(ctx, "planning yielded no items, falling back to a single item")
		planned = []plannedItem{{
			Title:       userInput,
			Description: "Complete the user's request as a single unit of work.",
			Blocking:    true,
		}}
	}

	items := make([]*todo.Item, 0, len(planned))
	for i, p := range planned {
		// Only references to earlier items are honored; forward and
		// out-of-range indices would make the plan unrunnable.
		var deps []string
		for _, idx := range p.DependsOn {
			if idx >= 0 && idx < i {
				deps = append(deps, items[idx].ID)
			}
		}
		item, err := o.store.Add(ctx, p.Title, p.Description, p.AffectedPaths, deps, i, p.Blocking)
		if err != nil {
			return nil, cerr.NewError(cerr.PlanningFailure, "failed to persist planned item", err)
		}
		if err := o.store.SetScenario(ctx, item, executor.Classify(item)); err != nil {
			return nil, cerr.NewError(cerr.PlanningFailure, "failed to classify planned item", err)
		}
		items = append(items, item)
	}
	return items, nil
}

// parsePlan extracts a JSON item array from the model answer, tolerating
// surrounding prose and code fences.
func parsePlan(answer string) []plannedItem {
	s := answer
	if start := strings.Index(s, "["); start >= 0 {
		if end := strings.LastIndex(s, "]"); end > start {
			s = s[start : end+1]
		}
	}
	var planned []plannedItem
	if err := json.Unmarshal([]byte(s), &planned); err != nil {
		return nil
	}
	out := planned[:0]
	for _, p := range planned {
		if strings.TrimSpace(p.Title) != "" {
			out = append(out, p)
		}
	}
	return out
}

// executeAll drains the pending items in order. A cancellation stops the
// loop immediately; a failed blocking item skips everything still
// pending. Items whose dependencies can no longer complete are skipped
// rather than left pending forever.
func (o *Orchestrator) executeAll(ctx context.Context, report *Report) error {
	for {
		item, err := o.store.NextPending(ctx)
		if err != nil {
			return err
		}
		if item == nil {
			skipped, err := o.skipStranded(ctx)
			if err != nil {
				return err
			}
			if skipped == 0 {
				return nil
			}
			continue
		}

		outcome, err := o.exec.Execute(ctx, item)
		if outcome != nil {
			report.Usage.InputTokens += outcome.Usage.InputTokens
			report.Usage.OutputTokens += outcome.Usage.OutputTokens
		}
		if err != nil {
			if cerr.IsCode(err, cerr.Canceled) {
				report.Cancelled = true
				report.InterruptedItem = item.Title
			}
			return err
		}

		if outcome.State == todo.StateFailed && item.Blocking && o.env.BlockingItems {
			slog.WarnContext(ctx, "blocking item failed, skipping remaining items",
				slog.String("item_id", item.ID))
			if err := o.skipRemaining(ctx); err != nil {
				return err
			}
			return nil
		}
	}
}

// skipStranded marks pending items whose dependencies ended in Failed or
// Skipped as Skipped themselves. It runs only when no item is runnable;
// if nothing matched, whatever is still pending can never run (a
// dependency cycle or a dangling reference) and is skipped outright.
func (o *Orchestrator) skipStranded(ctx context.Context) (int, error) {
	items, err := o.store.List(ctx)
	if err != nil {
		return 0, err
	}
	states := make(map[string]todo.State, len(items))
	for _, item := range items {
		states[item.ID] = item.State
	}

	var pending []*todo.Item
	skipped := 0
	for _, item := range items {
		if item.State != todo.StatePending {
			continue
		}
		pending = append(pending, item)
		if !dependencyUnreachable(item, states) {
			continue
		}
		if err := o.store.Transition(ctx, item, todo.StateSkipped, ""); err != nil {
			return skipped, err
		}
		skipped++
	}
	if skipped > 0 || len(pending) == 0 {
		return skipped, nil
	}

	for _, item := range pending {
		slog.WarnContext(ctx, "skipping item with unrunnable dependencies",
			slog.String("item_id", item.ID))
		if err := o.store.Transition(ctx, item, todo.StateSkipped, ""); err != nil {
			return skipped, err
		}
		skipped++
	}
	return skipped, nil
}

func dependencyUnreachable(item *todo.Item, states map[string]todo.State) bool {
	for _, dep := range item.DependsOn {
		if states[dep] == todo.StateFailed || states[dep] == todo.StateSkipped {
			return true
		}
	}
	return false
}

func (o *Orchestrator) skipRemaining(ctx context.Context) error {
	items, err := o.store.List(ctx)
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.State != todo.StatePending {
			continue
		}
		if err := o.store.Transition(ctx, item, todo.StateSkipped, ""); err != nil {
			return err
		}
	}
	return nil
}

// verify runs the global verification pass. One failed verification
// triggers a single targeted repair: a new coding item built from the
// failure report, another Executing pass over it, then one re-check.
func (o *Orchestrator) verify(ctx context.Context, report *Report) error {
	items, err := o.store.List(ctx)
	if err != nil {
		return err
	}
	if !needsGlobalVerify(items) {
		ev := event.New(o.sess.ID, event.KindStageSkipped)
		ev.Stage = StageVerifying.String()
		ev.Index = StageVerifying.Index()
		ev.Total = StageVerifying.Total()
		ev.Detail = "no items require global verification"
		o.bus.Publish(ev)
		report.VerifyPassed = true
		return nil
	}

	passed, detail, usage, err := o.exec.GlobalVerify(ctx, "")
	report.Usage.InputTokens += usage.InputTokens
	report.Usage.OutputTokens += usage.OutputTokens
	if err != nil {
		return err
	}
	if passed {
		report.VerifyPassed = true
		return nil
	}

	report.RepairAttempted = true
	repair, err := o.store.Add(ctx, "repair verification failures", detail, nil, nil, len(items), true)
	if err != nil {
		return err
	}
	if err := o.store.SetScenario(ctx, repair, todo.ScenarioCoding); err != nil {
		return err
	}
	o.enterStage(ctx, StageExecuting, "targeted repair")
	if err := o.executeAll(ctx, report); err != nil {
		return err
	}

	o.enterStage(ctx, StageVerifying, "after repair")
	passed, _, usage, err = o.exec.GlobalVerify(ctx, "A repair pass for earlier verification failures has just run.")
	report.Usage.InputTokens += usage.InputTokens
	report.Usage.OutputTokens += usage.OutputTokens
	if err != nil {
		return err
	}
	report.VerifyPassed = passed
	return nil
}

// needsGlobalVerify reports whether any item ran a cycle that defers to
// the global check. Fast-path items explicitly skip it.
func needsGlobalVerify(items []*todo.Item) bool {
	for _, item := range items {
		if item.State == todo.StateCompleted && item.Scenario != todo.ScenarioFastPath {
			return true
		}
	}
	return false
}

func (o *Orchestrator) collectItems(ctx context.Context, report *Report) {
	items, err := o.store.List(ctx)
	if err != nil {
		cerr.Log(ctx, err)
		return
	}
	for _, item := range items {
		report.Items = append(report.Items, ItemReport{
			ID:       item.ID,
			Title:    item.Title,
			Scenario: item.Scenario,
			State:    item.State,
			Reason:   item.FailureReason,
		})
		switch item.State {
		case todo.StateCompleted:
			report.Completed++
		case todo.StateFailed:
			report.Failed++
		case todo.StateSkipped:
			report.Skipped++
		}
	}
}

// chat is a single tool-less model call with the per-call timeout.
func (o *Orchestrator) chat(ctx context.Context, report *Report, system, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.env.LLMTimeout)
	defer cancel()
	resp, err := o.client.Chat(callCtx, &llm.ChatRequest{
		System:   system,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	if err != nil {
		return "", cerr.FromError(err)
	}
	if resp.Usage != nil {
		report.Usage.InputTokens += resp.Usage.InputTokens
		report.Usage.OutputTokens += resp.Usage.OutputTokens
	}
	return resp.Content, nil
}

const compressSystem = `Summarize the following conversation history into a compact brief that preserves decisions, open tasks, file paths and constraints. Drop pleasantries and superseded details.`

const analysisSystem = `You are the analysis phase of a coding agent. Assess the user's request against the conversation context: what is being asked, which parts of the project are involved, and what risks or unknowns exist. Answer in a short structured brief, no tool calls.`

func analysisPrompt(history, userInput string) string {
	if history == "" {
		return fmt.Sprintf("Request:\n%s", userInput)
	}
	return fmt.Sprintf("Context:\n%s\nRequest:\n%s", history, userInput)
}

const planningSystem = `You are the planning phase of a coding agent. Decompose the request into the smallest set of independently verifiable work items. Reply with a JSON array only: [{"title": ..., "description": ..., "affected_paths": [...], "depends_on": [indices], "blocking": bool}]. Order items by execution order; depends_on lists zero-based indices of earlier items this one needs completed first; mark an item blocking when later items are pointless if it fails.`

func planningPrompt(userInput, analysis string) string {
	return fmt.Sprintf("Request:\n%s\n\nAnalysis:\n%s", userInput, analysis)
}

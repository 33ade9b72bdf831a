// Package executor runs one work item to completion. The scenario
// decides the cycle: a test-first loop for coding items, an
// execute/verify/document loop for ordinary changes and a single bounded
// round for direct answers. All model interaction happens through
// bounded rounds; a round is one model turn plus the tool calls it
// requested.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/helmsman-dev/helmsman/internal/event"
	"github.com/helmsman-dev/helmsman/internal/eventbus"
	"github.com/helmsman-dev/helmsman/internal/llm"
	"github.com/helmsman-dev/helmsman/internal/saga"
	"github.com/helmsman-dev/helmsman/internal/todo"
	"github.com/helmsman-dev/helmsman/internal/tool"
	"github.com/helmsman-dev/helmsman/pkg/cerr"
	"github.com/helmsman-dev/helmsman/pkg/clog"
)

// Outcome is the terminal result of one item. A Failed outcome with a
// reason is a contained result, not an error; the run-level error path
// is reserved for cancellation.
type Outcome struct {
	ItemID string
	State  todo.State
	Reason string
	Usage  event.TokenUsage
	Rounds int
}

type Config struct {
	RoundBudget     int
	RedAttemptLimit int
	ToolRetryLimit  int
	// LLMTimeout bounds each individual model call; a timed-out call is
	// retried like any other retryable failure.
	LLMTimeout time.Duration
}

type Executor struct {
	client    llm.Client
	invoker   *tool.Invoker
	registry  *tool.Registry
	store     *todo.Store
	bus       *eventbus.Bus
	sessionID string
	cfg       Config
}

func New(client llm.Client, invoker *tool.Invoker, registry *tool.Registry, store *todo.Store, bus *eventbus.Bus, sessionID string, cfg Config) *Executor {
	return &Executor{
		client:    client,
		invoker:   invoker,
		registry:  registry,
		store:     store,
		bus:       bus,
		sessionID: sessionID,
		cfg:       cfg,
	}
}

// Execute runs one item through its classified cycle. The returned
// error is non-nil only when the run as a whole must stop (cancellation);
// ordinary item failures come back as a Failed outcome with nil error.
func (e *Executor) Execute(ctx context.Context, item *todo.Item) (*Outcome, error) {
	clog.AddAttributes(ctx, map[string]any{
		"item_id":  item.ID,
		"scenario": string(item.Scenario),
	})

	if err := e.store.Transition(ctx, item, todo.StateInProgress, ""); err != nil {
		return nil, err
	}
	e.publishItemState(item, todo.StateInProgress, "")

	sg := saga.NewManager()
	run := &itemRun{exec: e, item: item, sg: sg}
	// Calls arriving over the tool bridge land in this item's saga.
	e.invoker.Bind(item.ID, sg)
	defer e.invoker.Unbind()

	var err error
	switch item.Scenario {
	case todo.ScenarioCoding:
		err = run.coding(ctx)
	case todo.ScenarioFastPath:
		err = run.fastPath(ctx)
	default:
		err = run.normal(ctx)
	}

	if err != nil {
		return e.fail(ctx, run, err)
	}

	if item.Scenario != todo.ScenarioFastPath {
		if terr := e.store.Transition(ctx, item, todo.StateVerifying, ""); terr != nil {
			return nil, terr
		}
		e.publishItemState(item, todo.StateVerifying, "")
	}
	sg.Discard()
	if terr := e.store.Transition(ctx, item, todo.StateCompleted, ""); terr != nil {
		return nil, terr
	}
	e.publishItemState(item, todo.StateCompleted, "")
	return &Outcome{ItemID: item.ID, State: todo.StateCompleted, Usage: run.usage, Rounds: run.rounds}, nil
}

// fail contains an item failure: roll back the recorded compensation,
// mark the item failed and decide whether the run must stop.
func (e *Executor) fail(ctx context.Context, run *itemRun, cause error) (*Outcome, error) {
	item := run.item
	cancelled := cerr.IsCode(cause, cerr.Canceled)
	reason := cause.Error()
	if cancelled {
		reason = "cancelled"
	}

	if run.sg.Len() > 0 {
		// Rollback must survive the cancellation that triggered it.
		rbCtx := context.WithoutCancel(ctx)
		ev := event.New(e.sessionID, event.KindRollback)
		ev.ItemID = item.ID
		ev.Detail = fmt.Sprintf("rolling back %d recorded steps", run.sg.Len())
		e.bus.Publish(ev)
		if rbErr := run.sg.Rollback(rbCtx); rbErr != nil {
			cerr.Log(ctx, rbErr)
			reason = fmt.Sprintf("%s (rollback incomplete: %s)", reason, rbErr)
		}
	}

	if terr := e.store.Transition(ctx, item, todo.StateFailed, reason); terr != nil {
		return nil, terr
	}
	e.publishItemState(item, todo.StateFailed, reason)

	outcome := &Outcome{ItemID: item.ID, State: todo.StateFailed, Reason: reason, Usage: run.usage, Rounds: run.rounds}
	if cancelled {
		return outcome, cerr.NewError(cerr.Canceled, fmt.Sprintf("run cancelled while executing item %s", item.ID), cause)
	}
	return outcome, nil
}

func (e *Executor) publishItemState(item *todo.Item, state todo.State, reason string) {
	ev := event.New(e.sessionID, event.KindItemState)
	ev.ItemID = item.ID
	ev.Detail = item.Title
	ev.Metadata = map[string]string{"state": string(state)}
	if reason != "" {
		ev.Metadata["reason"] = reason
	}
	e.bus.Publish(ev)
}

// GlobalVerify runs the run-level verification pass: a detached round
// loop that checks the combined result of all completed items. It is not
// bound to a work item and records no compensation.
func (e *Executor) GlobalVerify(ctx context.Context, detail string) (passed bool, report string, usage event.TokenUsage, err error) {
	run := &itemRun{exec: e, item: &todo.Item{Title: "global verification"}, sg: saga.NewManager()}
	e.invoker.Bind("", run.sg)
	defer e.invoker.Unbind()
	final, err := run.runRounds(ctx, globalVerifyPrompt(detail), e.cfg.RoundBudget)
	run.sg.Discard()
	if err != nil {
		return false, "", run.usage, err
	}
	return strings.Contains(final, markerVerifyPassed), final, run.usage, nil
}

// itemRun carries the per-item mutable state of one Execute call.
type itemRun struct {
	exec   *Executor
	item   *todo.Item
	sg     *saga.Manager
	usage  event.TokenUsage
	rounds int
}

// Completion markers. Each phase prompt instructs the model to end its
// final message with one of these so the review pass has a structured
// signal instead of free-text guessing.
const (
	markerRedFailing    = "RED: failing"
	markerRedBlocked    = "RED: blocked"
	markerGreenPassing  = "GREEN: passing"
	markerRegressPassed = "REGRESS: passing"
	markerVerifyPassed  = "VERIFY: passing"
)

func (r *itemRun) coding(ctx context.Context) error {
	confirmed := false
	for attempt := 1; attempt <= r.exec.cfg.RedAttemptLimit; attempt++ {
		final, err := r.runRounds(ctx, redPrompt(r.item, attempt), r.exec.cfg.RoundBudget)
		if err != nil {
			// An attempt that burned its round budget without observing a
			// failing test is a stalled attempt, not a run error.
			if cerr.IsCode(err, cerr.FailedPrecondition) {
				continue
			}
			return err
		}
		if strings.Contains(final, markerRedFailing) {
			confirmed = true
			break
		}
	}
	if !confirmed {
		// Deadlock breaker: a test-first cycle that cannot produce a
		// failing test degrades to the normal cycle instead of stalling.
		slog.WarnContext(ctx, "red phase stalled, degrading item to normal cycle")
		if err := r.exec.store.SetScenario(ctx, r.item, todo.ScenarioNormal); err != nil {
			return err
		}
		ev := event.New(r.exec.sessionID, event.KindItemState)
		ev.ItemID = r.item.ID
		ev.Detail = "degraded to normal cycle after repeated red-phase failures"
		ev.Metadata = map[string]string{"state": string(r.item.State)}
		r.exec.bus.Publish(ev)
		return r.normal(ctx)
	}

	final, err := r.runRounds(ctx, greenPrompt(r.item), r.exec.cfg.RoundBudget)
	if err != nil {
		return err
	}
	if !strings.Contains(final, markerGreenPassing) {
		return cerr.NewError(cerr.VerificationFailure,
			"implementation did not reach a passing state", nil)
	}

	final, err = r.runRounds(ctx, regressPrompt(r.item), r.exec.cfg.RoundBudget)
	if err != nil {
		return err
	}
	if !strings.Contains(final, markerRegressPassed) {
		return cerr.NewError(cerr.VerificationFailure,
			"regression run did not pass", nil)
	}
	return nil
}

func (r *itemRun) normal(ctx context.Context) error {
	if _, err := r.runRounds(ctx, executePrompt(r.item), r.exec.cfg.RoundBudget); err != nil {
		return err
	}
	final, err := r.runRounds(ctx, verifyPrompt(r.item), r.exec.cfg.RoundBudget)
	if err != nil {
		return err
	}
	if !strings.Contains(final, markerVerifyPassed) {
		return cerr.NewError(cerr.VerificationFailure,
			"verification did not pass", nil)
	}
	_, err = r.runRounds(ctx, documentPrompt(r.item), r.exec.cfg.RoundBudget)
	return err
}

// fastPath gives the model one working round plus the closing turn that
// emits the answer.
func (r *itemRun) fastPath(ctx context.Context) error {
	_, err := r.runRounds(ctx, fastPathPrompt(r.item), 2)
	return err
}

// runRounds drives the round loop for one phase: call the model, run
// whatever tools it requested, feed results back, repeat until the model
// answers without tool calls or the budget runs out.
func (r *itemRun) runRounds(ctx context.Context, instruction string, budget int) (string, error) {
	messages := []llm.Message{{Role: llm.RoleUser, Content: instruction}}
	defs := r.exec.registry.Defs()

	for round := 1; round <= budget; round++ {
		r.rounds++
		ev := event.New(r.exec.sessionID, event.KindRoundStarted)
		ev.ItemID = r.item.ID
		ev.Detail = fmt.Sprintf("round %d/%d", round, budget)
		r.exec.bus.Publish(ev)

		resp, err := r.chat(ctx, &llm.ChatRequest{
			System:   systemPrompt,
			Messages: messages,
			Tools:    defs,
		})
		if err != nil {
			return "", err
		}
		if resp.Usage != nil {
			r.usage.InputTokens += resp.Usage.InputTokens
			r.usage.OutputTokens += resp.Usage.OutputTokens
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		results, err := r.dispatch(ctx, resp.ToolCalls)
		if err != nil {
			return "", err
		}
		messages = append(messages, results...)
	}
	return "", cerr.NewError(cerr.FailedPrecondition,
		fmt.Sprintf("round budget of %d exhausted", budget), nil)
}

// chat is one model call, bounded by the per-call timeout. A timed-out
// or otherwise retryable failure is retried up to the retry limit; the
// caller's cancellation is surfaced immediately.
func (r *itemRun) chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= r.exec.cfg.ToolRetryLimit; attempt++ {
		callCtx := ctx
		cancel := context.CancelFunc(func() {})
		if r.exec.cfg.LLMTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.exec.cfg.LLMTimeout)
		}
		resp, err := r.exec.client.Chat(callCtx, req)
		cancel()
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, cerr.NewError(cerr.Canceled, "model call interrupted", ctx.Err())
		}
		cause := cerr.FromError(err)
		if !cerr.CodeOf(cause).Retryable() {
			return nil, cause
		}
		lastErr = cause
		slog.WarnContext(ctx, "retrying model call",
			slog.Int("attempt", attempt+1), slog.String("cause", cause.Error()))
	}
	return nil, lastErr
}

// dispatch runs a round's tool calls concurrently and returns the
// results in call order. Recoverable tool errors become error-flagged
// tool messages the model can react to; cancellation and missing
// confirmation stop the item.
func (r *itemRun) dispatch(ctx context.Context, calls []llm.ToolCall) ([]llm.Message, error) {
	results := make([]llm.Message, len(calls))
	p := pool.New().WithContext(ctx).WithCancelOnError()
	for i, call := range calls {
		p.Go(func(ctx context.Context) error {
			msg, err := r.invokeWithRetry(ctx, call)
			if err != nil {
				return err
			}
			results[i] = msg
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *itemRun) invokeWithRetry(ctx context.Context, call llm.ToolCall) (llm.Message, error) {
	var lastErr error
	for attempt := 0; attempt <= r.exec.cfg.ToolRetryLimit; attempt++ {
		result, err := r.exec.invoker.Invoke(ctx, call, r.item.ID, r.sg)
		if err == nil {
			content := result.Output
			isError := result.Error != ""
			if isError {
				content = result.Error
			}
			return llm.Message{
				Role:       llm.RoleTool,
				Content:    content,
				ToolCallID: call.ID,
				IsError:    isError,
			}, nil
		}

		code := cerr.CodeOf(err)
		switch {
		case code == cerr.Canceled || code == cerr.ConfirmationRequired:
			return llm.Message{}, err
		case code.Retryable():
			lastErr = err
			slog.WarnContext(ctx, "retrying tool call",
				slog.String("tool", call.Name), slog.Int("attempt", attempt+1))
			continue
		default:
			// Denials and argument errors go back to the model so it can
			// take a different approach within the round budget.
			return llm.Message{
				Role:       llm.RoleTool,
				Content:    err.Error(),
				ToolCallID: call.ID,
				IsError:    true,
			}, nil
		}
	}
	return llm.Message{}, lastErr
}

const systemPrompt = `You are an autonomous coding agent working on one task item at a time. Use the provided tools for every file and shell operation. When a phase instruction names a completion marker, end your final message with exactly that marker line.`

func redPrompt(item *todo.Item, attempt int) string {
	return fmt.Sprintf(`Task: %s
%s

Phase: RED (attempt %d). Write a test that captures the required behavior and run it. The test must fail for the right reason before any implementation exists. When you have observed the failure, finish with the line %q. If you cannot produce a properly failing test, finish with %q.`,
		item.Title, item.Description, attempt, markerRedFailing, markerRedBlocked)
}

func greenPrompt(item *todo.Item) string {
	return fmt.Sprintf(`Task: %s

Phase: GREEN. Implement the minimal change that makes the new test pass, then run it. When the test passes, finish with the line %q.`,
		item.Title, markerGreenPassing)
}

func regressPrompt(item *todo.Item) string {
	return fmt.Sprintf(`Task: %s

Phase: REGRESS. Run the full test suite. When everything passes, finish with the line %q. Otherwise report which tests fail.`,
		item.Title, markerRegressPassed)
}

func executePrompt(item *todo.Item) string {
	return fmt.Sprintf(`Task: %s
%s

Phase: EXECUTE. Make the change described above.`, item.Title, item.Description)
}

func verifyPrompt(item *todo.Item) string {
	return fmt.Sprintf(`Task: %s

Phase: VERIFY. Check that the change is correct and complete (run relevant checks if any exist). If it holds, finish with the line %q. Otherwise report what is wrong.`,
		item.Title, markerVerifyPassed)
}

func documentPrompt(item *todo.Item) string {
	return fmt.Sprintf(`Task: %s

Phase: DOCUMENT. Summarize in a few sentences what was changed and why.`, item.Title)
}

func globalVerifyPrompt(detail string) string {
	return fmt.Sprintf(`All planned task items have been executed. %s

Run the project-wide checks (build, full test suite, linters if configured). If everything passes, finish with the line %q. Otherwise report exactly what fails.`,
		detail, markerVerifyPassed)
}

func fastPathPrompt(item *todo.Item) string {
	return fmt.Sprintf(`Task: %s
%s

Answer directly. You may use read-only tools to look things up, but do not modify any files.`, item.Title, item.Description)
}

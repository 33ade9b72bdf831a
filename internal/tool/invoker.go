package tool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/helmsman-dev/helmsman/internal/event"
	"github.com/helmsman-dev/helmsman/internal/eventbus"
	"github.com/helmsman-dev/helmsman/internal/llm"
	"github.com/helmsman-dev/helmsman/internal/permission"
	"github.com/helmsman-dev/helmsman/internal/saga"
	"github.com/helmsman-dev/helmsman/pkg/cerr"
)

// Boundary pins the path scope the gateway classifies against.
type Boundary struct {
	ProjectRoot string
	Worktree    string
	WorkingDir  string
}

// Invoker executes tool calls on behalf of the model. Every call passes
// through the gateway; there is no alternate entry point. Destructive
// calls capture their compensation before mutating anything, but the
// saga records it only once the call succeeds: a call that failed left
// nothing behind, and rolling back anyway would undo work the run never
// did.
type Invoker struct {
	registry  *Registry
	gateway   *permission.Gateway
	rules     *permission.RuleStore
	confirmer permission.Confirmer // nil in non-interactive contexts
	bus       *eventbus.Bus
	sessionID string
	boundary  Boundary
	timeout   time.Duration

	mu        sync.Mutex
	boundItem string
	boundSaga *saga.Manager
}

type InvokerConfig struct {
	Registry  *Registry
	Gateway   *permission.Gateway
	Rules     *permission.RuleStore
	Confirmer permission.Confirmer
	Bus       *eventbus.Bus
	SessionID string
	Boundary  Boundary
	Timeout   time.Duration
}

func NewInvoker(cfg InvokerConfig) *Invoker {
	return &Invoker{
		registry:  cfg.Registry,
		gateway:   cfg.Gateway,
		rules:     cfg.Rules,
		confirmer: cfg.Confirmer,
		bus:       cfg.Bus,
		sessionID: cfg.SessionID,
		boundary:  cfg.Boundary,
		timeout:   cfg.Timeout,
	}
}

// Bind attaches calls that arrive outside the executor's own dispatch
// loop (the MCP bridge) to the item currently in flight, so they share
// its compensation log.
func (inv *Invoker) Bind(itemID string, sg *saga.Manager) {
	inv.mu.Lock()
	inv.boundItem = itemID
	inv.boundSaga = sg
	inv.mu.Unlock()
}

// Unbind clears the binding once the item finishes. Bridge calls
// landing between items run without a compensation log.
func (inv *Invoker) Unbind() {
	inv.mu.Lock()
	inv.boundItem = ""
	inv.boundSaga = nil
	inv.mu.Unlock()
}

// InvokeBound runs a call against whatever item is currently bound.
func (inv *Invoker) InvokeBound(ctx context.Context, call llm.ToolCall) (*Result, error) {
	inv.mu.Lock()
	itemID, sg := inv.boundItem, inv.boundSaga
	inv.mu.Unlock()
	return inv.Invoke(ctx, call, itemID, sg)
}

// Invoke runs one tool call. sg receives undo actions for mutating
// tools; it belongs to the executor driving the current work item.
func (inv *Invoker) Invoke(ctx context.Context, call llm.ToolCall, itemID string, sg *saga.Manager) (*Result, error) {
	t, ok := inv.registry.Get(call.Name)
	if !ok {
		return nil, cerr.NewError(cerr.InvalidArgument,
			fmt.Sprintf("unknown tool %q", call.Name), nil)
	}

	kind, targetPath, command := t.Classify(call.Args)
	req := permission.Request{
		Tool:        t.Name(),
		Kind:        kind,
		TargetPath:  targetPath,
		Command:     command,
		ProjectRoot: inv.boundary.ProjectRoot,
		Worktree:    inv.boundary.Worktree,
		WorkingDir:  inv.boundary.WorkingDir,
	}
	verdict := inv.gateway.Check(req)
	inv.publishPermission(req, verdict, itemID)

	if err := inv.resolveVerdict(req, verdict); err != nil {
		return nil, err
	}

	var prepared saga.UndoAction
	if undoable, ok := t.(Undoable); ok && sg != nil {
		action, err := undoable.PrepareUndo(call.Args)
		if err != nil {
			return nil, cerr.NewError(cerr.ToolExecutionFailure,
				fmt.Sprintf("failed to prepare undo for %s", t.Name()), err)
		}
		prepared = action
	}

	inv.publishTool(event.KindToolStarted, call, itemID, "")

	invokeCtx := ctx
	if inv.timeout > 0 {
		var cancel context.CancelFunc
		invokeCtx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}

	result, err := t.Invoke(invokeCtx, call.Args)
	if err != nil {
		// Distinguish the caller's cancellation from this call's timeout:
		// only the latter is retryable.
		if ctx.Err() != nil {
			inv.publishTool(event.KindToolFinished, call, itemID, "cancelled")
			return nil, cerr.NewError(cerr.Canceled, fmt.Sprintf("%s interrupted", t.Name()), ctx.Err())
		}
		if invokeCtx.Err() != nil {
			inv.publishTool(event.KindToolFinished, call, itemID, "timeout")
			return nil, cerr.NewError(cerr.DeadlineExceeded,
				fmt.Sprintf("%s timed out after %s", t.Name(), inv.timeout), invokeCtx.Err())
		}
		inv.publishTool(event.KindToolFinished, call, itemID, "error")
		return nil, cerr.NewError(cerr.ToolExecutionFailure,
			fmt.Sprintf("%s failed", t.Name()), err)
	}

	if sg != nil && result.Error == "" {
		action := prepared
		if result.Undo != nil {
			action = result.Undo
		}
		if action != nil {
			sg.Record(action)
		}
	}

	inv.publishTool(event.KindToolFinished, call, itemID, "ok")
	return result, nil
}

// resolveVerdict turns the gateway's answer into an outcome. Critical
// denials and explicit denies fail immediately; Ask goes to the human
// confirmer when one exists and fails fast otherwise.
func (inv *Invoker) resolveVerdict(req permission.Request, verdict permission.Verdict) error {
	switch verdict.Decision {
	case permission.DecisionAllow:
		return nil
	case permission.DecisionDeny:
		return cerr.NewError(cerr.PermissionDenied,
			fmt.Sprintf("%s denied (risk=%s): %s", req.Kind, verdict.Risk, verdict.Reason), nil)
	case permission.DecisionAsk:
		if inv.confirmer == nil {
			return cerr.NewError(cerr.ConfirmationRequired,
				fmt.Sprintf("%s requires confirmation (risk=%s) and no confirmation channel is available", req.Kind, verdict.Risk), nil)
		}
		granted, alwaysAllow, err := inv.confirmer.Confirm(confirmPrompt(req, verdict))
		if err != nil {
			return cerr.NewError(cerr.ConfirmationRequired, "confirmation failed", err)
		}
		if !granted {
			return cerr.NewError(cerr.PermissionDenied,
				fmt.Sprintf("%s declined by user (risk=%s)", req.Kind, verdict.Risk), nil)
		}
		if alwaysAllow && inv.rules != nil && verdict.Risk < permission.RiskCritical {
			pattern := grantPattern(req)
			if err := inv.rules.Grant(pattern, 0); err == nil {
				inv.publishPermissionDetail(fmt.Sprintf("granted always-allow rule %s", pattern))
			}
		}
		return nil
	default:
		return cerr.NewError(cerr.Internal, "gateway returned no decision", nil)
	}
}

func confirmPrompt(req permission.Request, verdict permission.Verdict) string {
	target := req.TargetPath
	if req.Kind == permission.OpBash {
		target = req.Command
	}
	return fmt.Sprintf("%s %s [risk: %s]%s", req.Tool, target, verdict.Risk, externalSuffix(verdict))
}

func externalSuffix(verdict permission.Verdict) string {
	if verdict.External {
		return " (outside project boundary)"
	}
	return ""
}

// grantPattern scopes an always-allow rule to what the user just saw:
// the exact command for shell calls, the exact path otherwise.
func grantPattern(req permission.Request) string {
	if req.Kind == permission.OpBash {
		return fmt.Sprintf("%s(%s)", req.Tool, req.Command)
	}
	if req.TargetPath != "" {
		return fmt.Sprintf("%s(%s)", req.Tool, req.TargetPath)
	}
	return req.Tool
}

func (inv *Invoker) publishPermission(req permission.Request, verdict permission.Verdict, itemID string) {
	if inv.bus == nil {
		return
	}
	ev := event.New(inv.sessionID, event.KindPermission)
	ev.ItemID = itemID
	// Report the operation and risk, not the full argument payload.
	ev.Detail = fmt.Sprintf("%s %s: %s", req.Tool, req.Kind, verdict.Decision)
	ev.Metadata = map[string]string{
		"risk":     verdict.Risk.String(),
		"decision": verdict.Decision.String(),
	}
	inv.bus.Publish(ev)
}

func (inv *Invoker) publishPermissionDetail(detail string) {
	if inv.bus == nil {
		return
	}
	ev := event.New(inv.sessionID, event.KindPermission)
	ev.Detail = detail
	inv.bus.Publish(ev)
}

func (inv *Invoker) publishTool(kind event.Kind, call llm.ToolCall, itemID, status string) {
	if inv.bus == nil {
		return
	}
	ev := event.New(inv.sessionID, kind)
	ev.ItemID = itemID
	ev.Detail = call.Name
	if status != "" {
		ev.Metadata = map[string]string{"status": status}
	}
	inv.bus.Publish(ev)
}

package builtin

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/helmsman-dev/helmsman/internal/permission"
	"github.com/helmsman-dev/helmsman/internal/saga"
	"github.com/helmsman-dev/helmsman/internal/tool"
)

const bashOutputLimit = 64 * 1024

// BashTool runs a shell command in the working directory. A non-zero
// exit lands in Result.Error so the model sees the failure instead of
// the run aborting. The model may declare an undo_command alongside a
// mutating command; it is recorded as the compensation once the command
// succeeds.
type BashTool struct {
	workDir string
}

func (t *BashTool) Name() string { return "bash" }

func (t *BashTool) Description() string {
	return "Run a shell command in the working directory and return combined stdout and stderr."
}

func (t *BashTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command":      map[string]any{"type": "string", "description": "Shell command to run"},
			"undo_command": map[string]any{"type": "string", "description": "Command that undoes this one if the work item is rolled back"},
		},
		"required": []string{"command"},
	}
}

func (t *BashTool) Classify(args map[string]any) (permission.OperationKind, string, string) {
	return permission.OpBash, "", optionalString(args, "command")
}

func (t *BashTool) PrepareUndo(args map[string]any) (saga.UndoAction, error) {
	undo := optionalString(args, "undo_command")
	if strings.TrimSpace(undo) == "" {
		return nil, nil
	}
	return saga.RunCleanup{Cmd: undo, Dir: t.workDir}, nil
}

func (t *BashTool) Invoke(ctx context.Context, args map[string]any) (*tool.Result, error) {
	command, err := stringArg(args, "command")
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = t.workDir
	out, err := cmd.CombinedOutput()
	output := truncate(strings.TrimRight(string(out), "\n"))

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return &tool.Result{
				Output: output,
				Error:  fmt.Sprintf("exit status %d", exitErr.ExitCode()),
			}, nil
		}
		return nil, err
	}
	return &tool.Result{Output: output}, nil
}

func truncate(s string) string {
	if len(s) <= bashOutputLimit {
		return s
	}
	return s[:bashOutputLimit] + "\n... (output truncated)"
}

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

// GitCommitTool stages paths and creates a commit. The compensation is
// bound to the hash of the commit the call created, so rolling back can
// never revert a commit that predates the run.
type GitCommitTool struct {
	workDir string
}

func (t *GitCommitTool) Name() string { return "git_commit" }

func (t *GitCommitTool) Description() string {
	return "Stage the given paths (or all changes) and create a commit with the given message."
}

func (t *GitCommitTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{"type": "string", "description": "Commit message"},
			"paths":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Paths to stage; all changes when omitted"},
		},
		"required": []string{"message"},
	}
}

func (t *GitCommitTool) Classify(map[string]any) (permission.OperationKind, string, string) {
	return permission.OpGitCommit, "", ""
}

func (t *GitCommitTool) Invoke(ctx context.Context, args map[string]any) (*tool.Result, error) {
	message, err := stringArg(args, "message")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(message) == "" {
		return &tool.Result{Error: "commit message is empty"}, nil
	}

	addArgs := []string{"add"}
	if paths := stringSlice(args, "paths"); len(paths) > 0 {
		addArgs = append(addArgs, "--")
		addArgs = append(addArgs, paths...)
	} else {
		addArgs = append(addArgs, "-A")
	}
	if out, err := t.git(ctx, addArgs...); err != nil {
		return &tool.Result{Error: fmt.Sprintf("git add failed: %s", out)}, nil
	}

	if out, err := t.git(ctx, "commit", "-m", message); err != nil {
		return &tool.Result{Error: fmt.Sprintf("git commit failed: %s", out)}, nil
	}

	hash, err := t.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return &tool.Result{Error: fmt.Sprintf("commit created but rev-parse failed: %s", hash)}, nil
	}
	return &tool.Result{
		Output: fmt.Sprintf("committed %s", hash),
		Undo:   saga.RevertCommit{Ref: hash, Dir: t.workDir},
	}, nil
}

func (t *GitCommitTool) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = t.workDir
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func stringSlice(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// GitRevertTool reverts an existing commit by ref.
type GitRevertTool struct {
	workDir string
}

func (t *GitRevertTool) Name() string { return "git_revert" }

func (t *GitRevertTool) Description() string {
	return "Revert an existing commit by creating a new commit that undoes it."
}

func (t *GitRevertTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ref": map[string]any{"type": "string", "description": "Commit ref to revert"},
		},
		"required": []string{"ref"},
	}
}

func (t *GitRevertTool) Classify(map[string]any) (permission.OperationKind, string, string) {
	return permission.OpGitRevert, "", ""
}

func (t *GitRevertTool) Invoke(ctx context.Context, args map[string]any) (*tool.Result, error) {
	ref, err := stringArg(args, "ref")
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, "git", "revert", "--no-edit", ref)
	cmd.Dir = t.workDir
	out, runErr := cmd.CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if runErr != nil {
		return &tool.Result{Error: fmt.Sprintf("git revert failed: %s", trimmed)}, nil
	}
	return &tool.Result{Output: fmt.Sprintf("reverted %s", ref)}, nil
}

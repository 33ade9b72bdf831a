package builtin

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/helmsman-dev/helmsman/internal/permission"
	"github.com/helmsman-dev/helmsman/internal/saga"
	"github.com/helmsman-dev/helmsman/internal/tool"
)

// EditFileTool replaces an exact string in an existing file. Requiring a
// unique match keeps the edit unambiguous without a line-number protocol.
type EditFileTool struct {
	workDir string
}

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Description() string {
	return "Replace an exact string in a file. old_string must match exactly once unless replace_all is set."
}

func (t *EditFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":        map[string]any{"type": "string", "description": "File path, absolute or relative to the working directory"},
			"old_string":  map[string]any{"type": "string", "description": "Exact text to replace"},
			"new_string":  map[string]any{"type": "string", "description": "Replacement text"},
			"replace_all": map[string]any{"type": "boolean", "description": "Replace every occurrence instead of requiring a unique match"},
		},
		"required": []string{"path", "old_string", "new_string"},
	}
}

func (t *EditFileTool) Classify(args map[string]any) (permission.OperationKind, string, string) {
	return permission.OpEditFile, resolvePath(t.workDir, optionalString(args, "path")), ""
}

func (t *EditFileTool) PrepareUndo(args map[string]any) (saga.UndoAction, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	abs := resolvePath(t.workDir, path)
	prior, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	return saga.RestoreFile{Path: abs, PriorHash: saga.HashContent(prior), Backup: prior}, nil
}

func (t *EditFileTool) Invoke(_ context.Context, args map[string]any) (*tool.Result, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	oldString, err := stringArg(args, "old_string")
	if err != nil {
		return nil, err
	}
	newString, err := stringArg(args, "new_string")
	if err != nil {
		return nil, err
	}
	if oldString == newString {
		return &tool.Result{Error: "old_string and new_string are identical"}, nil
	}

	abs := resolvePath(t.workDir, path)
	data, err := os.ReadFile(abs)
	if err != nil {
		return &tool.Result{Error: err.Error()}, nil
	}
	before := string(data)

	count := strings.Count(before, oldString)
	if count == 0 {
		return &tool.Result{Error: fmt.Sprintf("old_string not found in %s", path)}, nil
	}
	if count > 1 && !optionalBool(args, "replace_all") {
		return &tool.Result{Error: fmt.Sprintf("old_string matches %d times in %s; make it unique or set replace_all", count, path)}, nil
	}

	var after string
	if optionalBool(args, "replace_all") {
		after = strings.ReplaceAll(before, oldString, newString)
	} else {
		after = strings.Replace(before, oldString, newString, 1)
	}
	if err := os.WriteFile(abs, []byte(after), 0o644); err != nil {
		return &tool.Result{Error: err.Error()}, nil
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: path,
		ToFile:   path,
		Context:  3,
	})
	if err != nil {
		diff = fmt.Sprintf("replaced %d occurrence(s)", count)
	}
	return &tool.Result{Output: diff}, nil
}

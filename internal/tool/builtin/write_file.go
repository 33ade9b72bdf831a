package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/helmsman-dev/helmsman/internal/permission"
	"github.com/helmsman-dev/helmsman/internal/saga"
	"github.com/helmsman-dev/helmsman/internal/tool"
)

// WriteFileTool creates or overwrites a file. The compensation restores
// the prior content for overwrites and deletes the file for creations.
type WriteFileTool struct {
	workDir string
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file, creating it and any parent directories if needed."
}

func (t *WriteFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "File path, absolute or relative to the working directory"},
			"content": map[string]any{"type": "string", "description": "Full file content"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Classify(args map[string]any) (permission.OperationKind, string, string) {
	return permission.OpWriteFile, resolvePath(t.workDir, optionalString(args, "path")), ""
}

func (t *WriteFileTool) PrepareUndo(args map[string]any) (saga.UndoAction, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	abs := resolvePath(t.workDir, path)
	prior, err := os.ReadFile(abs)
	if os.IsNotExist(err) {
		return saga.DeleteFile{Path: abs}, nil
	}
	if err != nil {
		return nil, err
	}
	return saga.RestoreFile{Path: abs, PriorHash: saga.HashContent(prior), Backup: prior}, nil
}

func (t *WriteFileTool) Invoke(_ context.Context, args map[string]any) (*tool.Result, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return nil, err
	}
	abs := resolvePath(t.workDir, path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return &tool.Result{Error: err.Error()}, nil
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return &tool.Result{Error: err.Error()}, nil
	}
	return &tool.Result{Output: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}, nil
}

package builtin

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/helmsman-dev/helmsman/internal/permission"
	"github.com/helmsman-dev/helmsman/internal/tool"
)

// ReadFileTool returns file content with line numbers so the model can
// reference exact locations in later edits.
type ReadFileTool struct {
	workDir string
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a file and return its content with line numbers. Supports an optional offset and limit in lines."
}

func (t *ReadFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":   map[string]any{"type": "string", "description": "File path, absolute or relative to the working directory"},
			"offset": map[string]any{"type": "integer", "description": "1-based line to start from"},
			"limit":  map[string]any{"type": "integer", "description": "Maximum number of lines to return"},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Classify(args map[string]any) (permission.OperationKind, string, string) {
	return permission.OpReadFile, resolvePath(t.workDir, optionalString(args, "path")), ""
}

func (t *ReadFileTool) Invoke(_ context.Context, args map[string]any) (*tool.Result, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolvePath(t.workDir, path))
	if err != nil {
		return &tool.Result{Error: err.Error()}, nil
	}

	lines := strings.Split(string(data), "\n")
	offset := optionalInt(args, "offset")
	if offset < 1 {
		offset = 1
	}
	limit := optionalInt(args, "limit")
	if limit <= 0 || limit > len(lines) {
		limit = len(lines)
	}
	if offset > len(lines) {
		return &tool.Result{Error: fmt.Sprintf("offset %d is past the end of the file (%d lines)", offset, len(lines))}, nil
	}

	end := offset - 1 + limit
	if end > len(lines) {
		end = len(lines)
	}
	var sb strings.Builder
	for i := offset - 1; i < end; i++ {
		fmt.Fprintf(&sb, "%6d\t%s\n", i+1, lines[i])
	}
	return &tool.Result{Output: sb.String()}, nil
}

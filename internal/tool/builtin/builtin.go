// Package builtin provides the tools the model drives file edits and
// shell commands through. Each tool resolves relative paths against the
// working directory it was constructed with, so the permission gateway
// and the tool always see the same canonical target.
package builtin

import (
	"fmt"
	"path/filepath"

	"github.com/helmsman-dev/helmsman/internal/tool"
)

// RegisterAll wires the standard tool set into the registry. workDir is
// the directory tool paths resolve against, normally the item worktree.
func RegisterAll(r *tool.Registry, workDir string) {
	r.Register(&ReadFileTool{workDir: workDir})
	r.Register(&WriteFileTool{workDir: workDir})
	r.Register(&EditFileTool{workDir: workDir})
	r.Register(&BashTool{workDir: workDir})
	r.Register(&GitCommitTool{workDir: workDir})
	r.Register(&GitRevertTool{workDir: workDir})
}

func resolvePath(workDir, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(workDir, path)
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

func optionalString(args map[string]any, key string) string {
	if s, ok := args[key].(string); ok {
		return s
	}
	return ""
}

// optionalInt tolerates float64 because JSON-decoded numbers arrive that
// way.
func optionalInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func optionalBool(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

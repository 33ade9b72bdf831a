// Package worktree manages git worktrees used to isolate a work item's
// changes from the primary checkout.
package worktree

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

type Manager struct {
	repoPath      string
	worktreesPath string
}

func NewManager(repoPath string) (*Manager, error) {
	worktreesPath := filepath.Join(repoPath, ".helmsman", "worktrees")
	if err := os.MkdirAll(worktreesPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create worktrees directory: %w", err)
	}
	return &Manager{
		repoPath:      repoPath,
		worktreesPath: worktreesPath,
	}, nil
}

func (m *Manager) Create(ctx context.Context, itemID, branchName string) (string, error) {
	worktreePath := filepath.Join(m.worktreesPath, itemID)

	if _, err := os.Stat(worktreePath); err == nil {
		return worktreePath, nil
	}

	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-b", branchName, worktreePath)
	cmd.Dir = m.repoPath
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("failed to create git worktree: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return worktreePath, nil
}

func (m *Manager) Remove(ctx context.Context, itemID string) error {
	worktreePath := filepath.Join(m.worktreesPath, itemID)

	if _, err := os.Stat(worktreePath); os.IsNotExist(err) {
		return nil
	}

	cmd := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", worktreePath)
	cmd.Dir = m.repoPath
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to remove git worktree: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (m *Manager) Path(itemID string) string {
	return filepath.Join(m.worktreesPath, itemID)
}

// GitRoot returns the top-level directory of the repository containing
// dir, or an empty string when dir is not inside a git working tree.
func GitRoot(ctx context.Context, dir string) string {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return ""
	}
	return strings.TrimSpace(out.String())
}

// RootCommitHash returns the hash of the repository's first commit, a
// stable fingerprint that survives branch switches and worktree moves.
func RootCommitHash(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-list", "--max-parents=0", "--first-parent", "HEAD")
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to resolve root commit: %w", err)
	}
	lines := strings.Fields(out.String())
	if len(lines) == 0 {
		return "", fmt.Errorf("repository has no commits")
	}
	// A repo can have multiple root commits (merged histories);
	// rev-list prints the first-parent one last.
	return lines[len(lines)-1], nil
}

// Package saga records compensating actions for destructive steps so a
// partially executed work item can be unwound. The plan is append-only
// during forward execution and replayed in reverse on rollback, which
// removes the need for an explicit undo dependency graph.
package saga

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// UndoAction compensates one destructive step.
type UndoAction interface {
	// Describe names the action for logs and rollback reports.
	Describe() string
	// Undo applies the compensation. It must be safe to call once.
	Undo(ctx context.Context) error
}

// DeleteFile removes a file that forward execution created.
type DeleteFile struct {
	Path string
}

func (a DeleteFile) Describe() string {
	return fmt.Sprintf("delete created file %s", a.Path)
}

func (a DeleteFile) Undo(_ context.Context) error {
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", a.Path, err)
	}
	return nil
}

// RestoreFile rewrites a file with the content it had before forward
// execution modified it. PriorHash identifies the backed-up content.
type RestoreFile struct {
	Path      string
	PriorHash string
	Backup    []byte
}

func (a RestoreFile) Describe() string {
	return fmt.Sprintf("restore %s to %s", a.Path, shortHash(a.PriorHash))
}

func (a RestoreFile) Undo(_ context.Context) error {
	if err := os.MkdirAll(filepath.Dir(a.Path), 0o755); err != nil {
		return fmt.Errorf("failed to restore %s: %w", a.Path, err)
	}
	if err := os.WriteFile(a.Path, a.Backup, 0o644); err != nil {
		return fmt.Errorf("failed to restore %s: %w", a.Path, err)
	}
	return nil
}

// RevertCommit reverts a commit the forward execution created.
type RevertCommit struct {
	Ref string
	Dir string
}

func (a RevertCommit) Describe() string {
	return fmt.Sprintf("revert commit %s", shortHash(a.Ref))
}

func (a RevertCommit) Undo(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "git", "revert", "--no-edit", a.Ref)
	cmd.Dir = a.Dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to revert %s: %w: %s", a.Ref, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// RunCleanup executes an arbitrary cleanup command.
type RunCleanup struct {
	Cmd string
	Dir string
}

func (a RunCleanup) Describe() string {
	return fmt.Sprintf("run cleanup command %q", a.Cmd)
}

func (a RunCleanup) Undo(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", a.Cmd)
	cmd.Dir = a.Dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("cleanup command %q failed: %w: %s", a.Cmd, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// HashContent returns the hex sha256 of file content, used as PriorHash.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// Package session binds conversation sessions to project identities and
// enforces that resumed sessions stay within their project. It is a
// boundary-enforcement component, not a general key-value store.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/helmsman-dev/helmsman/pkg/cerr"
	"github.com/helmsman-dev/helmsman/pkg/worktree"
)

type Registry struct {
	repo Repository
}

func NewRegistry(repo Repository) *Registry {
	return &Registry{repo: repo}
}

// ResolveIdentity computes the project identity of dir. Version-
// controlled trees use the root commit hash, which is stable across
// branches, clones under different paths, and linked worktrees. Trees
// without version control fall back to a path fingerprint.
func ResolveIdentity(ctx context.Context, dir string) (ProjectIdentity, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return ProjectIdentity{}, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	if root := worktree.GitRoot(ctx, abs); root != "" {
		hash, err := worktree.RootCommitHash(ctx, root)
		if err == nil {
			return ProjectIdentity{
				ProjectID:   "git-" + hash,
				ProjectRoot: root,
				Worktree:    root,
			}, nil
		}
		// Repo with no commits yet: fall through to the path fingerprint.
	}

	sum := sha256.Sum256([]byte(abs))
	return ProjectIdentity{
		ProjectID:   "path-" + hex.EncodeToString(sum[:])[:20],
		ProjectRoot: abs,
	}, nil
}

// Create starts a new session bound to the given identity.
func (r *Registry) Create(ctx context.Context, identity ProjectIdentity) (*Session, error) {
	now := time.Now()
	s := &Session{
		ID:          ulid.Make().String(),
		ProjectID:   identity.ProjectID,
		ProjectRoot: identity.ProjectRoot,
		Worktree:    identity.Worktree,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.repo.Create(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ResumeCriteria selects the session to resume. An empty SessionID means
// the most recently updated session of the current project.
type ResumeCriteria struct {
	SessionID         string
	AllowCrossProject bool
}

// Resume looks up a previous session, scoped to the caller's current
// project. Naming a session from another project is rejected with an
// error identifying both projects, unless the explicit override is set.
func (r *Registry) Resume(ctx context.Context, criteria ResumeCriteria, current ProjectIdentity) (*Session, error) {
	if criteria.SessionID != "" {
		s, err := r.repo.Get(ctx, criteria.SessionID)
		if err != nil {
			return nil, err
		}
		if s.ProjectID != current.ProjectID && !criteria.AllowCrossProject {
			return nil, cerr.NewError(cerr.ProjectMismatch,
				fmt.Sprintf("session %s belongs to project %s, not current project %s (pass the cross-project override to resume anyway)",
					s.ID, s.ProjectID, current.ProjectID), nil)
		}
		return s, nil
	}

	sessions, err := r.repo.List(ctx, current.ProjectID)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, cerr.NewError(cerr.NotFound,
			fmt.Sprintf("no previous session for project %s", current.ProjectID), nil)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions[0], nil
}

// Touch records progress on a session.
func (r *Registry) Touch(ctx context.Context, s *Session, stage string) error {
	s.CurrentStage = stage
	s.UpdatedAt = time.Now()
	return r.repo.Update(ctx, s)
}

// AppendHistory adds a conversation turn to the session record.
func (r *Registry) AppendHistory(ctx context.Context, s *Session, role, content string) error {
	s.History = append(s.History, HistoryEntry{Role: role, Content: content, At: time.Now()})
	s.UpdatedAt = time.Now()
	return r.repo.Update(ctx, s)
}

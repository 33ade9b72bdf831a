package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-dev/helmsman/internal/session"
	"github.com/helmsman-dev/helmsman/internal/session/repositoryimpl"
	"github.com/helmsman-dev/helmsman/pkg/cerr"
	"github.com/helmsman-dev/helmsman/pkg/storage"
)

func newRegistry(t *testing.T) *session.Registry {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return session.NewRegistry(repositoryimpl.NewYAMLRepository(s))
}

func TestResolveIdentityStable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := session.ResolveIdentity(ctx, dir)
	require.NoError(t, err)
	second, err := session.ResolveIdentity(ctx, dir)
	require.NoError(t, err)

	assert.Equal(t, first.ProjectID, second.ProjectID)
	assert.NotEmpty(t, first.ProjectRoot)

	other, err := session.ResolveIdentity(ctx, t.TempDir())
	require.NoError(t, err)
	assert.NotEqual(t, first.ProjectID, other.ProjectID)
}

func TestResumeRejectsCrossProject(t *testing.T) {
	ctx := context.Background()
	registry := newRegistry(t)

	projectA := session.ProjectIdentity{ProjectID: "path-aaaa", ProjectRoot: "/proj/a"}
	projectB := session.ProjectIdentity{ProjectID: "path-bbbb", ProjectRoot: "/proj/b"}

	sessB, err := registry.Create(ctx, projectB)
	require.NoError(t, err)

	// Naming project B's session from project A is rejected, and the
	// error identifies both projects.
	_, err = registry.Resume(ctx, session.ResumeCriteria{SessionID: sessB.ID}, projectA)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.ProjectMismatch))
	assert.Contains(t, err.Error(), projectA.ProjectID)
	assert.Contains(t, err.Error(), projectB.ProjectID)

	// The explicit override allows it.
	resumed, err := registry.Resume(ctx, session.ResumeCriteria{
		SessionID:         sessB.ID,
		AllowCrossProject: true,
	}, projectA)
	require.NoError(t, err)
	assert.Equal(t, sessB.ID, resumed.ID)
}

func TestResumeMostRecentInProject(t *testing.T) {
	ctx := context.Background()
	registry := newRegistry(t)

	identity := session.ProjectIdentity{ProjectID: "path-cccc", ProjectRoot: "/proj/c"}
	older, err := registry.Create(ctx, identity)
	require.NoError(t, err)
	newer, err := registry.Create(ctx, identity)
	require.NoError(t, err)

	// Touch the second session so it is unambiguously the latest.
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, registry.Touch(ctx, newer, "planning"))

	resumed, err := registry.Resume(ctx, session.ResumeCriteria{}, identity)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, resumed.ID)
	assert.NotEqual(t, older.ID, resumed.ID)

	// Sessions of other projects never leak into the empty-criteria path.
	other := session.ProjectIdentity{ProjectID: "path-dddd", ProjectRoot: "/proj/d"}
	_, err = registry.Resume(ctx, session.ResumeCriteria{}, other)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "items/a.yaml", []byte("title: a")))

	data, err := s.Read(ctx, "items/a.yaml")
	require.NoError(t, err)
	assert.Equal(t, "title: a", string(data))

	exists, err := s.Exists(ctx, "items/a.yaml")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Delete(ctx, "items/a.yaml"))
	exists, err = s.Exists(ctx, "items/a.yaml")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalStorageReadMissing(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = s.Read(context.Background(), "items/missing.yaml")
	assert.True(t, errors.Is(err, ErrNotFound))

	err = s.Delete(context.Background(), "items/missing.yaml")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalStorageListSortedWithinPrefix(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "items/b.yaml", []byte("b")))
	require.NoError(t, s.Write(ctx, "items/a.yaml", []byte("a")))
	require.NoError(t, s.Write(ctx, "sessions/s.yaml", []byte("s")))

	paths, err := s.List(ctx, "items")
	require.NoError(t, err)
	assert.Equal(t, []string{"items/a.yaml", "items/b.yaml"}, paths)

	paths, err = s.List(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestLocalStorageWriteLeavesNoTempFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewLocalStorage(dir)
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "items/a.yaml", []byte("a")))
	require.NoError(t, s.Write(ctx, "items/a.yaml", []byte("a2")))

	entries, err := os.ReadDir(filepath.Join(dir, "items"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.yaml", entries[0].Name())

	paths, err := s.List(ctx, "items")
	require.NoError(t, err)
	assert.Equal(t, []string{"items/a.yaml"}, paths)
}

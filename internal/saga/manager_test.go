package saga

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-dev/helmsman/pkg/cerr"
)

type recordedAction struct {
	name string
	err  error
	log  *[]string
}

func (a recordedAction) Describe() string { return a.name }

func (a recordedAction) Undo(context.Context) error {
	*a.log = append(*a.log, a.name)
	return a.err
}

func TestRollbackReverseOrder(t *testing.T) {
	var log []string
	m := NewManager()
	m.Record(recordedAction{name: "A", log: &log})
	m.Record(recordedAction{name: "B", log: &log})
	m.Record(recordedAction{name: "C", log: &log})

	require.NoError(t, m.Rollback(context.Background()))
	assert.Equal(t, []string{"C", "B", "A"}, log)
	assert.Equal(t, 0, m.Len(), "plan must be consumed by rollback")
}

func TestRollbackBestEffort(t *testing.T) {
	var log []string
	m := NewManager()
	m.Record(recordedAction{name: "A", log: &log})
	m.Record(recordedAction{name: "B", err: errors.New("step broke"), log: &log})
	m.Record(recordedAction{name: "C", log: &log})

	err := m.Rollback(context.Background())
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.RollbackFailure))
	assert.Contains(t, err.Error(), "1 of 3")
	// The failing middle step must not stop the remaining ones.
	assert.Equal(t, []string{"C", "B", "A"}, log)
}

func TestDiscardDropsPlan(t *testing.T) {
	var log []string
	m := NewManager()
	m.Record(recordedAction{name: "A", log: &log})
	m.Discard()

	require.NoError(t, m.Rollback(context.Background()))
	assert.Empty(t, log)
}

func TestFileActions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "file.txt")

	prior := []byte("original content")
	restore := RestoreFile{Path: path, PriorHash: HashContent(prior), Backup: prior}
	require.NoError(t, restore.Undo(context.Background()))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, prior, got)

	del := DeleteFile{Path: path}
	require.NoError(t, del.Undo(context.Background()))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Deleting an already-missing file is not an error.
	require.NoError(t, del.Undo(context.Background()))
}

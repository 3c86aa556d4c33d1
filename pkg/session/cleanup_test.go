package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupSweepDeletesOnlyExpired(t *testing.T) {
	dir := t.TempDir()

	oldPath := filepath.Join(dir, "sess-old.jsonl")
	require.NoError(t, os.WriteFile(oldPath, []byte("{}\n"), 0600))
	past := time.Now().Add(-40 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	freshPath := filepath.Join(dir, "sess-fresh.jsonl")
	require.NoError(t, os.WriteFile(freshPath, []byte("{}\n"), 0600))

	otherPath := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(otherPath, []byte("keep"), 0600))
	require.NoError(t, os.Chtimes(otherPath, past, past))

	c := NewCleanup(dir, 30*24*time.Hour)
	deleted, err := c.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	assert.NoFileExists(t, oldPath)
	assert.FileExists(t, freshPath)
	assert.FileExists(t, otherPath, "non-journal files are never touched")
}

func TestCleanupSweepMissingDir(t *testing.T) {
	c := NewCleanup(filepath.Join(t.TempDir(), "nope"), time.Hour)
	deleted, err := c.Sweep()
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

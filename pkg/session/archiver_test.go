package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveTerminalSweepsOnlyExpiredTerminal(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	old, err := New("sess-old", "p", 8, 5, ModeAuto, nil)
	require.NoError(t, err)
	require.NoError(t, old.SetStatus(StatusCompleted))
	old.UpdatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, st.Save(ctx, old))

	fresh, err := New("sess-fresh", "p", 8, 5, ModeAuto, nil)
	require.NoError(t, err)
	require.NoError(t, fresh.SetStatus(StatusAborted))
	require.NoError(t, st.Save(ctx, fresh))

	waiting, err := New("sess-waiting", "p", 8, 5, ModeManual, nil)
	require.NoError(t, err)
	require.NoError(t, waiting.SetStatus(StatusAwaitingFeedback))
	waiting.UpdatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, st.Save(ctx, waiting))

	archiveDir := filepath.Join(t.TempDir(), "archive")
	a, err := NewArchiver(st, archiveDir, 24*time.Hour)
	require.NoError(t, err)

	n, err := a.ArchiveTerminal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	archived, err := a.ListArchived()
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-old"}, archived)

	// live store keeps the others
	ids, err := st.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sess-fresh", "sess-waiting"}, ids)
}

func TestArchiveNowCompactsAndMoves(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	s := newTestSession(t)
	require.NoError(t, st.Save(ctx, s))
	scoreTurn(t, s, "art-1.png", 9)
	require.NoError(t, st.Save(ctx, s))
	require.NoError(t, s.SetStatus(StatusCompleted))
	require.NoError(t, st.Save(ctx, s))

	a, err := NewArchiver(st, filepath.Join(t.TempDir(), "archive"), 0)
	require.NoError(t, err)
	require.NoError(t, a.ArchiveNow(ctx, s.ID))

	_, err = st.Load(ctx, s.ID)
	require.ErrorIs(t, err, ErrNotFound)

	data, err := os.ReadFile(filepath.Join(a.ArchiveDir(), s.ID+".jsonl"))
	require.NoError(t, err)
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	assert.Equal(t, 1, lines, "archive holds a single compacted snapshot")
}

func TestArchiveNowRejectsActiveSession(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	s := newTestSession(t)
	require.NoError(t, st.Save(ctx, s))

	a, err := NewArchiver(st, filepath.Join(t.TempDir(), "archive"), 0)
	require.NoError(t, err)

	err = a.ArchiveNow(ctx, s.ID)
	require.ErrorContains(t, err, "only terminal")
}

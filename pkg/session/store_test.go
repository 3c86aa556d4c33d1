package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return st
}

func TestStoreSaveLoadRoundtrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	s := newTestSession(t)
	require.NoError(t, st.Save(ctx, s))

	loaded, err := st.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, loaded.ID)
	assert.Equal(t, s.Status, loaded.Status)
	require.Len(t, loaded.Turns, 1)
	assert.Equal(t, s.Turns[0].Prompt, loaded.Turns[0].Prompt)
}

func TestStoreLastSnapshotWins(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	s := newTestSession(t)
	require.NoError(t, st.Save(ctx, s))

	scoreTurn(t, s, "art-1.png", 6)
	require.NoError(t, st.Save(ctx, s))

	_, err := s.AppendTurn("second prompt")
	require.NoError(t, err)
	require.NoError(t, st.Save(ctx, s))

	loaded, err := st.Load(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Turns, 2)
	assert.Equal(t, 6.0, *loaded.Turns[0].Score)
	assert.False(t, loaded.Turns[1].Scored())
}

func TestStoreToleratesTornTail(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	s := newTestSession(t)
	require.NoError(t, st.Save(ctx, s))
	scoreTurn(t, s, "art-1.png", 6)
	require.NoError(t, st.Save(ctx, s))

	// Simulate a crash mid-write: a truncated line at the end of the journal.
	path := filepath.Join(st.Dir(), s.ID+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"v":1,"saved_at":"2026-01-02T15:`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	loaded, err := st.Load(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Turns, 1)
	assert.Equal(t, 6.0, *loaded.Turns[0].Score)
}

func TestStoreSkipsInconsistentSnapshot(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	s := newTestSession(t)
	require.NoError(t, st.Save(ctx, s))

	// A decodable line whose session violates invariants must be skipped.
	path := filepath.Join(st.Dir(), s.ID+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"v":1,"session":{"id":"sess-1","mode":"auto","max_iterations":5,"status":"active","turns":[{"iteration":9,"prompt":"x"}]}}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	loaded, err := st.Load(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Turns, 1)
	assert.Equal(t, 1, loaded.Turns[0].Iteration)
}

func TestStoreRefusesInconsistentSave(t *testing.T) {
	st := newTestStore(t)

	s := newTestSession(t)
	s.Turns[0].Iteration = 7
	err := st.Save(context.Background(), s)
	require.ErrorContains(t, err, "inconsistent")
}

func TestStoreLoadNotFound(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Load(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreValidateID(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"", "../escape", "a/b", "a\\b", "nul\x00l"} {
		_, err := st.Load(ctx, id)
		assert.Error(t, err, "id %q", id)
		assert.NotErrorIs(t, err, ErrNotFound)
	}
}

func TestStoreListAndLoadActive(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	active := newTestSession(t)
	require.NoError(t, st.Save(ctx, active))

	done, err := New("sess-done", "p", 8, 5, ModeAuto, nil)
	require.NoError(t, err)
	require.NoError(t, done.SetStatus(StatusCompleted))
	require.NoError(t, st.Save(ctx, done))

	ids, err := st.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sess-1", "sess-done"}, ids)

	resumable, err := st.LoadActive(ctx)
	require.NoError(t, err)
	require.Len(t, resumable, 1)
	assert.Equal(t, "sess-1", resumable[0].ID)
}

func TestStoreCompact(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	s := newTestSession(t)
	require.NoError(t, st.Save(ctx, s))
	scoreTurn(t, s, "art-1.png", 6)
	require.NoError(t, st.Save(ctx, s))

	require.NoError(t, st.Compact(ctx, s.ID))

	data, err := os.ReadFile(filepath.Join(st.Dir(), s.ID+".jsonl"))
	require.NoError(t, err)
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	assert.Equal(t, 1, lines)

	loaded, err := st.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 6.0, *loaded.Turns[0].Score)
}

func TestStoreDelete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	s := newTestSession(t)
	require.NoError(t, st.Save(ctx, s))
	require.NoError(t, st.Delete(s.ID))

	_, err := st.Load(ctx, s.ID)
	require.ErrorIs(t, err, ErrNotFound)

	// deleting again is a no-op
	require.NoError(t, st.Delete(s.ID))
}

func TestStoreConcurrentSaves(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	const sessions = 8
	done := make(chan error, sessions)
	for i := 0; i < sessions; i++ {
		go func(n int) {
			s, err := New(string(rune('a'+n))+"-sess", "prompt", 8, 5, ModeAuto, nil)
			if err != nil {
				done <- err
				return
			}
			for j := 0; j < 5; j++ {
				if err := st.Save(ctx, s); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}(i)
	}
	for i := 0; i < sessions; i++ {
		require.NoError(t, <-done)
	}

	ids, err := st.List()
	require.NoError(t, err)
	assert.Len(t, ids, sessions)
}

package telemetry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mika/atelier/pkg/engine"
)

func newTestSink(t *testing.T) *SQLiteSink {
	t.Helper()
	sink, err := NewSQLiteSink(filepath.Join(t.TempDir(), "runs.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })
	return sink
}

func TestSQLiteSinkLogTurnAndScore(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	runID, err := sink.LogTurn(ctx, engine.TurnRecord{
		SessionID:   "sess-1",
		Iteration:   1,
		Prompt:      "a lighthouse",
		ArtifactRef: "/artifacts/a.png",
		Metadata:    map[string]string{"generator_model": "gpt-image-1"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	require.NoError(t, sink.LogScore(ctx, runID, 7.5, "sharpen the foreground"))

	var score float64
	var feedback string
	row := sink.db.QueryRow(`SELECT score, feedback FROM runs WHERE run_id = ?`, runID)
	require.NoError(t, row.Scan(&score, &feedback))
	assert.Equal(t, 7.5, score)
	assert.Equal(t, "sharpen the foreground", feedback)
}

func TestSQLiteSinkRunIDsAreUnique(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 1; i <= 5; i++ {
		id, err := sink.LogTurn(ctx, engine.TurnRecord{
			SessionID:   "sess-1",
			Iteration:   i,
			Prompt:      "p",
			ArtifactRef: "a.png",
		})
		require.NoError(t, err)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestSQLiteSinkLogScoreUnknownRun(t *testing.T) {
	sink := newTestSink(t)

	err := sink.LogScore(context.Background(), "no-such-run", 5, "")
	require.ErrorContains(t, err, "not found")
}

func TestSQLiteSinkRequiresPath(t *testing.T) {
	_, err := NewSQLiteSink("", zerolog.Nop())
	require.Error(t, err)
}

func TestNoopSink(t *testing.T) {
	ctx := context.Background()

	runID, err := NoopSink{}.LogTurn(ctx, engine.TurnRecord{SessionID: "s"})
	require.NoError(t, err)
	assert.Empty(t, runID)
	require.NoError(t, NoopSink{}.LogScore(ctx, "x", 1, ""))
}

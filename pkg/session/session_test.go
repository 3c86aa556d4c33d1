package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := New("sess-1", "a red bicycle", 8, 5, ModeAuto, nil)
	require.NoError(t, err)
	return s
}

func scoreTurn(t *testing.T, s *Session, artifact string, score float64) {
	t.Helper()
	require.NoError(t, s.RecordArtifact(artifact, nil))
	require.NoError(t, s.RecordScore(score, "feedback", nil))
}

func TestNew(t *testing.T) {
	s := newTestSession(t)

	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, ModeAuto, s.Mode)
	require.Len(t, s.Turns, 1)
	assert.Equal(t, 1, s.Turns[0].Iteration)
	assert.Equal(t, "a red bicycle", s.Turns[0].Prompt)
	assert.False(t, s.Turns[0].Scored())
	assert.Nil(t, s.BestTurnIndex)
}

func TestNewRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		fn   func() (*Session, error)
	}{
		{"empty id", func() (*Session, error) { return New("", "p", 8, 5, ModeAuto, nil) }},
		{"empty prompt", func() (*Session, error) { return New("s", "", 8, 5, ModeAuto, nil) }},
		{"zero budget", func() (*Session, error) { return New("s", "p", 8, 0, ModeAuto, nil) }},
		{"unknown mode", func() (*Session, error) { return New("s", "p", 8, 5, Mode("hybrid"), nil) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.fn()
			assert.Error(t, err)
		})
	}
}

func TestAppendTurnRequiresScoredCurrent(t *testing.T) {
	s := newTestSession(t)

	_, err := s.AppendTurn("next prompt")
	require.ErrorContains(t, err, "not scored")

	scoreTurn(t, s, "art-1.png", 4)

	turn, err := s.AppendTurn("next prompt")
	require.NoError(t, err)
	assert.Equal(t, 2, turn.Iteration)
	assert.Equal(t, "next prompt", turn.Prompt)
}

func TestAppendTurnEnforcesBudget(t *testing.T) {
	s, err := New("sess-budget", "p", 8, 2, ModeAuto, nil)
	require.NoError(t, err)

	scoreTurn(t, s, "art-1.png", 4)
	_, err = s.AppendTurn("second")
	require.NoError(t, err)
	scoreTurn(t, s, "art-2.png", 5)

	_, err = s.AppendTurn("third")
	require.ErrorContains(t, err, "budget")
}

func TestRecordArtifactGuards(t *testing.T) {
	s := newTestSession(t)

	require.Error(t, s.RecordArtifact("", nil))
	require.NoError(t, s.RecordArtifact("art-1.png", map[string]string{"model": "m"}))
	assert.Equal(t, "m", s.Turns[0].ExternalRefs["model"])

	// set once
	require.Error(t, s.RecordArtifact("art-2.png", nil))
}

func TestRecordScoreSetOnce(t *testing.T) {
	s := newTestSession(t)

	// no artifact yet
	require.Error(t, s.RecordScore(5, "", nil))

	require.NoError(t, s.RecordArtifact("art-1.png", nil))
	require.NoError(t, s.RecordScore(5, "ok", map[string]float64{"composition": 5}))
	require.Error(t, s.RecordScore(6, "", nil))

	require.NotNil(t, s.Turns[0].Score)
	assert.Equal(t, 5.0, *s.Turns[0].Score)
	assert.Equal(t, map[string]float64{"composition": 5}, s.Turns[0].Criteria)
}

func TestBestTurnPrefersEarliestOnTie(t *testing.T) {
	s := newTestSession(t)

	scoreTurn(t, s, "art-1.png", 5)
	_, err := s.AppendTurn("second")
	require.NoError(t, err)
	scoreTurn(t, s, "art-2.png", 5)
	_, err = s.AppendTurn("third")
	require.NoError(t, err)
	scoreTurn(t, s, "art-3.png", 5)

	require.NotNil(t, s.BestTurnIndex)
	assert.Equal(t, 0, *s.BestTurnIndex)
	assert.Equal(t, 1, s.BestTurn().Iteration)
}

func TestBestTurnTracksStrictImprovement(t *testing.T) {
	s := newTestSession(t)

	scoreTurn(t, s, "art-1.png", 4)
	_, err := s.AppendTurn("second")
	require.NoError(t, err)
	scoreTurn(t, s, "art-2.png", 6)
	_, err = s.AppendTurn("third")
	require.NoError(t, err)
	scoreTurn(t, s, "art-3.png", 9)

	require.NotNil(t, s.BestTurnIndex)
	assert.Equal(t, 2, *s.BestTurnIndex)
	assert.Equal(t, 9.0, *s.BestTurn().Score)
}

func TestSetStatusTerminalIsFinal(t *testing.T) {
	s := newTestSession(t)

	require.NoError(t, s.SetStatus(StatusAwaitingFeedback))
	require.NoError(t, s.SetStatus(StatusCompleted))

	err := s.SetStatus(StatusActive)
	require.ErrorContains(t, err, "cannot transition")

	// idempotent self-transition stays allowed
	require.NoError(t, s.SetStatus(StatusCompleted))
}

func TestRecordReasoningNeedsScore(t *testing.T) {
	s := newTestSession(t)

	require.Error(t, s.RecordReasoning("why"))
	scoreTurn(t, s, "art-1.png", 4)
	require.NoError(t, s.RecordReasoning("increase contrast"))
	assert.Equal(t, "increase contrast", s.Turns[0].RefinementReasoning)
}

func TestValidateCatchesCorruption(t *testing.T) {
	s := newTestSession(t)
	scoreTurn(t, s, "art-1.png", 5)
	require.NoError(t, s.Validate())

	t.Run("iteration gap", func(t *testing.T) {
		c := s.Clone()
		c.Turns[0].Iteration = 3
		assert.Error(t, c.Validate())
	})

	t.Run("score without artifact", func(t *testing.T) {
		c := s.Clone()
		c.Turns[0].ArtifactRef = ""
		assert.Error(t, c.Validate())
	})

	t.Run("stale best index", func(t *testing.T) {
		c := s.Clone()
		idx := 5
		c.BestTurnIndex = &idx
		assert.Error(t, c.Validate())
	})

	t.Run("turns over budget", func(t *testing.T) {
		c := s.Clone()
		c.MaxIterations = 0
		assert.Error(t, c.Validate())
	})
}

func TestCloneIsDeep(t *testing.T) {
	s := newTestSession(t)
	scoreTurn(t, s, "art-1.png", 5)

	c := s.Clone()
	*c.Turns[0].Score = 9
	c.Turns[0].Criteria = map[string]float64{"x": 1}
	c.Turns[0].ExternalRefs = map[string]string{"y": "z"}

	assert.Equal(t, 5.0, *s.Turns[0].Score)
	assert.Empty(t, s.Turns[0].Criteria["x"])
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusAborted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusActive.Terminal())
	assert.False(t, StatusAwaitingFeedback.Terminal())
}

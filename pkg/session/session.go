package session

import (
	"fmt"
	"time"
)

// SchemaVersion is the current on-disk snapshot schema version.
const SchemaVersion = 1

// Mode selects how turns get scored.
type Mode string

const (
	// ModeManual suspends the session until a human submits a score.
	ModeManual Mode = "manual"
	// ModeAuto scores turns through the automatic judge.
	ModeAuto Mode = "auto"
)

// Valid reports whether the mode is a known value.
func (m Mode) Valid() bool {
	return m == ModeManual || m == ModeAuto
}

// Status is the session lifecycle state.
type Status string

const (
	StatusActive           Status = "active"
	StatusAwaitingFeedback Status = "awaiting_feedback"
	StatusCompleted        Status = "completed"
	StatusAborted          Status = "aborted"
	StatusFailed           Status = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted || s == StatusFailed
}

// AssetRef points at a reference asset handed to the generator.
type AssetRef struct {
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
}

// Turn records one generate-evaluate(-refine) cycle.
type Turn struct {
	Iteration           int                `json:"iteration"`
	Prompt              string             `json:"prompt"`
	ArtifactRef         string             `json:"artifact_ref,omitempty"`
	Score               *float64           `json:"score,omitempty"`
	Feedback            string             `json:"feedback,omitempty"`
	Criteria            map[string]float64 `json:"criteria,omitempty"`
	RefinementReasoning string             `json:"refinement_reasoning,omitempty"`
	ExternalRefs        map[string]string  `json:"external_refs,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
}

// Scored reports whether the turn has received its score.
func (t *Turn) Scored() bool {
	return t != nil && t.Score != nil
}

// Session is one refinement conversation, bounded by a score target and an
// iteration budget. It is mutated by exactly one owner; turns are append-only.
type Session struct {
	ID            string     `json:"id"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	TargetScore   float64    `json:"target_score"`
	MaxIterations int        `json:"max_iterations"`
	Mode          Mode       `json:"mode"`
	Status        Status     `json:"status"`
	Turns         []Turn     `json:"turns"`
	BestTurnIndex *int       `json:"best_turn_index,omitempty"`
	Assets        []AssetRef `json:"assets,omitempty"`
}

// New creates an active session with a single pending turn carrying the seed
// prompt.
func New(id, seedPrompt string, targetScore float64, maxIterations int, mode Mode, assets []AssetRef) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}
	if seedPrompt == "" {
		return nil, fmt.Errorf("seed prompt cannot be empty")
	}
	if maxIterations <= 0 {
		return nil, fmt.Errorf("max iterations must be positive, got %d", maxIterations)
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown mode: %q", mode)
	}

	now := time.Now().UTC()
	return &Session{
		ID:            id,
		CreatedAt:     now,
		UpdatedAt:     now,
		TargetScore:   targetScore,
		MaxIterations: maxIterations,
		Mode:          mode,
		Status:        StatusActive,
		Turns: []Turn{{
			Iteration: 1,
			Prompt:    seedPrompt,
			CreatedAt: now,
		}},
		Assets: assets,
	}, nil
}

// CurrentTurn returns the most recent turn, or nil for an empty session.
func (s *Session) CurrentTurn() *Turn {
	if len(s.Turns) == 0 {
		return nil
	}
	return &s.Turns[len(s.Turns)-1]
}

// BestTurn returns the highest-scoring turn recorded so far.
func (s *Session) BestTurn() *Turn {
	if s.BestTurnIndex == nil {
		return nil
	}
	return &s.Turns[*s.BestTurnIndex]
}

// AppendTurn adds the next pending turn. The current turn must already be
// scored so iteration numbers stay contiguous and complete.
func (s *Session) AppendTurn(prompt string) (*Turn, error) {
	if s.Status.Terminal() {
		return nil, fmt.Errorf("session %s is %s, no further turns", s.ID, s.Status)
	}
	if prompt == "" {
		return nil, fmt.Errorf("turn prompt cannot be empty")
	}
	if cur := s.CurrentTurn(); cur != nil && !cur.Scored() {
		return nil, fmt.Errorf("turn %d is not scored yet", cur.Iteration)
	}
	if len(s.Turns) >= s.MaxIterations {
		return nil, fmt.Errorf("iteration budget %d exhausted", s.MaxIterations)
	}

	now := time.Now().UTC()
	s.Turns = append(s.Turns, Turn{
		Iteration: len(s.Turns) + 1,
		Prompt:    prompt,
		CreatedAt: now,
	})
	s.UpdatedAt = now
	return s.CurrentTurn(), nil
}

// RecordArtifact sets the artifact reference on the current turn after a
// successful generation.
func (s *Session) RecordArtifact(ref string, metadata map[string]string) error {
	cur := s.CurrentTurn()
	if cur == nil {
		return fmt.Errorf("session %s has no turns", s.ID)
	}
	if cur.ArtifactRef != "" {
		return fmt.Errorf("turn %d already has an artifact", cur.Iteration)
	}
	if ref == "" {
		return fmt.Errorf("artifact ref cannot be empty")
	}
	cur.ArtifactRef = ref
	for k, v := range metadata {
		s.setExternalRef(cur, k, v)
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// SetExternalRef attaches an opaque collaborator identifier to the current turn.
func (s *Session) SetExternalRef(key, value string) error {
	cur := s.CurrentTurn()
	if cur == nil {
		return fmt.Errorf("session %s has no turns", s.ID)
	}
	s.setExternalRef(cur, key, value)
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Session) setExternalRef(t *Turn, key, value string) {
	if t.ExternalRefs == nil {
		t.ExternalRefs = make(map[string]string)
	}
	t.ExternalRefs[key] = value
}

// RecordScore sets the score on the current turn. A score is written at most
// once per turn; the best-turn index prefers the earliest iteration on ties.
func (s *Session) RecordScore(score float64, feedback string, criteria map[string]float64) error {
	cur := s.CurrentTurn()
	if cur == nil {
		return fmt.Errorf("session %s has no turns", s.ID)
	}
	if cur.ArtifactRef == "" {
		return fmt.Errorf("turn %d has no artifact to score", cur.Iteration)
	}
	if cur.Scored() {
		return fmt.Errorf("turn %d is already scored", cur.Iteration)
	}

	cur.Score = &score
	cur.Feedback = feedback
	cur.Criteria = criteria

	idx := len(s.Turns) - 1
	if s.BestTurnIndex == nil || score > *s.Turns[*s.BestTurnIndex].Score {
		s.BestTurnIndex = &idx
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordReasoning stores the refiner's explanation of how the next prompt was
// derived from the current (scored) turn.
func (s *Session) RecordReasoning(reasoning string) error {
	cur := s.CurrentTurn()
	if cur == nil {
		return fmt.Errorf("session %s has no turns", s.ID)
	}
	if !cur.Scored() {
		return fmt.Errorf("turn %d is not scored yet", cur.Iteration)
	}
	cur.RefinementReasoning = reasoning
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// SetStatus transitions the session status. Terminal statuses are final.
func (s *Session) SetStatus(status Status) error {
	if s.Status == status {
		return nil
	}
	if s.Status.Terminal() {
		return fmt.Errorf("session %s is %s and cannot transition to %s", s.ID, s.Status, status)
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Validate checks the structural invariants. It is run on every load so a
// damaged snapshot is rejected instead of resumed.
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if !s.Mode.Valid() {
		return fmt.Errorf("unknown mode: %q", s.Mode)
	}
	if s.MaxIterations <= 0 {
		return fmt.Errorf("max iterations must be positive")
	}
	if len(s.Turns) > s.MaxIterations {
		return fmt.Errorf("session %s has %d turns, budget is %d", s.ID, len(s.Turns), s.MaxIterations)
	}

	var bestIdx *int
	for i := range s.Turns {
		t := &s.Turns[i]
		if t.Iteration != i+1 {
			return fmt.Errorf("turn %d has iteration %d", i, t.Iteration)
		}
		if t.Scored() && t.ArtifactRef == "" {
			return fmt.Errorf("turn %d is scored without an artifact", t.Iteration)
		}
		if i < len(s.Turns)-1 && !t.Scored() {
			return fmt.Errorf("turn %d is unscored but not the last turn", t.Iteration)
		}
		if t.Scored() && (bestIdx == nil || *t.Score > *s.Turns[*bestIdx].Score) {
			idx := i
			bestIdx = &idx
		}
	}

	switch {
	case bestIdx == nil && s.BestTurnIndex != nil:
		return fmt.Errorf("best turn index set on session with no scored turns")
	case bestIdx != nil && (s.BestTurnIndex == nil || *s.BestTurnIndex != *bestIdx):
		return fmt.Errorf("best turn index is inconsistent with turn scores")
	}
	return nil
}

// Clone returns a deep copy safe to hand to callers.
func (s *Session) Clone() *Session {
	out := *s
	out.Turns = make([]Turn, len(s.Turns))
	for i, t := range s.Turns {
		if t.Score != nil {
			score := *t.Score
			t.Score = &score
		}
		if t.Criteria != nil {
			crit := make(map[string]float64, len(t.Criteria))
			for k, v := range t.Criteria {
				crit[k] = v
			}
			t.Criteria = crit
		}
		if t.ExternalRefs != nil {
			refs := make(map[string]string, len(t.ExternalRefs))
			for k, v := range t.ExternalRefs {
				refs[k] = v
			}
			t.ExternalRefs = refs
		}
		out.Turns[i] = t
	}
	if s.BestTurnIndex != nil {
		idx := *s.BestTurnIndex
		out.BestTurnIndex = &idx
	}
	if s.Assets != nil {
		out.Assets = append([]AssetRef(nil), s.Assets...)
	}
	return &out
}

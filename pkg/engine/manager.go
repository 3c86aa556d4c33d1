package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mika/atelier/internal/tracing"
	"github.com/mika/atelier/pkg/session"
)

// ManagerConfig wires a Manager with its store, ports, and limits.
type ManagerConfig struct {
	Store   *session.Store
	Ports   Ports
	Options Options

	// MaxConcurrent bounds how many sessions may run an external call at
	// once. This is admission control for the shared model endpoints, not
	// a correctness requirement.
	MaxConcurrent int

	Logger zerolog.Logger
}

// Manager owns one engine per active session and runs them independently.
// Sessions share no mutable state; all cross-session coordination is the
// concurrency limit.
type Manager struct {
	store   *session.Store
	ports   Ports
	opts    Options
	logger  zerolog.Logger
	sem     chan struct{}
	engines map[string]*Engine
	mu      sync.Mutex
}

// CreateParams are the immutable knobs fixed at session creation.
type CreateParams struct {
	SeedPrompt    string
	TargetScore   float64
	MaxIterations int
	Mode          session.Mode
	Assets        []session.AssetRef
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Ports.Generator == nil {
		return nil, fmt.Errorf("generation port is required")
	}
	if cfg.Ports.Refiner == nil {
		return nil, fmt.Errorf("refinement port is required")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Options.Builder == nil {
		cfg.Options.Builder = NoopBuilder{}
	}

	return &Manager{
		store:   cfg.Store,
		ports:   cfg.Ports,
		opts:    cfg.Options,
		logger:  cfg.Logger,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		engines: make(map[string]*Engine),
	}, nil
}

// CreateSession persists a new session with a pending first turn carrying the
// constraint-injected seed prompt.
func (m *Manager) CreateSession(ctx context.Context, params CreateParams) (*session.Session, error) {
	bounds := m.opts.Bounds
	if bounds == (ScoreBounds{}) {
		bounds = DefaultScoreBounds()
	}
	if err := bounds.Check(params.TargetScore); err != nil {
		return nil, fmt.Errorf("target score invalid: %w", err)
	}
	if params.Mode == session.ModeAuto && m.ports.Evaluator == nil {
		return nil, fmt.Errorf("automatic sessions need an evaluation port")
	}

	id := uuid.New().String()
	seed := m.opts.Builder.Compose(params.SeedPrompt)

	s, err := session.New(id, seed, params.TargetScore, params.MaxIterations, params.Mode, params.Assets)
	if err != nil {
		return nil, err
	}
	if err := m.store.Save(ctx, s); err != nil {
		return nil, err
	}

	eng, err := NewEngine(s, m.store, m.ports, m.opts)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.engines[id] = eng
	m.mu.Unlock()

	m.logger.Info().
		Str("session_id", id).
		Str("mode", string(params.Mode)).
		Float64("target_score", params.TargetScore).
		Int("max_iterations", params.MaxIterations).
		Msg("Session created")

	return s.Clone(), nil
}

// engineFor returns the engine owning a session, loading it from the store
// the first time it is touched after a restart.
func (m *Manager) engineFor(ctx context.Context, id string) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if eng, ok := m.engines[id]; ok {
		return eng, nil
	}

	s, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	eng, err := NewEngine(s, m.store, m.ports, m.opts)
	if err != nil {
		return nil, err
	}
	m.engines[id] = eng
	return eng, nil
}

func (m *Manager) acquire(ctx context.Context) error {
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) release() {
	<-m.sem
}

// Advance performs one forward transition on a session.
func (m *Manager) Advance(ctx context.Context, id string) (*session.Session, error) {
	eng, err := m.engineFor(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	return eng.Advance(ctx)
}

// Run drives a session until it reaches a terminal status, suspends for
// feedback, or the context is cancelled.
func (m *Manager) Run(ctx context.Context, id string) (*session.Session, error) {
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}

	for {
		s, err := m.Advance(ctx, id)
		if err != nil {
			return s, err
		}
		if s.Status.Terminal() || s.Status == session.StatusAwaitingFeedback {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		default:
		}
	}
}

// SubmitFeedback scores the current turn of a suspended session and continues
// the state machine synchronously.
func (m *Manager) SubmitFeedback(ctx context.Context, id string, score float64, feedback string) (*session.Session, error) {
	eng, err := m.engineFor(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	return eng.SubmitFeedback(ctx, score, feedback)
}

// SubmitPrompt supplies the next prompt for a session suspended after a
// refinement failure.
func (m *Manager) SubmitPrompt(ctx context.Context, id string, prompt string) (*session.Session, error) {
	eng, err := m.engineFor(ctx, id)
	if err != nil {
		return nil, err
	}
	return eng.SubmitPrompt(ctx, prompt)
}

// Abort requests an abort. It returns the last persisted state; the abort
// itself lands at the session's next checkpoint if work is in flight.
func (m *Manager) Abort(ctx context.Context, id string) (*session.Session, error) {
	eng, err := m.engineFor(ctx, id)
	if err != nil {
		return nil, err
	}
	if s := eng.RequestAbort(ctx); s != nil {
		return s, nil
	}
	return m.store.Load(ctx, id)
}

// Get returns a session's current state.
func (m *Manager) Get(ctx context.Context, id string) (*session.Session, error) {
	m.mu.Lock()
	eng, ok := m.engines[id]
	m.mu.Unlock()
	if ok {
		return eng.Session(), nil
	}
	return m.store.Load(ctx, id)
}

// List returns all stored session ids.
func (m *Manager) List() ([]string, error) {
	return m.store.List()
}

// Recover loads every non-terminal session and takes ownership of each.
// Resuming is just calling Advance (or waiting for feedback): the resume
// point is derived from the persisted shape, so replaying recovery on an
// already consistent session is a no-op.
func (m *Manager) Recover(ctx context.Context) ([]*session.Session, error) {
	active, err := m.store.LoadActive(ctx)
	if err != nil {
		return nil, err
	}

	var recovered []*session.Session
	for _, s := range active {
		m.mu.Lock()
		_, owned := m.engines[s.ID]
		if !owned {
			eng, err := NewEngine(s, m.store, m.ports, m.opts)
			if err != nil {
				m.mu.Unlock()
				m.logger.Warn().Str("session_id", s.ID).Err(err).Msg("Cannot resume session")
				continue
			}
			m.engines[s.ID] = eng
		}
		m.mu.Unlock()
		recovered = append(recovered, s.Clone())
	}

	if len(recovered) > 0 {
		m.logger.Info().Int("sessions", len(recovered)).Msg("Recovered non-terminal sessions")
	}
	return recovered, nil
}

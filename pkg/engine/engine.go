package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mika/atelier/internal/observability"
	"github.com/mika/atelier/internal/tracing"
	"github.com/mika/atelier/pkg/session"
)

// ExternalRefTelemetryRun is the turn external-ref key holding the telemetry
// run id.
const ExternalRefTelemetryRun = "telemetry_run_id"

// ErrNotAwaitingFeedback is returned when feedback arrives for a session that
// is not suspended on it.
var ErrNotAwaitingFeedback = fmt.Errorf("session is not awaiting feedback")

// ScoreBounds is the fixed range every score must fall in, regardless of
// whether a human or the judge produced it.
type ScoreBounds struct {
	Min float64
	Max float64
}

// DefaultScoreBounds is the 0-10 rubric range.
func DefaultScoreBounds() ScoreBounds {
	return ScoreBounds{Min: 0, Max: 10}
}

// Check rejects scores outside the bounds.
func (b ScoreBounds) Check(score float64) error {
	if b.Min == 0 && b.Max == 0 {
		b = DefaultScoreBounds()
	}
	if score < b.Min || score > b.Max {
		return fmt.Errorf("score %.2f outside bounds [%.1f, %.1f]", score, b.Min, b.Max)
	}
	return nil
}

// Ports bundles the external collaborators one engine drives.
type Ports struct {
	Generator Generator
	Evaluator Evaluator
	Refiner   Refiner
	Telemetry TelemetrySink
}

// Options tunes engine behavior shared across sessions.
type Options struct {
	Retry   RetryPolicy
	Bounds  ScoreBounds
	Builder PromptBuilder
	Logger  zerolog.Logger
}

// Engine drives a single session through generate-evaluate-refine cycles.
// It is the session's only writer; every completed sub-step is persisted
// before the engine proceeds, so a crash loses at most the in-flight call.
type Engine struct {
	mu    sync.Mutex
	sess  *session.Session
	store *session.Store
	ports Ports

	builder PromptBuilder
	retry   RetryPolicy
	bounds  ScoreBounds
	logger  zerolog.Logger

	abortRequested atomic.Bool
}

// NewEngine wraps a loaded or freshly created session. The evaluator is only
// required for automatic sessions; manual sessions score through
// SubmitFeedback. The telemetry sink is optional.
func NewEngine(s *session.Session, store *session.Store, ports Ports, opts Options) (*Engine, error) {
	if s == nil {
		return nil, fmt.Errorf("session is required")
	}
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if ports.Generator == nil {
		return nil, fmt.Errorf("generation port is required")
	}
	if ports.Refiner == nil {
		return nil, fmt.Errorf("refinement port is required")
	}
	if s.Mode == session.ModeAuto && ports.Evaluator == nil {
		return nil, fmt.Errorf("evaluation port is required for automatic sessions")
	}

	builder := opts.Builder
	if builder == nil {
		builder = NoopBuilder{}
	}

	return &Engine{
		sess:    s,
		store:   store,
		ports:   ports,
		builder: builder,
		retry:   opts.Retry.normalized(),
		bounds:  opts.Bounds,
		logger:  opts.Logger,
	}, nil
}

// Session returns a copy of the current session state.
func (e *Engine) Session() *session.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.Clone()
}

// ID returns the owned session's id.
func (e *Engine) ID() string {
	return e.sess.ID
}

// Advance performs one forward transition's worth of external work and
// persists before returning. Terminal and awaiting-feedback sessions are
// returned unchanged. The resume point is derived purely from the persisted
// session shape, which makes crash recovery a replay of this method.
func (e *Engine) Advance(ctx context.Context) (*session.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx = tracing.WithSessionID(ctx, e.sess.ID)
	ctx, span := tracing.StartSpan(
		ctx,
		"atelier.engine",
		"engine.advance",
		attribute.String("session_id", e.sess.ID),
		attribute.String("status", string(e.sess.Status)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, e.logger).With().Str("session_id", e.sess.ID).Logger()

	if e.sess.Status.Terminal() {
		observability.RecordAdvance("noop")
		return e.sess.Clone(), nil
	}
	if e.applyAbort(ctx, logger) {
		return e.sess.Clone(), nil
	}
	if e.sess.Status == session.StatusAwaitingFeedback {
		observability.RecordAdvance("noop")
		return e.sess.Clone(), nil
	}

	var err error
	cur := e.sess.CurrentTurn()
	switch {
	case cur == nil:
		err = fmt.Errorf("session %s has no turns", e.sess.ID)
	case cur.ArtifactRef == "":
		err = e.generating(ctx, logger)
	case !cur.Scored():
		if e.sess.Mode == session.ModeManual {
			err = e.suspendForFeedback(ctx, logger)
		} else {
			err = e.evaluating(ctx, logger)
		}
	default:
		err = e.refineOrStop(ctx, logger)
	}

	if !e.sess.Status.Terminal() {
		e.applyAbort(ctx, logger)
	}
	return e.sess.Clone(), err
}

// generating runs the generation port for the pending turn's prompt.
func (e *Engine) generating(ctx context.Context, logger zerolog.Logger) error {
	observability.RecordAdvance("generate")
	cur := e.sess.CurrentTurn()

	logger.Info().Int("iteration", cur.Iteration).Msg("Generating artifact")

	res, err := callWithRetry(ctx, logger, e.retry, "generate", func(ctx context.Context) (*GenerationResult, error) {
		return e.ports.Generator.Generate(ctx, cur.Prompt, e.sess.Assets)
	})
	if err != nil {
		return e.fail(ctx, logger, err)
	}
	if res == nil || res.ArtifactRef == "" {
		return e.fail(ctx, logger, Validation("generate", fmt.Errorf("generator returned no artifact reference")))
	}

	if err := e.sess.RecordArtifact(res.ArtifactRef, res.Metadata); err != nil {
		return err
	}
	e.logTurnTelemetry(ctx, logger, res)

	// Manual sessions have no evaluation call to make: completing the
	// generation is what hands the turn to a human.
	if e.sess.Mode == session.ModeManual {
		if err := e.sess.SetStatus(session.StatusAwaitingFeedback); err != nil {
			return err
		}
		logger.Info().Int("iteration", cur.Iteration).Msg("Suspended for manual feedback")
	}

	return e.persist(ctx)
}

func (e *Engine) logTurnTelemetry(ctx context.Context, logger zerolog.Logger, res *GenerationResult) {
	if e.ports.Telemetry == nil {
		return
	}
	cur := e.sess.CurrentTurn()
	runID, err := e.ports.Telemetry.LogTurn(ctx, TurnRecord{
		SessionID:   e.sess.ID,
		Iteration:   cur.Iteration,
		Prompt:      cur.Prompt,
		ArtifactRef: res.ArtifactRef,
		Metadata:    res.Metadata,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Telemetry log failed; continuing")
		return
	}
	if err := e.sess.SetExternalRef(ExternalRefTelemetryRun, runID); err != nil {
		logger.Warn().Err(err).Msg("Failed to record telemetry run id")
	}
}

func (e *Engine) logScoreTelemetry(ctx context.Context, logger zerolog.Logger, score float64, feedback string) {
	if e.ports.Telemetry == nil {
		return
	}
	cur := e.sess.CurrentTurn()
	runID := cur.ExternalRefs[ExternalRefTelemetryRun]
	if runID == "" {
		return
	}
	if err := e.ports.Telemetry.LogScore(ctx, runID, score, feedback); err != nil {
		logger.Warn().Err(err).Msg("Telemetry score log failed; continuing")
	}
}

// suspendForFeedback parks a manual session whose generated turn has not been
// scored yet. Normally set in the same advance as generation; this path only
// runs when recovering from a crash in that window.
func (e *Engine) suspendForFeedback(ctx context.Context, logger zerolog.Logger) error {
	observability.RecordAdvance("suspend")
	if err := e.sess.SetStatus(session.StatusAwaitingFeedback); err != nil {
		return err
	}
	logger.Info().Msg("Suspended for manual feedback")
	return e.persist(ctx)
}

// evaluating runs the automatic judge for the generated turn, records the
// verdict, and applies the termination check.
func (e *Engine) evaluating(ctx context.Context, logger zerolog.Logger) error {
	observability.RecordAdvance("evaluate")
	cur := e.sess.CurrentTurn()

	logger.Info().Int("iteration", cur.Iteration).Msg("Evaluating artifact")

	res, err := callWithRetry(ctx, logger, e.retry, "evaluate", func(ctx context.Context) (*EvaluationResult, error) {
		return e.ports.Evaluator.Evaluate(ctx, cur.ArtifactRef, cur.Prompt)
	})
	if err != nil {
		return e.fail(ctx, logger, err)
	}
	if res == nil {
		return e.fail(ctx, logger, Validation("evaluate", fmt.Errorf("evaluator returned no verdict")))
	}
	if err := e.bounds.Check(res.Score); err != nil {
		return e.fail(ctx, logger, Validation("evaluate", err))
	}

	if err := e.sess.RecordScore(res.Score, res.Feedback, res.Criteria); err != nil {
		return err
	}
	e.logScoreTelemetry(ctx, logger, res.Score, res.Feedback)

	logger.Info().
		Int("iteration", cur.Iteration).
		Float64("score", res.Score).
		Msg("Turn scored")

	e.settleIfTerminal(logger)
	return e.persist(ctx)
}

// terminalOutcome returns the terminal status the scored current turn earns,
// or "" when the session should continue.
func (e *Engine) terminalOutcome() session.Status {
	cur := e.sess.CurrentTurn()
	if cur == nil || !cur.Scored() {
		return ""
	}
	if *cur.Score >= e.sess.TargetScore {
		return session.StatusCompleted
	}
	// Budget exhaustion is a normal outcome, not a failure; the best turn
	// so far stays reachable through BestTurnIndex.
	if cur.Iteration >= e.sess.MaxIterations {
		return session.StatusAborted
	}
	return ""
}

func (e *Engine) settleIfTerminal(logger zerolog.Logger) bool {
	outcome := e.terminalOutcome()
	if outcome == "" {
		return false
	}
	if err := e.sess.SetStatus(outcome); err != nil {
		logger.Error().Err(err).Msg("Failed to settle terminal status")
		return false
	}
	observability.RecordSessionOutcome(string(outcome))
	logger.Info().Str("outcome", string(outcome)).Msg("Session reached terminal status")
	return true
}

// refineOrStop re-runs the termination check (covering a crash after scoring)
// and otherwise derives the next prompt from history. A refinement failure
// never fails the session: the scored turn is kept and the session suspends
// for manual intervention.
func (e *Engine) refineOrStop(ctx context.Context, logger zerolog.Logger) error {
	if e.settleIfTerminal(logger) {
		observability.RecordAdvance("terminate")
		return e.persist(ctx)
	}
	observability.RecordAdvance("refine")

	cur := e.sess.CurrentTurn()
	history := e.sess.Clone().Turns

	logger.Info().Int("iteration", cur.Iteration).Msg("Refining prompt")

	res, err := callWithRetry(ctx, logger, e.retry, "refine", func(ctx context.Context) (*RefinementResult, error) {
		return e.ports.Refiner.Refine(ctx, history, *cur.Score, cur.Feedback)
	})
	if err == nil && (res == nil || res.NewPrompt == "") {
		err = Validation("refine", fmt.Errorf("refiner returned an empty prompt"))
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Refinement failed; suspending for manual intervention")
		if serr := e.sess.SetStatus(session.StatusAwaitingFeedback); serr != nil {
			return serr
		}
		return e.persist(ctx)
	}

	if err := e.sess.RecordReasoning(res.Reasoning); err != nil {
		return err
	}
	next := e.builder.Compose(res.NewPrompt)
	if _, err := e.sess.AppendTurn(next); err != nil {
		return err
	}

	logger.Info().Int("iteration", e.sess.CurrentTurn().Iteration).Msg("Next turn prepared")
	return e.persist(ctx)
}

// SubmitFeedback scores the current turn of a session suspended on manual
// feedback and synchronously continues the state machine: termination check,
// then refinement.
func (e *Engine) SubmitFeedback(ctx context.Context, score float64, feedback string) (*session.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx = tracing.WithSessionID(ctx, e.sess.ID)
	ctx, span := tracing.StartSpan(
		ctx,
		"atelier.engine",
		"engine.submit_feedback",
		attribute.String("session_id", e.sess.ID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, e.logger).With().Str("session_id", e.sess.ID).Logger()

	if e.sess.Status != session.StatusAwaitingFeedback {
		return e.sess.Clone(), fmt.Errorf("%w: session %s is %s", ErrNotAwaitingFeedback, e.sess.ID, e.sess.Status)
	}
	cur := e.sess.CurrentTurn()
	if cur.Scored() {
		return e.sess.Clone(), fmt.Errorf("turn %d is already scored; submit the next prompt instead", cur.Iteration)
	}
	if err := e.bounds.Check(score); err != nil {
		return e.sess.Clone(), Validation("feedback", err)
	}

	if err := e.sess.RecordScore(score, feedback, nil); err != nil {
		return e.sess.Clone(), err
	}
	if err := e.sess.SetStatus(session.StatusActive); err != nil {
		return e.sess.Clone(), err
	}
	e.logScoreTelemetry(ctx, logger, score, feedback)
	observability.RecordFeedback()

	logger.Info().
		Int("iteration", cur.Iteration).
		Float64("score", score).
		Msg("Manual feedback recorded")

	if err := e.persist(ctx); err != nil {
		return e.sess.Clone(), err
	}

	err := e.refineOrStop(ctx, logger)
	if !e.sess.Status.Terminal() {
		e.applyAbort(ctx, logger)
	}
	return e.sess.Clone(), err
}

// SubmitPrompt supplies the next prompt by hand. It is the escape hatch for a
// session suspended after a refinement failure, where the current turn is
// already scored.
func (e *Engine) SubmitPrompt(ctx context.Context, prompt string) (*session.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx = tracing.WithSessionID(ctx, e.sess.ID)
	logger := tracing.LoggerFromContext(ctx, e.logger).With().Str("session_id", e.sess.ID).Logger()

	if e.sess.Status != session.StatusAwaitingFeedback {
		return e.sess.Clone(), fmt.Errorf("%w: session %s is %s", ErrNotAwaitingFeedback, e.sess.ID, e.sess.Status)
	}
	cur := e.sess.CurrentTurn()
	if !cur.Scored() {
		return e.sess.Clone(), fmt.Errorf("turn %d still needs a score; submit feedback instead", cur.Iteration)
	}
	if prompt == "" {
		return e.sess.Clone(), fmt.Errorf("prompt cannot be empty")
	}

	if _, err := e.sess.AppendTurn(e.builder.Compose(prompt)); err != nil {
		return e.sess.Clone(), err
	}
	if err := e.sess.SetStatus(session.StatusActive); err != nil {
		return e.sess.Clone(), err
	}

	logger.Info().Int("iteration", e.sess.CurrentTurn().Iteration).Msg("Manual prompt accepted")

	if err := e.persist(ctx); err != nil {
		return e.sess.Clone(), err
	}
	return e.sess.Clone(), nil
}

// RequestAbort flags the session for abort. When no work is in flight the
// abort applies immediately; otherwise it is applied at the next checkpoint,
// after the in-flight call returns. The returned session is nil when the
// abort could not be applied synchronously.
func (e *Engine) RequestAbort(ctx context.Context) *session.Session {
	e.abortRequested.Store(true)

	if e.mu.TryLock() {
		defer e.mu.Unlock()
		logger := tracing.LoggerFromContext(ctx, e.logger).With().Str("session_id", e.sess.ID).Logger()
		e.applyAbort(ctx, logger)
		return e.sess.Clone()
	}
	return nil
}

// applyAbort transitions to ABORTED if an abort was requested. Caller holds
// the engine lock.
func (e *Engine) applyAbort(ctx context.Context, logger zerolog.Logger) bool {
	if !e.abortRequested.Load() || e.sess.Status.Terminal() {
		return false
	}
	if err := e.sess.SetStatus(session.StatusAborted); err != nil {
		logger.Error().Err(err).Msg("Failed to apply abort")
		return false
	}
	observability.RecordSessionOutcome(string(session.StatusAborted))
	logger.Info().Msg("Session aborted at checkpoint")
	if err := e.persist(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to persist abort")
	}
	return true
}

// fail moves the session to FAILED after an exhausted-retry or non-retryable
// sub-step failure. The last consistent turn stays in history and the best
// turn index keeps pointing at the best fully scored turn.
func (e *Engine) fail(ctx context.Context, logger zerolog.Logger, cause error) error {
	logger.Error().Err(cause).Msg("Sub-step failed; session failed")
	if err := e.sess.SetStatus(session.StatusFailed); err != nil {
		return fmt.Errorf("%w (and status transition failed: %v)", cause, err)
	}
	observability.RecordSessionOutcome(string(session.StatusFailed))
	if err := e.persist(ctx); err != nil {
		return fmt.Errorf("%w (and persisting failure status failed: %v)", cause, err)
	}
	return cause
}

func (e *Engine) persist(ctx context.Context) error {
	return e.store.Save(ctx, e.sess)
}

package engine

import (
	"context"

	"github.com/mika/atelier/pkg/session"
)

// GenerationResult is what the generation port hands back for one prompt.
type GenerationResult struct {
	ArtifactRef string
	Metadata    map[string]string
}

// Generator produces a visual artifact from a prompt and reference assets.
type Generator interface {
	Generate(ctx context.Context, prompt string, assets []session.AssetRef) (*GenerationResult, error)
}

// EvaluationResult is a scored verdict for one artifact.
type EvaluationResult struct {
	Score    float64
	Feedback string
	Criteria map[string]float64
}

// Evaluator scores an artifact against the prompt that produced it. Only the
// automatic mode has an implementation; manual scoring is realized as the
// engine's awaiting-feedback suspension plus SubmitFeedback.
type Evaluator interface {
	Evaluate(ctx context.Context, artifactRef, prompt string) (*EvaluationResult, error)
}

// RefinementResult carries the rewritten prompt and the rationale behind it.
type RefinementResult struct {
	NewPrompt string
	Reasoning string
}

// Refiner derives the next prompt from the turn history and the last verdict.
// Implementations must treat the history as read-only.
type Refiner interface {
	Refine(ctx context.Context, history []session.Turn, lastScore float64, lastFeedback string) (*RefinementResult, error)
}

// TurnRecord is the payload handed to the telemetry sink after generation.
type TurnRecord struct {
	SessionID   string
	Iteration   int
	Prompt      string
	ArtifactRef string
	Metadata    map[string]string
}

// TelemetrySink records experiment runs. Sink failures never block or fail an
// engine transition; the engine logs and moves on.
type TelemetrySink interface {
	LogTurn(ctx context.Context, rec TurnRecord) (runID string, err error)
	LogScore(ctx context.Context, runID string, score float64, feedback string) error
}

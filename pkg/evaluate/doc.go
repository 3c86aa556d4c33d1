// Package evaluate implements the automatic evaluation port with an
// Anthropic judge model.
//
// The manual path has no implementation here: it is realized as the engine's
// awaiting-feedback suspension plus SubmitFeedback, with the same score
// bounds enforced so best-turn selection never depends on which mode
// produced a score.
package evaluate

// Package generate implements the generation port against the OpenAI image
// API.
//
// Invariants:
// - Artifacts are written to disk before the reference is returned.
// - API errors are classified into the engine's failure taxonomy; the
//   adapter itself never retries.
package generate

// Package refine implements the prompt-rewriting port with an Anthropic
// model. The adapter validates the rewriter's JSON output at the boundary;
// re-injecting mandatory prompt constraints stays the engine's job, since the
// rewriter is not trusted to preserve them.
package refine

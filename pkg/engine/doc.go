// Package engine drives refinement sessions through repeated
// generate-evaluate-refine cycles until a score target is met or the
// iteration budget runs out.
//
// Invariants:
// - Each session has exactly one owning Engine; all mutation is single-writer.
// - Every completed sub-step is persisted before the engine proceeds, so a
//   crash loses at most the in-flight external call.
// - Advance performs at most one external call per invocation and derives the
//   resume point from the persisted session shape alone.
// - Manual sessions never acquire a score except through SubmitFeedback.
// - Refinement failures suspend the session for manual intervention; they
//   never discard a generated-and-scored turn.
//
// Usage:
//
//	mgr, _ := engine.NewManager(engine.ManagerConfig{Store: st, Ports: ports})
//	s, _ := mgr.CreateSession(ctx, engine.CreateParams{
//		SeedPrompt:    "a fox in watercolor",
//		TargetScore:   8,
//		MaxIterations: 5,
//		Mode:          session.ModeAuto,
//	})
//	s, _ = mgr.Run(ctx, s.ID)
package engine

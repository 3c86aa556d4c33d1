// Package session holds the refinement conversation data model and its
// durable store.
//
// Invariants:
// - Turn iterations are 1-based, contiguous, and append-only.
// - A turn's score is written at most once; the best-turn index tracks the
//   maximum score with ties broken by earliest iteration.
// - Terminal statuses are final.
// - Every checkpoint appends a full fsynced snapshot; loading keeps the last
//   decodable, consistent snapshot, so recovery tolerates torn writes.
//
// Usage:
//
//	st, _ := session.NewStore("/tmp/atelier/sessions")
//	s, _ := session.New("s1", "a fox in watercolor", 8, 5, session.ModeAuto, nil)
//	_ = st.Save(ctx, s)
//	s, _ = st.Load(ctx, "s1")
package session

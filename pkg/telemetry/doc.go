// Package telemetry records generation runs and their verdicts in a local
// SQLite database so iteration history can be queried across sessions.
//
// The engine calls the sink after each generation and each scoring step. Sink
// failures are logged by the caller and never affect a session transition.
package telemetry

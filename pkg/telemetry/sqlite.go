package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/mika/atelier/pkg/engine"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	iteration    INTEGER NOT NULL,
	prompt       TEXT NOT NULL,
	artifact_ref TEXT NOT NULL,
	score        REAL,
	feedback     TEXT,
	metadata     TEXT,
	created_at   TIMESTAMP NOT NULL,
	scored_at    TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id, iteration);
`

// SQLiteSink implements engine.TelemetrySink on a local SQLite database.
// The engine treats it as fire-and-forget; errors here are returned for
// logging but never fail a transition.
type SQLiteSink struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteSink opens (creating if needed) the run database at path.
func NewSQLiteSink(path string, logger zerolog.Logger) (*SQLiteSink, error) {
	if path == "" {
		return nil, fmt.Errorf("telemetry database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize telemetry schema: %w", err)
	}

	logger.Info().Str("path", path).Msg("Telemetry sink initialized")
	return &SQLiteSink{db: db, logger: logger}, nil
}

// LogTurn records a generated turn and returns its run id.
func (s *SQLiteSink) LogTurn(ctx context.Context, rec engine.TurnRecord) (string, error) {
	runID, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate run id: %w", err)
	}

	var metadata []byte
	if rec.Metadata != nil {
		metadata, err = json.Marshal(rec.Metadata)
		if err != nil {
			return "", fmt.Errorf("failed to marshal run metadata: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, session_id, iteration, prompt, artifact_ref, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, rec.SessionID, rec.Iteration, rec.Prompt, rec.ArtifactRef, string(metadata), time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	s.logger.Debug().
		Str("run_id", runID).
		Str("session_id", rec.SessionID).
		Int("iteration", rec.Iteration).
		Msg("Run logged")

	return runID, nil
}

// LogScore attaches the verdict to a previously logged run.
func (s *SQLiteSink) LogScore(ctx context.Context, runID string, score float64, feedback string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET score = ?, feedback = ?, scored_at = ? WHERE run_id = ?`,
		score, feedback, time.Now().UTC(), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// NoopSink discards all telemetry.
type NoopSink struct{}

// LogTurn returns an empty run id.
func (NoopSink) LogTurn(context.Context, engine.TurnRecord) (string, error) {
	return "", nil
}

// LogScore does nothing.
func (NoopSink) LogScore(context.Context, string, float64, string) error {
	return nil
}

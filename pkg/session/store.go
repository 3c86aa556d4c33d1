package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mika/atelier/internal/observability"
	"github.com/mika/atelier/internal/tracing"
)

// ErrNotFound is returned when no snapshot exists for a session id.
var ErrNotFound = fmt.Errorf("session not found")

// snapshot is one line of a session journal: a full copy of the session at a
// checkpoint. Loading folds the journal by keeping the last decodable line,
// so a torn final write falls back to the previous consistent snapshot.
type snapshot struct {
	Version int       `json:"v"`
	SavedAt time.Time `json:"saved_at"`
	Session *Session  `json:"session"`
}

// Store persists sessions as append-only JSONL snapshot journals, one file
// per session id. Writes to distinct sessions never contend; writes to the
// same session are serialized by a per-id lock.
type Store struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// NewStore creates a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	observability.EnsureRegistered()

	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".atelier", "sessions")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	st := &Store{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
	}

	log.Info().Str("dir", dir).Msg("Session store initialized")
	st.updateActiveSessionsMetric()

	return st, nil
}

// Dir returns the store root directory.
func (st *Store) Dir() string {
	return st.dir
}

func (st *Store) validateID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("session id cannot contain '..'")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("session id cannot contain path separators")
	}
	if strings.Contains(id, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}

func (st *Store) path(id string) string {
	return filepath.Join(st.dir, id+".jsonl")
}

func (st *Store) getWriteLock(id string) *sync.Mutex {
	st.locksMu.Lock()
	defer st.locksMu.Unlock()

	if lock, exists := st.writeLocks[id]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	st.writeLocks[id] = lock
	return lock
}

func (st *Store) releaseWriteLock(id string) {
	st.locksMu.Lock()
	defer st.locksMu.Unlock()
	delete(st.writeLocks, id)
}

func (st *Store) updateActiveSessionsMetric() {
	ids, err := st.List()
	if err != nil {
		return
	}
	observability.SetStoredSessions(len(ids))
}

// Save appends a snapshot of the session to its journal and fsyncs before
// returning. The engine calls this after every completed sub-step, so a crash
// never loses committed history.
func (st *Store) Save(ctx context.Context, s *Session) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionID(ctx, s.ID)
	ctx, span := tracing.StartSpan(
		ctx,
		"atelier.session",
		"session.save",
		attribute.String("session_id", s.ID),
		attribute.String("status", string(s.Status)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("session_id", s.ID).Logger()
	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	if err := st.validateID(s.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := s.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("refusing to persist inconsistent session: %w", err)
	}

	data, err := json.Marshal(snapshot{
		Version: SchemaVersion,
		SavedAt: time.Now().UTC(),
		Session: s,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	lock := st.getWriteLock(s.ID)
	lock.Lock()
	defer lock.Unlock()

	created := false
	if _, err := os.Stat(st.path(s.ID)); os.IsNotExist(err) {
		created = true
	}

	file, err := os.OpenFile(st.path(s.ID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to open session journal: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := file.Sync(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to sync session journal: %w", err)
	}

	if created {
		st.updateActiveSessionsMetric()
	}

	logger.Debug().
		Str("status", string(s.Status)).
		Int("turns", len(s.Turns)).
		Msg("Session snapshot persisted")

	return nil
}

// Load reconstructs a session from its journal. Undecodable lines are
// skipped, so the last consistent snapshot wins.
func (st *Store) Load(ctx context.Context, id string) (*Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionID(ctx, id)
	ctx, span := tracing.StartSpan(
		ctx,
		"atelier.session",
		"session.load",
		attribute.String("session_id", id),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("session_id", id).Logger()
	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(time.Since(start))
	}()

	if err := st.validateID(id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	file, err := os.Open(st.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to open session journal: %w", err)
	}
	defer file.Close()

	var last *Session
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		var snap snapshot
		if err := json.Unmarshal([]byte(line), &snap); err != nil {
			logger.Warn().Int("line", lineNum).Err(err).Msg("Skipping undecodable snapshot line")
			continue
		}
		if snap.Session == nil {
			logger.Warn().Int("line", lineNum).Msg("Skipping snapshot without session body")
			continue
		}
		if err := snap.Session.Validate(); err != nil {
			logger.Warn().Int("line", lineNum).Err(err).Msg("Skipping inconsistent snapshot")
			continue
		}
		last = snap.Session
	}

	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read session journal: %w", err)
	}
	if last == nil {
		return nil, fmt.Errorf("%w: %s has no consistent snapshot", ErrNotFound, id)
	}

	logger.Debug().Int("turns", len(last.Turns)).Msg("Session loaded")
	return last, nil
}

// List returns the ids of all stored sessions.
func (st *Store) List() ([]string, error) {
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".jsonl"))
	}
	return ids, nil
}

// LoadActive returns every stored session that is not in a terminal status.
// The manager replays these on restart to resume interrupted work.
func (st *Store) LoadActive(ctx context.Context) ([]*Session, error) {
	ids, err := st.List()
	if err != nil {
		return nil, err
	}

	var active []*Session
	for _, id := range ids {
		s, err := st.Load(ctx, id)
		if err != nil {
			log.Warn().Str("session_id", id).Err(err).Msg("Skipping unloadable session")
			continue
		}
		if !s.Status.Terminal() {
			active = append(active, s)
		}
	}
	return active, nil
}

// Compact rewrites a journal down to its latest snapshot via tmp+rename.
func (st *Store) Compact(ctx context.Context, id string) error {
	s, err := st.Load(ctx, id)
	if err != nil {
		return err
	}

	data, err := json.Marshal(snapshot{
		Version: SchemaVersion,
		SavedAt: time.Now().UTC(),
		Session: s,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	lock := st.getWriteLock(id)
	lock.Lock()
	defer lock.Unlock()

	path := st.path(id)
	tempPath := path + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp journal: %w", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp journal: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session journal: %w", err)
	}

	log.Info().Str("session_id", id).Msg("Session journal compacted")
	return nil
}

// Delete removes a session journal. The engine never calls this; it exists
// for the cleanup janitor and operators.
func (st *Store) Delete(id string) error {
	if err := st.validateID(id); err != nil {
		return err
	}

	lock := st.getWriteLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(st.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session journal: %w", err)
	}

	st.releaseWriteLock(id)
	st.updateActiveSessionsMetric()

	log.Info().Str("session_id", id).Msg("Session journal deleted")
	return nil
}

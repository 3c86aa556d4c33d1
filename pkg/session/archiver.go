package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultRetention is how long a terminal session stays in the live
	// store before the archiver moves it aside.
	DefaultRetention = 24 * time.Hour
)

// Archiver moves terminal sessions out of the live store once they have been
// untouched for the retention period. Active and awaiting-feedback sessions
// are never archived: manual suspensions have no implicit timeout.
type Archiver struct {
	store      *Store
	archiveDir string
	retention  time.Duration
}

// NewArchiver creates an archiver writing into archiveDir.
func NewArchiver(store *Store, archiveDir string, retention time.Duration) (*Archiver, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if archiveDir == "" {
		archiveDir = filepath.Join(store.Dir(), "archive")
	}
	if err := os.MkdirAll(archiveDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &Archiver{
		store:      store,
		archiveDir: archiveDir,
		retention:  retention,
	}, nil
}

// ArchiveDir returns the directory archived journals are moved into.
func (a *Archiver) ArchiveDir() string {
	return a.archiveDir
}

// ArchiveTerminal sweeps the store and archives every terminal session older
// than the retention period. It returns the number of sessions archived.
func (a *Archiver) ArchiveTerminal(ctx context.Context) (int, error) {
	ids, err := a.store.List()
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	now := time.Now()
	archived := 0

	for _, id := range ids {
		s, err := a.store.Load(ctx, id)
		if err != nil {
			log.Warn().Str("session_id", id).Err(err).Msg("Failed to load session for archiving")
			continue
		}
		if !s.Status.Terminal() {
			continue
		}
		if now.Sub(s.UpdatedAt) < a.retention {
			continue
		}

		if err := a.ArchiveNow(ctx, id); err != nil {
			log.Error().Str("session_id", id).Err(err).Msg("Failed to archive session")
			continue
		}
		archived++
	}

	if archived > 0 {
		log.Info().Int("archived", archived).Msg("Archived terminal sessions")
	}
	return archived, nil
}

// ArchiveNow immediately moves one session's journal into the archive. The
// journal is compacted first so the archive holds a single snapshot line.
func (a *Archiver) ArchiveNow(ctx context.Context, id string) error {
	s, err := a.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if !s.Status.Terminal() {
		return fmt.Errorf("session %s is %s, only terminal sessions can be archived", id, s.Status)
	}

	if err := a.store.Compact(ctx, id); err != nil {
		return fmt.Errorf("failed to compact before archiving: %w", err)
	}

	src := a.store.path(id)
	dst := filepath.Join(a.archiveDir, id+".jsonl")
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move journal to archive: %w", err)
	}

	a.store.releaseWriteLock(id)
	a.store.updateActiveSessionsMetric()

	log.Info().Str("session_id", id).Str("archive", dst).Msg("Session archived")
	return nil
}

// ListArchived returns the ids of archived sessions.
func (a *Archiver) ListArchived() ([]string, error) {
	entries, err := os.ReadDir(a.archiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if filepath.Ext(name) != ".jsonl" {
			continue
		}
		ids = append(ids, name[:len(name)-len(".jsonl")])
	}
	return ids, nil
}

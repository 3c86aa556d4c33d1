package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultCleanupAge is how long archived journals are kept.
	DefaultCleanupAge = 30 * 24 * time.Hour
)

// Cleanup deletes archived session journals past their keep age. The live
// store is never touched: the store deletes nothing implicitly.
type Cleanup struct {
	archiveDir string
	maxAge     time.Duration
}

// NewCleanup creates a cleanup handler for an archive directory.
func NewCleanup(archiveDir string, maxAge time.Duration) *Cleanup {
	if maxAge <= 0 {
		maxAge = DefaultCleanupAge
	}
	return &Cleanup{
		archiveDir: archiveDir,
		maxAge:     maxAge,
	}
}

// Sweep removes archived journals older than the keep age and returns the
// number deleted.
func (c *Cleanup) Sweep() (int, error) {
	entries, err := os.ReadDir(c.archiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read archive directory: %w", err)
	}

	now := time.Now()
	deleted := 0

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			log.Warn().Str("file", entry.Name()).Err(err).Msg("Failed to stat archived journal")
			continue
		}

		age := now.Sub(info.ModTime())
		if age < c.maxAge {
			continue
		}

		path := filepath.Join(c.archiveDir, entry.Name())
		if err := os.Remove(path); err != nil {
			log.Error().Str("file", entry.Name()).Err(err).Msg("Failed to delete archived journal")
			continue
		}
		deleted++

		log.Debug().Str("file", entry.Name()).Dur("age", age).Msg("Archived journal deleted")
	}

	if deleted > 0 {
		log.Info().Int("deleted", deleted).Msg("Cleaned up archived sessions")
	}
	return deleted, nil
}

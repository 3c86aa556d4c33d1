package session

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// JanitorConfig sets the maintenance schedules. Specs use the cron package's
// syntax, including descriptors like "@every 1h" and "@daily".
type JanitorConfig struct {
	ArchiveSchedule string
	CleanupSchedule string
}

// Janitor runs the archiver and cleanup on cron schedules.
type Janitor struct {
	cron     *cron.Cron
	archiver *Archiver
	cleanup  *Cleanup
}

// NewJanitor wires the archiver and cleanup into a cron scheduler.
func NewJanitor(archiver *Archiver, cleanup *Cleanup, cfg JanitorConfig) (*Janitor, error) {
	if cfg.ArchiveSchedule == "" {
		cfg.ArchiveSchedule = "@every 1h"
	}
	if cfg.CleanupSchedule == "" {
		cfg.CleanupSchedule = "@daily"
	}

	c := cron.New()

	if _, err := c.AddFunc(cfg.ArchiveSchedule, func() {
		if _, err := archiver.ArchiveTerminal(context.Background()); err != nil {
			log.Error().Err(err).Msg("Archive sweep failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid archive schedule %q: %w", cfg.ArchiveSchedule, err)
	}

	if _, err := c.AddFunc(cfg.CleanupSchedule, func() {
		if _, err := cleanup.Sweep(); err != nil {
			log.Error().Err(err).Msg("Cleanup sweep failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", cfg.CleanupSchedule, err)
	}

	return &Janitor{
		cron:     c,
		archiver: archiver,
		cleanup:  cleanup,
	}, nil
}

// Start begins scheduled maintenance.
func (j *Janitor) Start() {
	j.cron.Start()
	log.Info().Msg("Session janitor started")
}

// Stop halts scheduling and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
	log.Info().Msg("Session janitor stopped")
}

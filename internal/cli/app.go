package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mika/atelier/internal/config"
	"github.com/mika/atelier/internal/logger"
	"github.com/mika/atelier/internal/tracing"
	"github.com/mika/atelier/pkg/assets"
	"github.com/mika/atelier/pkg/engine"
	"github.com/mika/atelier/pkg/evaluate"
	"github.com/mika/atelier/pkg/generate"
	"github.com/mika/atelier/pkg/refine"
	"github.com/mika/atelier/pkg/session"
	"github.com/mika/atelier/pkg/telemetry"
)

// app bundles everything a command needs: the loaded config, the session
// manager wired with its ports, and the handles that must be closed on exit.
type app struct {
	cfg     *config.Config
	manager *engine.Manager
	store   *session.Store
	catalog *assets.Catalog
	logger  zerolog.Logger

	log     *logger.Logger
	sink    *telemetry.SQLiteSink
	janitor *session.Janitor
}

// newApp loads configuration and wires the full session manager.
func newApp(startJanitor bool) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	lg, err := logger.New(logger.Config{
		Level:   level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zl := lg.GetZerolog()

	if err := tracing.InitOpenTelemetry("atelier"); err != nil {
		zl.Warn().Err(err).Msg("Tracing disabled")
	}

	store, err := session.NewStore(cfg.Store.Dir)
	if err != nil {
		lg.Close()
		return nil, err
	}

	generator, err := generate.NewOpenAIGenerator(generate.Config{
		APIKey:       cfg.Generation.APIKey,
		Model:        cfg.Generation.Model,
		Size:         cfg.Generation.Size,
		ArtifactsDir: cfg.Generation.ArtifactsDir,
	}, zl)
	if err != nil {
		lg.Close()
		return nil, err
	}

	bounds := engine.ScoreBounds{Min: cfg.Engine.ScoreMin, Max: cfg.Engine.ScoreMax}

	judge, err := evaluate.NewAnthropicJudge(evaluate.Config{
		APIKey:   cfg.Evaluation.APIKey,
		Model:    cfg.Evaluation.Model,
		Criteria: cfg.Evaluation.Criteria,
		Bounds:   bounds,
	}, zl)
	if err != nil {
		lg.Close()
		return nil, err
	}

	rewriter, err := refine.NewAnthropicRewriter(refine.Config{
		APIKey: cfg.Refinement.APIKey,
		Model:  cfg.Refinement.Model,
	}, zl)
	if err != nil {
		lg.Close()
		return nil, err
	}

	a := &app{cfg: cfg, store: store, logger: zl, log: lg}

	ports := engine.Ports{
		Generator: generator,
		Evaluator: judge,
		Refiner:   rewriter,
		Telemetry: telemetry.NoopSink{},
	}
	if cfg.Telemetry.Enabled {
		sink, err := telemetry.NewSQLiteSink(cfg.Telemetry.DBPath, zl)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.sink = sink
		ports.Telemetry = sink
	}

	catalog, err := assets.NewCatalog(cfg.Assets.Dir, zl)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.catalog = catalog

	var builder engine.PromptBuilder = engine.NoopBuilder{}
	if len(cfg.Engine.Constraints) > 0 {
		builder = engine.NewConstraintBuilder(cfg.Engine.Constraints)
	}

	manager, err := engine.NewManager(engine.ManagerConfig{
		Store: store,
		Ports: ports,
		Options: engine.Options{
			Retry: engine.RetryPolicy{
				MaxAttempts: cfg.Engine.Retry.MaxAttempts,
				BaseDelay:   time.Duration(cfg.Engine.Retry.InitialBackoffMs) * time.Millisecond,
				MaxDelay:    time.Duration(cfg.Engine.Retry.MaxBackoffMs) * time.Millisecond,
			},
			Bounds:  bounds,
			Builder: builder,
			Logger:  zl,
		},
		MaxConcurrent: cfg.Engine.MaxConcurrentSessions,
		Logger:        zl,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.manager = manager

	if startJanitor {
		if err := a.startJanitor(); err != nil {
			zl.Warn().Err(err).Msg("Retention janitor disabled")
		}
	}

	return a, nil
}

func (a *app) startJanitor() error {
	archiveAfter, err := time.ParseDuration(a.cfg.Store.ArchiveAfter)
	if err != nil {
		archiveAfter = session.DefaultRetention
	}
	cleanupAfter, err := time.ParseDuration(a.cfg.Store.CleanupAfter)
	if err != nil {
		cleanupAfter = session.DefaultCleanupAge
	}

	archiver, err := session.NewArchiver(a.store, a.cfg.Store.ArchiveDir, archiveAfter)
	if err != nil {
		return err
	}
	cleanup := session.NewCleanup(a.cfg.Store.ArchiveDir, cleanupAfter)

	janitor, err := session.NewJanitor(archiver, cleanup, session.JanitorConfig{
		ArchiveSchedule: a.cfg.Store.ArchiveSchedule,
		CleanupSchedule: a.cfg.Store.CleanupSchedule,
	})
	if err != nil {
		return err
	}
	janitor.Start()
	a.janitor = janitor
	return nil
}

// Close releases everything newApp opened.
func (a *app) Close() {
	if a.janitor != nil {
		a.janitor.Stop()
	}
	if a.catalog != nil {
		a.catalog.Close()
	}
	if a.sink != nil {
		a.sink.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Tracing shutdown failed")
	}
	if a.log != nil {
		a.log.Close()
	}
}

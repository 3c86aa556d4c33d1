package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.DataDir = "/tmp/atelier-test"
	cfg.Generation.APIKey = "sk-test"
	cfg.Evaluation.APIKey = "sk-ant-test"
	cfg.Refinement.APIKey = "sk-ant-test"
	cfg.ApplyDataDirDefaults()
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 0.0, cfg.Engine.ScoreMin)
	assert.Equal(t, 10.0, cfg.Engine.ScoreMax)
	assert.Equal(t, 8.0, cfg.Engine.DefaultTargetScore)
	assert.Equal(t, 5, cfg.Engine.DefaultMaxIterations)
	assert.Equal(t, 4, cfg.Engine.MaxConcurrentSessions)
	assert.Equal(t, 3, cfg.Engine.Retry.MaxAttempts)
	assert.Equal(t, "gpt-image-1", cfg.Generation.Model)
	assert.Equal(t, "claude-sonnet-4-5", cfg.Evaluation.Model)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestApplyDataDirDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data/atelier"
	cfg.ApplyDataDirDefaults()

	assert.Equal(t, filepath.Join("/data/atelier", "sessions"), cfg.Store.Dir)
	assert.Equal(t, filepath.Join("/data/atelier", "sessions", "archive"), cfg.Store.ArchiveDir)
	assert.Equal(t, filepath.Join("/data/atelier", "artifacts"), cfg.Generation.ArtifactsDir)
	assert.Equal(t, filepath.Join("/data/atelier", "runs.db"), cfg.Telemetry.DBPath)
	assert.Equal(t, filepath.Join("/data/atelier", "assets"), cfg.Assets.Dir)
	assert.Equal(t, filepath.Join("/data/atelier", "atelier.log"), cfg.Logging.File)
}

func TestApplyDataDirDefaultsKeepsExplicitPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data/atelier"
	cfg.Store.Dir = "/elsewhere/sessions"
	cfg.ApplyDataDirDefaults()

	assert.Equal(t, "/elsewhere/sessions", cfg.Store.Dir)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	t.Run("missing api keys", func(t *testing.T) {
		cfg := validConfig()
		cfg.Generation.APIKey = ""
		assert.ErrorContains(t, cfg.Validate(), "generation")

		cfg = validConfig()
		cfg.Evaluation.APIKey = ""
		assert.ErrorContains(t, cfg.Validate(), "evaluation")

		cfg = validConfig()
		cfg.Refinement.APIKey = ""
		assert.ErrorContains(t, cfg.Validate(), "refinement")
	})

	t.Run("inverted bounds", func(t *testing.T) {
		cfg := validConfig()
		cfg.Engine.ScoreMin = 10
		cfg.Engine.ScoreMax = 0
		assert.ErrorContains(t, cfg.Validate(), "score_min")
	})

	t.Run("target outside bounds", func(t *testing.T) {
		cfg := validConfig()
		cfg.Engine.DefaultTargetScore = 11
		assert.ErrorContains(t, cfg.Validate(), "default_target_score")
	})

	t.Run("bad budget", func(t *testing.T) {
		cfg := validConfig()
		cfg.Engine.DefaultMaxIterations = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad concurrency", func(t *testing.T) {
		cfg := validConfig()
		cfg.Engine.MaxConcurrentSessions = 0
		assert.Error(t, cfg.Validate())
	})
}

package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
)

// Config represents the main Atelier configuration
type Config struct {
	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Session store and retention
	Store StoreConfig `json:"store" mapstructure:"store"`

	// Engine behavior
	Engine EngineConfig `json:"engine" mapstructure:"engine"`

	// Generation port
	Generation GenerationConfig `json:"generation" mapstructure:"generation"`

	// Evaluation port
	Evaluation EvaluationConfig `json:"evaluation" mapstructure:"evaluation"`

	// Refinement port
	Refinement RefinementConfig `json:"refinement" mapstructure:"refinement"`

	// Telemetry sink
	Telemetry TelemetryConfig `json:"telemetry" mapstructure:"telemetry"`

	// Reference assets
	Assets AssetsConfig `json:"assets" mapstructure:"assets"`

	// MetricsAddr serves Prometheus metrics while a session runs, e.g.
	// "127.0.0.1:9090". Empty disables the endpoint.
	MetricsAddr string `json:"metrics_addr" mapstructure:"metrics_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// StoreConfig holds session store paths and retention schedules
type StoreConfig struct {
	Dir             string `json:"dir" mapstructure:"dir"`
	ArchiveDir      string `json:"archive_dir" mapstructure:"archive_dir"`
	ArchiveAfter    string `json:"archive_after" mapstructure:"archive_after"`     // duration, e.g. "24h"
	CleanupAfter    string `json:"cleanup_after" mapstructure:"cleanup_after"`     // duration, e.g. "720h"
	ArchiveSchedule string `json:"archive_schedule" mapstructure:"archive_schedule"` // cron spec
	CleanupSchedule string `json:"cleanup_schedule" mapstructure:"cleanup_schedule"` // cron spec
}

// EngineConfig holds iteration loop behavior
type EngineConfig struct {
	ScoreMin              float64     `json:"score_min" mapstructure:"score_min"`
	ScoreMax              float64     `json:"score_max" mapstructure:"score_max"`
	DefaultTargetScore    float64     `json:"default_target_score" mapstructure:"default_target_score"`
	DefaultMaxIterations  int         `json:"default_max_iterations" mapstructure:"default_max_iterations"`
	MaxConcurrentSessions int         `json:"max_concurrent_sessions" mapstructure:"max_concurrent_sessions"`
	Retry                 RetryConfig `json:"retry" mapstructure:"retry"`
	Constraints           []string    `json:"constraints" mapstructure:"constraints"`
}

// RetryConfig holds retry settings for external port calls
type RetryConfig struct {
	MaxAttempts      int `json:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `json:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `json:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// GenerationConfig holds image generation settings
type GenerationConfig struct {
	APIKey       string `json:"api_key" mapstructure:"api_key"`
	Model        string `json:"model" mapstructure:"model"`
	Size         string `json:"size" mapstructure:"size"`
	ArtifactsDir string `json:"artifacts_dir" mapstructure:"artifacts_dir"`
}

// EvaluationConfig holds judge settings
type EvaluationConfig struct {
	APIKey   string   `json:"api_key" mapstructure:"api_key"`
	Model    string   `json:"model" mapstructure:"model"`
	Criteria []string `json:"criteria" mapstructure:"criteria"`
}

// RefinementConfig holds prompt rewriter settings
type RefinementConfig struct {
	APIKey string `json:"api_key" mapstructure:"api_key"`
	Model  string `json:"model" mapstructure:"model"`
}

// TelemetryConfig holds run logging settings
type TelemetryConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	DBPath  string `json:"db_path" mapstructure:"db_path"`
}

// AssetsConfig holds reference-asset catalog settings
type AssetsConfig struct {
	Dir string `json:"dir" mapstructure:"dir"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
		Store: StoreConfig{
			ArchiveAfter:    "24h",
			CleanupAfter:    "720h",
			ArchiveSchedule: "@every 1h",
			CleanupSchedule: "@daily",
		},
		Engine: EngineConfig{
			ScoreMin:              0,
			ScoreMax:              10,
			DefaultTargetScore:    8,
			DefaultMaxIterations:  5,
			MaxConcurrentSessions: 4,
			Retry: RetryConfig{
				MaxAttempts:      3,
				InitialBackoffMs: 1000,
				MaxBackoffMs:     30000,
			},
		},
		Generation: GenerationConfig{
			Model: "gpt-image-1",
			Size:  "1024x1024",
		},
		Evaluation: EvaluationConfig{
			Model: "claude-sonnet-4-5",
		},
		Refinement: RefinementConfig{
			Model: "claude-sonnet-4-5",
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
		},
	}
}

// ApplyDataDirDefaults fills in paths derived from the data directory.
func (c *Config) ApplyDataDirDefaults() {
	if c.DataDir == "" {
		return
	}
	if c.Logging.File == "" {
		c.Logging.File = filepath.Join(c.DataDir, "atelier.log")
	}
	if c.Store.Dir == "" {
		c.Store.Dir = filepath.Join(c.DataDir, "sessions")
	}
	if c.Store.ArchiveDir == "" {
		c.Store.ArchiveDir = filepath.Join(c.Store.Dir, "archive")
	}
	if c.Generation.ArtifactsDir == "" {
		c.Generation.ArtifactsDir = filepath.Join(c.DataDir, "artifacts")
	}
	if c.Telemetry.DBPath == "" {
		c.Telemetry.DBPath = filepath.Join(c.DataDir, "runs.db")
	}
	if c.Assets.Dir == "" {
		c.Assets.Dir = filepath.Join(c.DataDir, "assets")
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Generation.APIKey == "" {
		return fmt.Errorf("generation api_key is required")
	}
	if c.Evaluation.APIKey == "" {
		return fmt.Errorf("evaluation api_key is required")
	}
	if c.Refinement.APIKey == "" {
		return fmt.Errorf("refinement api_key is required")
	}
	if c.Engine.ScoreMin >= c.Engine.ScoreMax {
		return fmt.Errorf("engine score_min (%g) must be below score_max (%g)", c.Engine.ScoreMin, c.Engine.ScoreMax)
	}
	if c.Engine.DefaultTargetScore < c.Engine.ScoreMin || c.Engine.DefaultTargetScore > c.Engine.ScoreMax {
		return fmt.Errorf("engine default_target_score %g outside [%g, %g]", c.Engine.DefaultTargetScore, c.Engine.ScoreMin, c.Engine.ScoreMax)
	}
	if c.Engine.DefaultMaxIterations <= 0 {
		return fmt.Errorf("engine default_max_iterations must be positive")
	}
	if c.Engine.MaxConcurrentSessions <= 0 {
		return fmt.Errorf("engine max_concurrent_sessions must be positive")
	}
	return nil
}

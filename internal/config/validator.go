package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateModel validates a model name
func (v *Validator) ValidateModel(model string) error {
	if model == "" {
		return fmt.Errorf("model name cannot be empty")
	}

	// Check if it's a known model
	knownModels := []string{
		"claude-opus-4-1",
		"claude-sonnet-4-5",
		"claude-haiku-4-5",
		"gpt-image-1",
		"dall-e-3",
	}

	for _, known := range knownModels {
		if model == known {
			return nil
		}
	}

	// Allow custom models (just warn)
	return nil
}

// ValidateImageSize validates a generation output size
func (v *Validator) ValidateImageSize(size string) error {
	if size == "" {
		return nil // Use default
	}

	pattern := regexp.MustCompile(`^\d+x\d+$`)
	if !pattern.MatchString(size) {
		return fmt.Errorf("invalid image size: %s (expected WIDTHxHEIGHT, e.g. 1024x1024)", size)
	}
	return nil
}

// ValidateDuration validates a Go duration string
func (v *Validator) ValidateDuration(name, value string) error {
	if value == "" {
		return nil // Use default
	}
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("invalid %s duration: %s", name, value)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if cfg.Generation.APIKey != "" {
		if err := v.ValidateAPIKey(cfg.Generation.APIKey, "openai"); err != nil {
			errors = append(errors, fmt.Errorf("generation: %w", err))
		}
	}
	if cfg.Evaluation.APIKey != "" {
		if err := v.ValidateAPIKey(cfg.Evaluation.APIKey, "anthropic"); err != nil {
			errors = append(errors, fmt.Errorf("evaluation: %w", err))
		}
	}
	if cfg.Refinement.APIKey != "" {
		if err := v.ValidateAPIKey(cfg.Refinement.APIKey, "anthropic"); err != nil {
			errors = append(errors, fmt.Errorf("refinement: %w", err))
		}
	}

	if err := v.ValidateModel(cfg.Generation.Model); err != nil {
		errors = append(errors, fmt.Errorf("generation: %w", err))
	}
	if err := v.ValidateModel(cfg.Evaluation.Model); err != nil {
		errors = append(errors, fmt.Errorf("evaluation: %w", err))
	}
	if err := v.ValidateModel(cfg.Refinement.Model); err != nil {
		errors = append(errors, fmt.Errorf("refinement: %w", err))
	}

	if err := v.ValidateImageSize(cfg.Generation.Size); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateDuration("store.archive_after", cfg.Store.ArchiveAfter); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateDuration("store.cleanup_after", cfg.Store.CleanupAfter); err != nil {
		errors = append(errors, err)
	}

	if cfg.Engine.Retry.MaxAttempts < 0 {
		errors = append(errors, fmt.Errorf("engine.retry.max_attempts must be >= 0"))
	}
	if cfg.Engine.Retry.InitialBackoffMs < 0 {
		errors = append(errors, fmt.Errorf("engine.retry.initial_backoff_ms must be >= 0"))
	}
	if cfg.Engine.Retry.MaxBackoffMs < 0 {
		errors = append(errors, fmt.Errorf("engine.retry.max_backoff_ms must be >= 0"))
	}

	// Validate logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}

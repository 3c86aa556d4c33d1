package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	require.NoError(t, v.ValidateAPIKey("sk-ant-abc123", "anthropic"))
	require.Error(t, v.ValidateAPIKey("sk-abc123", "anthropic"))
	require.NoError(t, v.ValidateAPIKey("sk-abc123", "openai"))
	require.Error(t, v.ValidateAPIKey("abc123", "openai"))
	require.Error(t, v.ValidateAPIKey("", "openai"))
}

func TestValidateImageSize(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateImageSize(""))
	assert.NoError(t, v.ValidateImageSize("1024x1024"))
	assert.NoError(t, v.ValidateImageSize("512x768"))
	assert.Error(t, v.ValidateImageSize("big"))
	assert.Error(t, v.ValidateImageSize("1024"))
	assert.Error(t, v.ValidateImageSize("1024x"))
}

func TestValidateDuration(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateDuration("x", ""))
	assert.NoError(t, v.ValidateDuration("x", "24h"))
	assert.NoError(t, v.ValidateDuration("x", "90m"))
	assert.Error(t, v.ValidateDuration("x", "1 day"))
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.NoError(t, v.ValidateLogLevel(level))
	}
	assert.Error(t, v.ValidateLogLevel("verbose"))
}

func TestValidateConfigCollectsErrors(t *testing.T) {
	v := NewValidator()

	cfg := validConfig()
	assert.Empty(t, v.ValidateConfig(cfg))

	cfg.Evaluation.APIKey = "wrong-prefix"
	cfg.Generation.Size = "huge"
	cfg.Store.ArchiveAfter = "1 fortnight"
	cfg.Engine.Retry.MaxAttempts = -1
	cfg.Logging.Level = "loud"

	errs := v.ValidateConfig(cfg)
	assert.Len(t, errs, 5)
}

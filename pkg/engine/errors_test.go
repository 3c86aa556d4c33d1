package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"rate limit", fmt.Errorf("429 Too Many Requests"), FailureRetryable},
		{"overloaded", fmt.Errorf("api_error: overloaded"), FailureRetryable},
		{"server error", fmt.Errorf("502 bad gateway"), FailureRetryable},
		{"timeout", fmt.Errorf("request timeout"), FailureRetryable},
		{"conn reset", fmt.Errorf("read: ECONNRESET"), FailureRetryable},
		{"deadline", context.DeadlineExceeded, FailureRetryable},
		{"auth", fmt.Errorf("401 unauthorized"), FailureFatal},
		{"content policy", fmt.Errorf("prompt violates content policy"), FailureFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := Classify("generate", tt.err)
			assert.Equal(t, tt.want, pe.Kind)
			assert.Equal(t, "generate", pe.Port)
		})
	}
}

func TestClassifyPreservesExistingPortError(t *testing.T) {
	orig := Validation("evaluate", fmt.Errorf("score out of range"))
	wrapped := fmt.Errorf("call failed: %w", orig)

	pe := Classify("generate", wrapped)
	assert.Equal(t, FailureValidation, pe.Kind)
	assert.Equal(t, "evaluate", pe.Port, "the original classification wins")
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, FailureRetryable, KindOf(Retryable("p", errors.New("x"))))
	assert.Equal(t, FailureValidation, KindOf(Validation("p", errors.New("x"))))
	assert.Equal(t, FailureFatal, KindOf(Fatal("p", errors.New("x"))))
	assert.Equal(t, FailureFatal, KindOf(errors.New("mystery")))
	assert.Equal(t, FailureRetryable, KindOf(errors.New("connection refused")))
}

func TestPortErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	pe := Fatal("refine", inner)
	require.ErrorIs(t, pe, inner)
	assert.Contains(t, pe.Error(), "refine")
	assert.Contains(t, pe.Error(), "fatal")
}

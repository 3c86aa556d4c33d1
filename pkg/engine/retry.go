package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mika/atelier/internal/observability"
)

// RetryPolicy bounds the exponential backoff around external port calls.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy mirrors a 1s, 2s, 4s backoff ladder.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	return p
}

// callWithRetry runs one external port call, retrying transient failures
// with exponential backoff. Validation and fatal failures return immediately.
// No engine state changes while retries are in flight.
func callWithRetry[T any](ctx context.Context, logger zerolog.Logger, policy RetryPolicy, port string, fn func(ctx context.Context) (T, error)) (T, error) {
	policy = policy.normalized()

	var zero T
	var lastErr error

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		start := time.Now()
		result, err := fn(ctx)
		observability.RecordPortCall(port, time.Since(start), err == nil)
		if err == nil {
			return result, nil
		}

		lastErr = Classify(port, err)
		if KindOf(lastErr) != FailureRetryable {
			return zero, lastErr
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}

		delay := policy.BaseDelay * (1 << attempt)
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}

		observability.RecordPortRetry(port)
		logger.Info().
			Str("port", port).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying port call after transient failure")

		select {
		case <-ctx.Done():
			return zero, Classify(port, ctx.Err())
		case <-time.After(delay):
		}
	}

	return zero, Fatal(port, fmt.Errorf("max retries (%d) exceeded: %w", policy.MaxAttempts, lastErr))
}

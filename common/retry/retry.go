// Package retry provides exponential-backoff retry for transient failures
// on outbound HTTP calls (LLM, TTS, compressor).
//
// Errors wrapped with Permanent stop the loop immediately — use it for
// conditions where another attempt cannot change the outcome (auth
// failures, rate limits, malformed requests).
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config controls the retry behaviour.
type Config struct {
	// Attempts is the total number of attempts including the first.
	// Values ≤ 0 are treated as 1 (no retries).
	Attempts int
	// BaseDelay is the wait before the second attempt; each subsequent
	// delay doubles up to MaxDelay.
	BaseDelay time.Duration
	// MaxDelay caps the per-attempt wait.
	MaxDelay time.Duration
}

// DefaultConfig suits short-lived network calls on a latency-sensitive path.
var DefaultConfig = Config{
	Attempts:  3,
	BaseDelay: 300 * time.Millisecond,
	MaxDelay:  5 * time.Second,
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. Do returns the original error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn up to cfg.Attempts times with exponential backoff between
// attempts. It stops early when fn succeeds, returns a Permanent error, or
// ctx is cancelled. The error from the last attempt is returned, unwrapped
// from its Permanent marker when present.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := cfg.BaseDelay
	if delay <= 0 {
		delay = DefaultConfig.BaseDelay
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultConfig.MaxDelay
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}

		if attempt < attempts {
			slog.Debug("retry: attempt failed",
				"attempt", attempt, "max", attempts,
				"err", lastErr, "delay", delay)

			select {
			case <-ctx.Done():
				return errors.Join(lastErr, ctx.Err())
			case <-time.After(delay):
			}

			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		}
	}
	return lastErr
}

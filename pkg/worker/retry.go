package worker

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryConfig tunes the backoff used for status writes. Status updates must
// land even when the database hiccups, otherwise a finished job would stay
// RUNNING forever.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialBackoff is the first retry delay.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay growth.
	MaxBackoff time.Duration

	// BackoffMultiplier scales the delay after each attempt.
	BackoffMultiplier float64

	// JitterFraction randomizes each delay by up to this fraction.
	JitterFraction float64
}

// DefaultRetryConfig returns the standard backoff for status writes.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

// retryWithBackoff executes operation with exponential backoff on failure.
// It respects context cancellation and returns the last error when all
// attempts fail.
func retryWithBackoff(ctx context.Context, config RetryConfig, operation func() error) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		if attempt >= config.MaxAttempts {
			break
		}

		jitter := time.Duration(float64(backoff) * config.JitterFraction * (rand.Float64()*2 - 1))
		sleep := backoff + jitter
		if sleep < 0 {
			sleep = backoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return lastErr
}

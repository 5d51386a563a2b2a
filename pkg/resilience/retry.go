// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package resilience provides retry, timeout, circuit breaker and fallback
// helpers used around model calls.
package resilience

import (
	"context"
	stderrors "errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jllopis/agency/pkg/errors"
)

// RetryConfig is an exponential backoff policy.
type RetryConfig struct {
	// MaxAttempts counts the first call. Values below 1 mean a single call.
	MaxAttempts  int
	InitialDelay time.Duration
	// MaxDelay caps both the computed backoff and upstream Retry-After hints.
	MaxDelay time.Duration
	// Multiplier defaults to 2.
	Multiplier float64
	// Jitter spreads each delay by ±Jitter of its value.
	Jitter float64
	// IsRecoverable selects the errors worth another attempt.
	// Defaults to errors.IsRecoverable.
	IsRecoverable func(error) bool
	// OnRetry runs before each new attempt with its 1-based number.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryConfig retries recoverable errors three times, starting at
// half a second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		Multiplier:    2,
		Jitter:        0.1,
		IsRecoverable: errors.IsRecoverable,
	}
}

func (rc RetryConfig) WithMaxAttempts(n int) RetryConfig {
	rc.MaxAttempts = n
	return rc
}

func (rc RetryConfig) WithInitialDelay(d time.Duration) RetryConfig {
	rc.InitialDelay = d
	return rc
}

func (rc RetryConfig) WithMaxDelay(d time.Duration) RetryConfig {
	rc.MaxDelay = d
	return rc
}

func (rc RetryConfig) WithIsRecoverable(fn func(error) bool) RetryConfig {
	rc.IsRecoverable = fn
	return rc
}

// Do is Retry for functions without a result.
func (rc RetryConfig) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Retry(ctx, rc, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// retryDelayer is implemented by errors that carry an upstream wait hint,
// such as a provider's Retry-After header.
type retryDelayer interface {
	RetryDelay() time.Duration
}

// Retry calls fn until it succeeds, fails with an unrecoverable error or
// runs out of attempts. The last error is returned as is. Waiting between
// attempts stops early when ctx ends.
func Retry[T any](ctx context.Context, rc RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := max(rc.MaxAttempts, 1)
	recoverable := rc.IsRecoverable
	if recoverable == nil {
		recoverable = errors.IsRecoverable
	}

	var zero T
	for attempt := 1; ; attempt++ {
		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}
		if attempt == attempts || !recoverable(err) {
			return zero, err
		}

		delay := rc.nextDelay(attempt, err)
		if rc.OnRetry != nil {
			rc.OnRetry(attempt+1, delay, err)
		}
		if waitErr := sleep(ctx, delay); waitErr != nil {
			return zero, errors.Classify(waitErr).
				WithContext("attempt", attempt).
				WithContext("last_error", err.Error())
		}
	}
}

// nextDelay honours an upstream hint when it is longer than the backoff.
func (rc RetryConfig) nextDelay(attempt int, err error) time.Duration {
	delay := backoff(attempt, rc)
	var hinted retryDelayer
	if stderrors.As(err, &hinted) {
		if hint := hinted.RetryDelay(); hint > delay {
			delay = hint
			if rc.MaxDelay > 0 && delay > rc.MaxDelay {
				delay = rc.MaxDelay
			}
		}
	}
	return delay
}

// backoff is the jittered delay after the given failed attempt.
func backoff(attempt int, rc RetryConfig) time.Duration {
	mult := rc.Multiplier
	if mult == 0 {
		mult = 2
	}
	d := float64(rc.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if rc.MaxDelay > 0 {
		d = math.Min(d, float64(rc.MaxDelay))
	}
	if rc.Jitter > 0 {
		d += d * rc.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(math.Max(d, 0))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

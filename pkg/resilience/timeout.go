// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"time"

	"github.com/jllopis/agency/pkg/errors"
)

// WithTimeout runs fn with a deadline of d. A zero duration disables the bound.
// Returns errors.CodeTimeout if the deadline is exceeded.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn(ctx)
		done <- result{value, err}
	}()

	var zero T
	select {
	case <-ctx.Done():
		return zero, timeoutError(ctx, d)
	case res := <-done:
		if res.err != nil && ctx.Err() != nil {
			return zero, timeoutError(ctx, d)
		}
		return res.value, res.err
	}
}

func timeoutError(ctx context.Context, d time.Duration) error {
	if ctx.Err() == context.Canceled {
		return errors.Classify(ctx.Err())
	}
	return errors.New(errors.CodeTimeout, "operation exceeded timeout", ctx.Err()).
		WithContext("timeout", d.String()).
		WithRecoverable(true)
}

// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"

	"github.com/jllopis/agency/pkg/errors"
)

// FallbackFunc produces a value after the primary operation failed.
type FallbackFunc[T any] func(ctx context.Context, primaryErr error) (T, error)

// WithFallback executes fn and, when it fails with an error accepted by
// when (nil accepts every error), runs fallback instead. If the fallback
// fails too, both errors are joined.
func WithFallback[T any](ctx context.Context, fn func(ctx context.Context) (T, error), when func(error) bool, fallback FallbackFunc[T]) (T, error) {
	value, err := fn(ctx)
	if err == nil || fallback == nil {
		return value, err
	}
	if when != nil && !when(err) {
		return value, err
	}
	if ctx.Err() != nil {
		return value, err
	}

	fbValue, fbErr := fallback(ctx, err)
	if fbErr != nil {
		var zero T
		return zero, errors.Classify(err).WithContext("fallback_error", fbErr.Error())
	}
	return fbValue, nil
}

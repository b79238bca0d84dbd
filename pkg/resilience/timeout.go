// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"time"

	"github.com/netover/hwav5-sub002/pkg/errors"
)

// WithTimeout executes fn with a deadline of d. The context handed to fn
// is cancelled when the deadline fires, so the wrapped operation must
// observe cancellation cooperatively. When timeoutErr is non-nil it is
// returned in place of the generic CodeTimeout error.
func WithTimeout(ctx context.Context, d time.Duration, timeoutErr error, fn func(context.Context) error) error {
	if d == 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case <-ctx.Done():
		if timeoutErr != nil {
			return timeoutErr
		}
		return errors.New(errors.CodeTimeout, "operation exceeded timeout", ctx.Err()).
			WithContext("timeout", d.String())
	case err := <-done:
		return err
	}
}

// WithTimeoutResult executes fn with a deadline of d, returning both the
// result and error.
func WithTimeoutResult[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if d == 0 {
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

	select {
	case <-ctx.Done():
		return zero, errors.New(errors.CodeTimeout, "operation exceeded timeout", ctx.Err()).
			WithContext("timeout", d.String())
	case res := <-done:
		return res.value, res.err
	}
}

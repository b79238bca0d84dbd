// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"time"
)

// Execute runs fn under the canonical composition
//
//	breaker(retry(timeout(fn)))
//
// Timeout is innermost so each attempt has its own deadline. Retry sits
// above timeout so a timed-out attempt is retryable. The breaker is
// outermost so the whole retry budget counts as one call; reordering
// changes semantics and is not supported. A CircuitOpen rejection is
// never retried by the same composition.
func Execute(ctx context.Context, breaker *CircuitBreaker, retry RetryPolicy, timeout time.Duration, fn func(context.Context) error) error {
	attempt := func(ctx context.Context) error {
		return WithTimeout(ctx, timeout, nil, fn)
	}

	if breaker == nil {
		return retry.Do(ctx, attempt)
	}
	return breaker.Call(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, attempt)
	})
}

// ExecuteResult is Execute for operations that return a value.
func ExecuteResult[T any](ctx context.Context, breaker *CircuitBreaker, retry RetryPolicy, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := Execute(ctx, breaker, retry, timeout, func(ctx context.Context) error {
		v, ferr := fn(ctx)
		if ferr != nil {
			return ferr
		}
		out = v
		return nil
	})
	return out, err
}

// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/netover/hwav5-sub002/pkg/errors"
)

// RetryPolicy controls retry behavior with exponential backoff.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the initial backoff delay.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff delay.
	MaxDelay time.Duration

	// ExponentialBase is the backoff multiplier (default 2.0).
	ExponentialBase float64

	// Jitter enables full-jitter: the actual sleep is uniform on [0, d_i].
	Jitter bool

	// IsRetryable determines if an error should be retried.
	// If nil, the error's Recoverable flag decides.
	IsRetryable func(error) bool

	// sleep is swapped in tests to observe delays without waiting.
	sleep func(context.Context, time.Duration) error
}

// DefaultRetryPolicy returns a sensible default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		BaseDelay:       100 * time.Millisecond,
		MaxDelay:        10 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
		IsRetryable:     isRetryableDefault,
	}
}

// WithMaxRetries returns a new policy with MaxRetries set.
func (rp RetryPolicy) WithMaxRetries(n int) RetryPolicy {
	rp.MaxRetries = n
	return rp
}

// WithBaseDelay returns a new policy with BaseDelay set.
func (rp RetryPolicy) WithBaseDelay(d time.Duration) RetryPolicy {
	rp.BaseDelay = d
	return rp
}

// WithMaxDelay returns a new policy with MaxDelay set.
func (rp RetryPolicy) WithMaxDelay(d time.Duration) RetryPolicy {
	rp.MaxDelay = d
	return rp
}

// WithJitter returns a new policy with Jitter set.
func (rp RetryPolicy) WithJitter(jitter bool) RetryPolicy {
	rp.Jitter = jitter
	return rp
}

// WithIsRetryable returns a new policy with IsRetryable set.
func (rp RetryPolicy) WithIsRetryable(fn func(error) bool) RetryPolicy {
	rp.IsRetryable = fn
	return rp
}

// Do executes fn up to MaxRetries+1 times, sleeping the backoff delay
// between attempts. A non-retryable error returns immediately; the last
// attempt's error is returned when the budget is exhausted.
func (rp RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	if rp.MaxRetries < 0 {
		rp.MaxRetries = 0
	}
	if rp.IsRetryable == nil {
		rp.IsRetryable = isRetryableDefault
	}
	if rp.sleep == nil {
		rp.sleep = sleepCtx
	}

	var lastErr error
	attempts := rp.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := rp.sleep(ctx, rp.Delay(attempt-1)); err != nil {
				return errors.New(errors.CodeTimeout, "context canceled during retry backoff", err).
					WithContext("attempt", attempt).
					WithContext("max_retries", rp.MaxRetries)
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !rp.IsRetryable(err) {
			return err
		}
	}

	return lastErr
}

// Delay computes the sleep before retry i (zero-based):
// min(MaxDelay, BaseDelay*base^i), drawn uniformly from [0, that] when
// Jitter is enabled.
func (rp RetryPolicy) Delay(i int) time.Duration {
	base := rp.ExponentialBase
	if base == 0 {
		base = 2.0
	}

	d := time.Duration(float64(rp.BaseDelay) * math.Pow(base, float64(i)))
	if rp.MaxDelay > 0 && d > rp.MaxDelay {
		d = rp.MaxDelay
	}

	if rp.Jitter && d > 0 {
		d = time.Duration(rand.Int63n(int64(d) + 1))
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isRetryableDefault retries errors whose taxonomy marks them recoverable.
// Untyped errors are retried for backward compatibility; callers wanting
// finer control supply their own predicate.
func isRetryableDefault(err error) bool {
	if err == nil {
		return false
	}
	if ge, ok := err.(*errors.GatewayError); ok {
		return ge.Recoverable
	}
	return true
}

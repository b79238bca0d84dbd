// SPDX-License-Identifier: Apache-2.0
// Package resilience provides the circuit breaker, retry and timeout
// primitives of the gateway and their canonical composition.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/netover/hwav5-sub002/pkg/errors"
)

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState string

const (
	// StateClosed means the circuit breaker is working normally.
	StateClosed CircuitBreakerState = "closed"

	// StateOpen means the circuit breaker is blocking calls.
	StateOpen CircuitBreakerState = "open"

	// StateHalfOpen means the circuit breaker is testing if service recovered.
	StateHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// Name is the circuit breaker identifier for logging/metrics.
	Name string

	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int

	// RecoveryTimeout is how long to wait before trying half-open state.
	RecoveryTimeout time.Duration

	// ExpectedError decides whether a failure counts against the breaker.
	// A failure outside the predicate is rethrown without mutating state.
	// If nil, every error counts.
	ExpectedError func(error) bool
}

// CircuitBreakerMetrics is a snapshot of a breaker's runtime counters.
type CircuitBreakerMetrics struct {
	State               CircuitBreakerState
	TotalCalls          int64
	SuccessfulCalls     int64
	FailedCalls         int64
	ConsecutiveFailures int
	LastFailureTime     time.Time
	LastSuccessTime     time.Time
	StateChanges        int64
}

// StateChangeHook is invoked after every breaker state transition, outside
// the breaker lock. Used to mirror state to telemetry gauges.
type StateChangeHook func(name string, from, to CircuitBreakerState)

// CircuitBreaker prevents cascading failures using the circuit breaker
// pattern. The mutex guards only the state transitions; the wrapped
// function always runs without the lock held.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	hook   StateChangeHook
	now    func() time.Time

	mu                  sync.Mutex
	state               CircuitBreakerState
	consecutiveFailures int
	totalCalls          int64
	successfulCalls     int64
	failedCalls         int64
	lastFailureTime     time.Time
	lastSuccessTime     time.Time
	stateChanges        int64

	// pending transition carried out of the lock to the hook
	pending     bool
	pendingFrom CircuitBreakerState
	pendingTo   CircuitBreakerState
}

// NewCircuitBreaker creates a new circuit breaker with the given config.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.Name == "" {
		config.Name = "circuit_breaker"
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
}

// SetStateChangeHook registers a hook notified on every transition.
func (cb *CircuitBreaker) SetStateChangeHook(hook StateChangeHook) {
	cb.mu.Lock()
	cb.hook = hook
	cb.mu.Unlock()
}

// Call executes fn if the circuit breaker allows, tracking success and
// failure. Returns errors.CodeCircuitOpen without invoking fn when open.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.afterCall(err)
	return err
}

// beforeCall admits or rejects the call, transitioning OPEN to HALF_OPEN
// once the recovery timeout elapsed.
func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailureTime) < cb.config.RecoveryTimeout {
			cb.mu.Unlock()
			return errors.New(errors.CodeCircuitOpen, "circuit breaker open", nil).
				WithContext("breaker", cb.config.Name)
		}
		cb.transition(StateHalfOpen)
	}

	cb.totalCalls++
	hook, from, to := cb.pendingHook()
	cb.mu.Unlock()

	if hook != nil {
		hook(cb.config.Name, from, to)
	}
	return nil
}

// afterCall records the outcome of an admitted call.
func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()

	if err == nil {
		cb.successfulCalls++
		cb.consecutiveFailures = 0
		cb.lastSuccessTime = cb.now()
		if cb.state == StateHalfOpen {
			cb.transition(StateClosed)
		}
	} else if cb.expected(err) {
		cb.failedCalls++
		cb.consecutiveFailures++
		cb.lastFailureTime = cb.now()
		if cb.state == StateHalfOpen {
			cb.transition(StateOpen)
		} else if cb.consecutiveFailures >= cb.config.FailureThreshold && cb.state != StateOpen {
			cb.transition(StateOpen)
		}
	}
	// Unexpected errors pass through without touching breaker state.

	hook, from, to := cb.pendingHook()
	cb.mu.Unlock()

	if hook != nil {
		hook(cb.config.Name, from, to)
	}
}

func (cb *CircuitBreaker) expected(err error) bool {
	if cb.config.ExpectedError == nil {
		return true
	}
	return cb.config.ExpectedError(err)
}

// transition moves the breaker to a new state. Must be called under lock.
func (cb *CircuitBreaker) transition(to CircuitBreakerState) {
	if cb.state == to {
		return
	}
	cb.pendingFrom = cb.state
	cb.pendingTo = to
	cb.pending = true
	cb.state = to
	cb.stateChanges++
}

// pendingHook drains a pending transition notification. Must be called
// under lock; the returned hook is invoked after release.
func (cb *CircuitBreaker) pendingHook() (StateChangeHook, CircuitBreakerState, CircuitBreakerState) {
	if !cb.pending || cb.hook == nil {
		cb.pending = false
		return nil, "", ""
	}
	cb.pending = false
	return cb.hook, cb.pendingFrom, cb.pendingTo
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the breaker identifier.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Metrics returns a consistent snapshot of the breaker counters.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerMetrics{
		State:               cb.state,
		TotalCalls:          cb.totalCalls,
		SuccessfulCalls:     cb.successfulCalls,
		FailedCalls:         cb.failedCalls,
		ConsecutiveFailures: cb.consecutiveFailures,
		LastFailureTime:     cb.lastFailureTime,
		LastSuccessTime:     cb.lastSuccessTime,
		StateChanges:        cb.stateChanges,
	}
}

// Reset manually resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.transition(StateClosed)
	cb.consecutiveFailures = 0
	hook, from, to := cb.pendingHook()
	cb.mu.Unlock()

	if hook != nil {
		hook(cb.config.Name, from, to)
	}
}

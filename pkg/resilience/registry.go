// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"sync"
	"time"
)

// Default breaker names pre-registered at startup. LLM fallback entries
// append their chain index (llm_fallback_0, llm_fallback_1, ...).
var DefaultBreakerNames = []string{
	"http_service",
	"database_service",
	"external_api",
	"tws_api",
	"llm_primary",
	"rag_service",
}

// Registry holds the process-wide set of named circuit breakers.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	hook     StateChangeHook
}

// NewRegistry creates a breaker registry with the default names
// pre-registered under defaults.
func NewRegistry(defaults CircuitBreakerConfig) *Registry {
	r := &Registry{breakers: make(map[string]*CircuitBreaker)}
	for _, name := range DefaultBreakerNames {
		cfg := defaults
		cfg.Name = name
		r.breakers[name] = NewCircuitBreaker(cfg)
	}
	return r
}

// SetStateChangeHook installs a hook on every current and future breaker.
func (r *Registry) SetStateChangeHook(hook StateChangeHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = hook
	for _, cb := range r.breakers {
		cb.SetStateChangeHook(hook)
	}
}

// Get returns the breaker with the given name, creating it with cfg when
// absent. Never nest two breakers of the same name.
func (r *Registry) Get(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cfg.Name = name
	cb = NewCircuitBreaker(cfg)
	if r.hook != nil {
		cb.SetStateChangeHook(r.hook)
	}
	r.breakers[name] = cb
	return cb
}

// Configure replaces the named breaker with a fresh one built from cfg.
// Startup wiring only: callers holding the previous breaker keep it.
func (r *Registry) Configure(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg.Name = name
	cb := NewCircuitBreaker(cfg)
	if r.hook != nil {
		cb.SetStateChangeHook(r.hook)
	}
	r.breakers[name] = cb
	return cb
}

// Lookup returns the breaker with the given name, or nil.
func (r *Registry) Lookup(name string) *CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// Snapshot returns the metrics of every registered breaker.
func (r *Registry) Snapshot() map[string]CircuitBreakerMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]CircuitBreakerMetrics, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.Metrics()
	}
	return out
}

// DefaultBreakerConfig returns the breaker defaults used when no
// per-breaker configuration is supplied.
func DefaultBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
	}
}

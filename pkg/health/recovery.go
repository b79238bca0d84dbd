// SPDX-License-Identifier: Apache-2.0
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/netover/hwav5-sub002/pkg/resilience"
)

// RecoveryResult describes one recovery attempt.
type RecoveryResult struct {
	Success      bool           `json:"success"`
	Component    string         `json:"component"`
	RecoveryType string         `json:"recovery_type"`
	DurationMs   int64          `json:"duration_ms"`
	Actions      []string       `json:"actions"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Error        string         `json:"error,omitempty"`
	AttemptedAt  time.Time      `json:"attempted_at"`
}

// RecoveryDeps are the handles the recovery strategies act on. Any nil
// member disables the corresponding action.
type RecoveryDeps struct {
	// Pools supplies connection pool stats for the database strategy.
	Pools PoolStatsFunc

	// ResetPool recreates one pool's connections.
	ResetPool func(ctx context.Context, name string) error

	// Cache is probed and, as a last resort, cleared.
	Cache Cache

	// ClearCache drops all cached entries (full reset).
	ClearCache func()

	// Connectivity probes a component by name.
	Connectivity func(ctx context.Context, component string) error

	// Breakers allows resetting a tripped circuit breaker.
	Breakers *resilience.Registry
}

const maxRecoveryHistory = 50

// RecoveryManager applies per-component recovery strategies and keeps a
// bounded attempt history.
type RecoveryManager struct {
	deps   RecoveryDeps
	logger *slog.Logger

	mu      sync.Mutex
	history []RecoveryResult

	now func() time.Time
}

// NewRecoveryManager creates a manager over the given handles.
func NewRecoveryManager(deps RecoveryDeps, logger *slog.Logger) *RecoveryManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoveryManager{deps: deps, logger: logger, now: time.Now}
}

// AttemptComponentRecovery runs the strategy for the named component.
func (m *RecoveryManager) AttemptComponentRecovery(ctx context.Context, component string) RecoveryResult {
	start := m.now()
	var result RecoveryResult
	switch component {
	case ComponentDatabase:
		result = m.recoverDatabase(ctx)
	case ComponentCacheHierarchy:
		result = m.recoverCache(ctx)
	default:
		result = m.recoverGeneric(ctx, component)
	}
	result.Component = component
	result.AttemptedAt = start
	result.DurationMs = m.now().Sub(start).Milliseconds()

	m.mu.Lock()
	m.history = append(m.history, result)
	if len(m.history) > maxRecoveryHistory {
		m.history = m.history[len(m.history)-maxRecoveryHistory:]
	}
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "component recovery attempted",
		"component", component, "type", result.RecoveryType, "success", result.Success)
	return result
}

// recoverDatabase forces a pool health check, resets pools whose error
// rate is past 0.9 and finishes with a connectivity probe.
func (m *RecoveryManager) recoverDatabase(ctx context.Context) RecoveryResult {
	result := RecoveryResult{RecoveryType: "database_pool", Metadata: map[string]any{}}

	if m.deps.Pools != nil {
		result.Actions = append(result.Actions, "pool_health_check")
		for _, p := range m.deps.Pools() {
			result.Metadata[p.Name+"_error_rate"] = p.ErrorRate
			if p.ErrorRate > 0.9 && m.deps.ResetPool != nil {
				result.Actions = append(result.Actions, "pool_reset:"+p.Name)
				if err := m.deps.ResetPool(ctx, p.Name); err != nil {
					result.Error = err.Error()
					return result
				}
			}
		}
	}

	result.Actions = append(result.Actions, "connectivity_probe")
	if m.deps.Connectivity != nil {
		if err := m.deps.Connectivity(ctx, ComponentDatabase); err != nil {
			result.Error = err.Error()
			return result
		}
	}
	result.Success = true
	return result
}

// recoverCache probes the hierarchy and escalates from a stale-entry
// clear to a full reset.
func (m *RecoveryManager) recoverCache(ctx context.Context) RecoveryResult {
	result := RecoveryResult{RecoveryType: "cache_hierarchy"}

	result.Actions = append(result.Actions, "connectivity_probe")
	if m.deps.Cache != nil && cacheRoundTrip(m.deps.Cache) {
		result.Success = true
		return result
	}

	if m.deps.ClearCache != nil {
		result.Actions = append(result.Actions, "full_reset")
		m.deps.ClearCache()
	}

	result.Actions = append(result.Actions, "verify")
	if m.deps.Cache == nil {
		result.Error = "cache not configured"
		return result
	}
	result.Success = cacheRoundTrip(m.deps.Cache)
	if !result.Success {
		result.Error = "cache unusable after reset"
	}
	return result
}

func cacheRoundTrip(c Cache) bool {
	key := "recovery:probe"
	if err := c.Set(key, "ok", time.Minute); err != nil {
		return false
	}
	defer c.Delete(key)
	v, ok := c.Get(key)
	return ok && v == "ok"
}

// recoverGeneric probes connectivity and resets the component's circuit
// breaker when one is registered and open.
func (m *RecoveryManager) recoverGeneric(ctx context.Context, component string) RecoveryResult {
	result := RecoveryResult{RecoveryType: "generic_service", Metadata: map[string]any{}}

	result.Actions = append(result.Actions, "connectivity_probe")
	if m.deps.Connectivity != nil {
		if err := m.deps.Connectivity(ctx, component); err != nil {
			result.Error = err.Error()
			return result
		}
	}

	if m.deps.Breakers != nil {
		if cb := m.deps.Breakers.Lookup(component); cb != nil {
			result.Metadata["breaker_state"] = string(cb.State())
			if cb.State() == resilience.StateOpen {
				result.Actions = append(result.Actions, "circuit_breaker_reset")
				cb.Reset()
			}
		}
	}

	result.Actions = append(result.Actions, "endpoint_health")
	result.Success = true
	return result
}

// RecoveryHistory returns a copy of the attempt log, oldest first.
func (m *RecoveryManager) RecoveryHistory() []RecoveryResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecoveryResult, len(m.history))
	copy(out, m.history)
	return out
}

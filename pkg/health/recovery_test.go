// SPDX-License-Identifier: Apache-2.0
package health

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/netover/hwav5-sub002/pkg/resilience"
)

type fakeCache struct {
	store   map[string]interface{}
	failSet bool
	cleared bool
}

func newFakeCache() *fakeCache { return &fakeCache{store: map[string]interface{}{}} }

func (c *fakeCache) Set(key string, value interface{}, ttl time.Duration) error {
	if c.failSet {
		return stderrors.New("write failed")
	}
	c.store[key] = value
	return nil
}

func (c *fakeCache) Get(key string) (interface{}, bool) {
	v, ok := c.store[key]
	return v, ok
}

func (c *fakeCache) Delete(key string) bool {
	_, ok := c.store[key]
	delete(c.store, key)
	return ok
}

func TestDatabaseRecoveryResetsBadPool(t *testing.T) {
	var resets []string
	m := NewRecoveryManager(RecoveryDeps{
		Pools: func() []PoolStats {
			return []PoolStats{
				{Name: "main", ErrorRate: 0.95},
				{Name: "replica", ErrorRate: 0.1},
			}
		},
		ResetPool: func(ctx context.Context, name string) error {
			resets = append(resets, name)
			return nil
		},
		Connectivity: func(ctx context.Context, component string) error { return nil },
	}, nil)

	res := m.AttemptComponentRecovery(context.Background(), ComponentDatabase)
	if !res.Success || res.RecoveryType != "database_pool" {
		t.Errorf("result = %+v", res)
	}
	if len(resets) != 1 || resets[0] != "main" {
		t.Errorf("expected only the erroring pool reset, got %v", resets)
	}
	if !hasAction(res.Actions, "pool_health_check") || !hasAction(res.Actions, "connectivity_probe") {
		t.Errorf("actions = %v", res.Actions)
	}
}

func TestDatabaseRecoveryFailsOnConnectivity(t *testing.T) {
	m := NewRecoveryManager(RecoveryDeps{
		Connectivity: func(ctx context.Context, component string) error {
			return stderrors.New("still down")
		},
	}, nil)

	res := m.AttemptComponentRecovery(context.Background(), ComponentDatabase)
	if res.Success || res.Error != "still down" {
		t.Errorf("result = %+v", res)
	}
}

func TestCacheRecoveryShortCircuitsWhenHealthy(t *testing.T) {
	c := newFakeCache()
	cleared := false
	m := NewRecoveryManager(RecoveryDeps{
		Cache:      c,
		ClearCache: func() { cleared = true },
	}, nil)

	res := m.AttemptComponentRecovery(context.Background(), ComponentCacheHierarchy)
	if !res.Success {
		t.Errorf("result = %+v", res)
	}
	if cleared {
		t.Errorf("healthy cache must not be reset")
	}
}

func TestCacheRecoveryEscalatesToFullReset(t *testing.T) {
	c := newFakeCache()
	c.failSet = true
	m := NewRecoveryManager(RecoveryDeps{
		Cache: c,
		ClearCache: func() {
			c.failSet = false // reset restores writability
		},
	}, nil)

	res := m.AttemptComponentRecovery(context.Background(), ComponentCacheHierarchy)
	if !res.Success {
		t.Errorf("result = %+v", res)
	}
	if !hasAction(res.Actions, "full_reset") {
		t.Errorf("expected full reset, actions = %v", res.Actions)
	}
}

func TestGenericRecoveryResetsOpenBreaker(t *testing.T) {
	breakers := resilience.NewRegistry(resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
	})
	cb := breakers.Get("tws_monitor", resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
	})
	_ = cb.Call(context.Background(), func(context.Context) error {
		return stderrors.New("trip")
	})
	if cb.State() != resilience.StateOpen {
		t.Fatal("breaker should be open")
	}

	m := NewRecoveryManager(RecoveryDeps{
		Connectivity: func(ctx context.Context, component string) error { return nil },
		Breakers:     breakers,
	}, nil)

	res := m.AttemptComponentRecovery(context.Background(), "tws_monitor")
	if !res.Success || !hasAction(res.Actions, "circuit_breaker_reset") {
		t.Errorf("result = %+v", res)
	}
	if cb.State() != resilience.StateClosed {
		t.Errorf("breaker not reset: %s", cb.State())
	}
}

func TestRecoveryHistoryBounded(t *testing.T) {
	m := NewRecoveryManager(RecoveryDeps{
		Connectivity: func(ctx context.Context, component string) error { return nil },
	}, nil)

	for i := 0; i < maxRecoveryHistory+10; i++ {
		m.AttemptComponentRecovery(context.Background(), "external_api")
	}
	if got := len(m.RecoveryHistory()); got != maxRecoveryHistory {
		t.Errorf("history size = %d", got)
	}
}

func hasAction(actions []string, want string) bool {
	for _, a := range actions {
		if a == want {
			return true
		}
	}
	return false
}

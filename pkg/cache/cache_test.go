// SPDX-License-Identifier: Apache-2.0
package cache

import (
	"fmt"
	"sort"
	"testing"
	"time"

	gerrors "github.com/netover/hwav5-sub002/pkg/errors"
)

func TestL1InvalidShards(t *testing.T) {
	if _, err := NewL1Cache(10, 0); !gerrors.IsCode(err, gerrors.CodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT for zero shards, got %v", err)
	}
	if _, err := NewL1Cache(10, -1); err == nil {
		t.Errorf("expected error for negative shards")
	}
}

func TestL1ClampShards(t *testing.T) {
	// num_shards > max_size clamps to a single shard.
	c, err := NewL1Cache(3, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.shards) != 1 {
		t.Errorf("expected 1 shard, got %d", len(c.shards))
	}
}

func TestL1LRUEviction(t *testing.T) {
	c, err := NewL1Cache(3, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c.Set("k1", 1)
	c.Set("k2", 2)
	c.Set("k3", 3)
	c.Get("k1") // refresh k1, making k2 the eviction victim
	c.Set("k4", 4)

	keys := c.Keys()
	sort.Strings(keys)
	want := []string{"k1", "k3", "k4"}
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("expected keys %v, got %v", want, keys)
		}
	}
	if _, ok := c.Get("k2"); ok {
		t.Errorf("expected k2 evicted")
	}
}

func TestL2ReadTimeExpiry(t *testing.T) {
	c := NewL2Cache(50*time.Millisecond, time.Hour) // cleanup never fires in test
	clock := time.Now()
	c.now = func() time.Time { return clock }

	c.Set("x", 7, 0)
	if v, ok := c.Get("x"); !ok || v != 7 {
		t.Fatalf("expected hit before expiry")
	}

	clock = clock.Add(51 * time.Millisecond)
	if _, ok := c.Get("x"); ok {
		t.Errorf("expected read-time expiry without cleanup task")
	}
}

func TestL2CleanupTask(t *testing.T) {
	c := NewL2Cache(10*time.Millisecond, 20*time.Millisecond)
	c.Start()
	defer c.Stop()

	c.Set("a", 1, 0)
	time.Sleep(60 * time.Millisecond)

	if c.Len() != 0 {
		t.Errorf("expected cleanup to remove expired entries, len=%d", c.Len())
	}
}

func TestL2StopIdempotent(t *testing.T) {
	c := NewL2Cache(time.Minute, 10*time.Millisecond)
	c.Start()
	c.Start()
	c.Stop()
	c.Stop()
}

func TestHierarchyWriteThrough(t *testing.T) {
	h, err := NewHierarchy(HierarchyConfig{
		L1MaxSize: 10, L1NumShards: 2,
		L2DefaultTTL: time.Minute, L2CleanupInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := h.Set("x", 7, 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if v, ok := h.Get("x"); !ok || v != 7 {
		t.Errorf("expected read-your-write, got %v ok=%v", v, ok)
	}

	l1, l2 := h.Size()
	if l1 != 1 || l2 != 1 {
		t.Errorf("expected both tiers populated, got l1=%d l2=%d", l1, l2)
	}
}

func TestHierarchyPromotionOnL2Hit(t *testing.T) {
	h, err := NewHierarchy(HierarchyConfig{
		L1MaxSize: 10, L1NumShards: 1,
		L2DefaultTTL: time.Minute, L2CleanupInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_ = h.Set("k", "v", 0)
	h.l1.Delete(h.fullKey("k")) // simulate L1 eviction

	if v, ok := h.Get("k"); !ok || v != "v" {
		t.Fatalf("expected L2 hit, got %v ok=%v", v, ok)
	}

	m := h.Metrics()
	if m.L2Hits != 1 {
		t.Errorf("expected 1 L2 hit, got %d", m.L2Hits)
	}
	// Promoted: next get hits L1.
	if _, ok := h.Get("k"); !ok {
		t.Fatalf("expected hit after promotion")
	}
	if m := h.Metrics(); m.L1Hits != 1 {
		t.Errorf("expected promotion to serve from L1, hits=%d", m.L1Hits)
	}
}

func TestHierarchyLRUWithL2Backing(t *testing.T) {
	h, err := NewHierarchy(HierarchyConfig{
		L1MaxSize: 3, L1NumShards: 1,
		L2DefaultTTL: time.Minute, L2CleanupInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_ = h.Set("k1", 1, 0)
	_ = h.Set("k2", 2, 0)
	_ = h.Set("k3", 3, 0)
	h.Get("k1")
	_ = h.Set("k4", 4, 0) // evicts k2 from L1

	// k2 still lives in L2, gets promoted back.
	if v, ok := h.Get("k2"); !ok || v != 2 {
		t.Errorf("expected L2 to back the evicted key, got %v ok=%v", v, ok)
	}
	if m := h.Metrics(); m.L2Hits != 1 {
		t.Errorf("expected the k2 read to be an L2 hit, got %+v", m)
	}
}

func TestHierarchyExpiredIsAbsent(t *testing.T) {
	h, err := NewHierarchy(HierarchyConfig{
		L1MaxSize: 10, L1NumShards: 1,
		L2DefaultTTL: 20 * time.Millisecond, L2CleanupInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_ = h.Set("x", 7, 0)
	h.l1.Delete(h.fullKey("x")) // force the L2 path
	time.Sleep(30 * time.Millisecond)

	if _, ok := h.Get("x"); ok {
		t.Errorf("expected expired entry to read as absent")
	}
}

func TestHierarchyDeleteClear(t *testing.T) {
	h, _ := NewHierarchy(DefaultHierarchyConfig())
	_ = h.Set("a", 1, 0)

	if !h.Delete("a") {
		t.Errorf("expected delete to succeed")
	}
	if h.Delete("missing") {
		t.Errorf("expected delete of absent key to fail")
	}

	_ = h.Set("b", 2, 0)
	h.Clear()
	if l1, l2 := h.Size(); l1 != 0 || l2 != 0 {
		t.Errorf("expected empty after clear, got %d/%d", l1, l2)
	}
}

func TestHierarchyKeyPrefix(t *testing.T) {
	h, _ := NewHierarchy(HierarchyConfig{
		L1MaxSize: 10, L1NumShards: 1,
		L2DefaultTTL: time.Minute, L2CleanupInterval: time.Hour,
		KeyPrefix: "tws:",
	})

	_ = h.Set("job1", "x", 0)
	if _, ok := h.l2.Get("tws:job1"); !ok {
		t.Errorf("expected prefixed key in L2")
	}
	if v, ok := h.Get("job1"); !ok || v != "x" {
		t.Errorf("expected prefixed get to round-trip")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	h, _ := NewHierarchy(HierarchyConfig{
		L1MaxSize: 10, L1NumShards: 1,
		L2DefaultTTL: time.Minute, L2CleanupInterval: time.Hour,
		EnvelopeEnabled: true,
	})

	cases := []interface{}{
		"plain string",
		float64(42),
		map[string]interface{}{"status": "SUCC", "count": float64(3)},
		[]interface{}{"a", "b"},
		nil,
	}
	for i, v := range cases {
		key := fmt.Sprintf("k%d", i)
		if err := h.Set(key, v, 0); err != nil {
			t.Fatalf("set %d failed: %v", i, err)
		}
		got, ok := h.Get(key)
		if !ok {
			t.Fatalf("case %d: expected hit", i)
		}
		if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", v) {
			t.Errorf("case %d: round-trip mismatch: got %v, want %v", i, got, v)
		}
	}

	// The stored representation must actually be enveloped.
	raw, _ := h.l2.Get("k0")
	s, ok := raw.(string)
	if !ok || len(s) < len(envelopeMarker) || s[:len(envelopeMarker)] != envelopeMarker {
		t.Errorf("expected enveloped representation in L2, got %v", raw)
	}
}

func TestHierarchyMetricsRatios(t *testing.T) {
	h, _ := NewHierarchy(HierarchyConfig{
		L1MaxSize: 10, L1NumShards: 1,
		L2DefaultTTL: time.Minute, L2CleanupInterval: time.Hour,
	})

	// Empty denominator yields 0, not NaN.
	if m := h.Metrics(); m.L1HitRatio != 0 || m.OverallHitRatio != 0 {
		t.Errorf("expected zero ratios on empty cache, got %+v", m)
	}

	_ = h.Set("a", 1, 0)
	h.Get("a")       // L1 hit
	h.Get("missing") // full miss

	m := h.Metrics()
	if m.TotalGets != 2 || m.L1Hits != 1 || m.L2Misses != 1 {
		t.Errorf("unexpected counters: %+v", m)
	}
	if m.L1HitRatio != 0.5 {
		t.Errorf("expected l1 ratio 0.5, got %v", m.L1HitRatio)
	}
	if m.OverallHitRatio != 0.5 {
		t.Errorf("expected overall ratio 0.5, got %v", m.OverallHitRatio)
	}
}

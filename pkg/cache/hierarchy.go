// SPDX-License-Identifier: Apache-2.0
package cache

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/netover/hwav5-sub002/pkg/errors"
)

// envelopeMarker prefixes envelope-encoded values so decode can tell an
// encoded payload from a plain string.
const envelopeMarker = "enc:v1:"

// HierarchyConfig sizes and tunes a cache hierarchy instance.
type HierarchyConfig struct {
	L1MaxSize         int
	L1NumShards       int
	L2DefaultTTL      time.Duration
	L2CleanupInterval time.Duration
	KeyPrefix         string
	EnvelopeEnabled   bool
}

// DefaultHierarchyConfig returns the stock sizing.
func DefaultHierarchyConfig() HierarchyConfig {
	return HierarchyConfig{
		L1MaxSize:         1000,
		L1NumShards:       8,
		L2DefaultTTL:      5 * time.Minute,
		L2CleanupInterval: 30 * time.Second,
	}
}

// Counters is the shared counter pack of a hierarchy.
type Counters struct {
	L1Hits    int64 `json:"l1_hits"`
	L1Misses  int64 `json:"l1_misses"`
	L2Hits    int64 `json:"l2_hits"`
	L2Misses  int64 `json:"l2_misses"`
	TotalGets int64 `json:"total_gets"`
	TotalSets int64 `json:"total_sets"`

	L1HitRatio      float64 `json:"l1_hit_ratio"`
	OverallHitRatio float64 `json:"overall_hit_ratio"`
}

// Hierarchy composes the sharded L1 and the TTL L2 with write-through
// sets and L1 promotion on L2 hits.
type Hierarchy struct {
	l1  *L1Cache
	l2  *L2Cache
	cfg HierarchyConfig

	l1Hits    atomic.Int64
	l1Misses  atomic.Int64
	l2Hits    atomic.Int64
	l2Misses  atomic.Int64
	totalGets atomic.Int64
	totalSets atomic.Int64
}

// NewHierarchy builds a hierarchy from cfg. The L2 cleanup task starts on
// Start and stops on Stop.
func NewHierarchy(cfg HierarchyConfig) (*Hierarchy, error) {
	if cfg.L1MaxSize == 0 {
		cfg = DefaultHierarchyConfig()
	}
	l1, err := NewL1Cache(cfg.L1MaxSize, cfg.L1NumShards)
	if err != nil {
		return nil, err
	}
	return &Hierarchy{
		l1:  l1,
		l2:  NewL2Cache(cfg.L2DefaultTTL, cfg.L2CleanupInterval),
		cfg: cfg,
	}, nil
}

// Start launches the L2 cleanup task.
func (h *Hierarchy) Start() { h.l2.Start() }

// Stop terminates the L2 cleanup task.
func (h *Hierarchy) Stop() { h.l2.Stop() }

func (h *Hierarchy) fullKey(key string) string {
	return h.cfg.KeyPrefix + key
}

// Get looks the key up in L1 first, falling back to L2. An L2 hit is
// promoted into L1 under the same key.
func (h *Hierarchy) Get(key string) (interface{}, bool) {
	h.totalGets.Add(1)
	k := h.fullKey(key)

	if v, ok := h.l1.Get(k); ok {
		h.l1Hits.Add(1)
		if dv, err := h.decode(v); err == nil {
			return dv, true
		}
		// Undecodable entry: drop it and fall through to L2.
		h.l1.Delete(k)
	} else {
		h.l1Misses.Add(1)
	}

	v, ok := h.l2.Get(k)
	if !ok {
		h.l2Misses.Add(1)
		return nil, false
	}
	h.l2Hits.Add(1)

	dv, err := h.decode(v)
	if err != nil {
		h.l2.Delete(k)
		return nil, false
	}

	// Promotion carries no TTL: L1 is bounded by LRU only.
	h.l1.Set(k, v)
	return dv, true
}

// Set writes through: L2 first (with ttl, or the instance default), then
// L1. Lock order is always L2 then L1 shard.
func (h *Hierarchy) Set(key string, value interface{}, ttl time.Duration) error {
	h.totalSets.Add(1)
	k := h.fullKey(key)

	ev, err := h.encode(value)
	if err != nil {
		return errors.New(errors.CodeCache, "envelope encoding failed", err).
			WithContext("key", key)
	}

	h.l2.Set(k, ev, ttl)
	h.l1.Set(k, ev)
	return nil
}

// Delete removes the key from both tiers; true when at least one tier
// held it.
func (h *Hierarchy) Delete(key string) bool {
	k := h.fullKey(key)
	inL1 := h.l1.Delete(k)
	inL2 := h.l2.Delete(k)
	return inL1 || inL2
}

// Clear drops both tiers.
func (h *Hierarchy) Clear() {
	h.l1.Clear()
	h.l2.Clear()
}

// Size returns (l1 entries, l2 entries).
func (h *Hierarchy) Size() (int, int) {
	return h.l1.Len(), h.l2.Len()
}

// Metrics returns the counter pack with derived hit ratios.
func (h *Hierarchy) Metrics() Counters {
	c := Counters{
		L1Hits:    h.l1Hits.Load(),
		L1Misses:  h.l1Misses.Load(),
		L2Hits:    h.l2Hits.Load(),
		L2Misses:  h.l2Misses.Load(),
		TotalGets: h.totalGets.Load(),
		TotalSets: h.totalSets.Load(),
	}
	if denom := c.L1Hits + c.L1Misses; denom > 0 {
		c.L1HitRatio = float64(c.L1Hits) / float64(denom)
	}
	if c.TotalGets > 0 {
		c.OverallHitRatio = float64(c.L1Hits+c.L2Hits) / float64(c.TotalGets)
	}
	return c
}

// encode wraps the value in the envelope when enabled: JSON body,
// base64, marker prefix. Round-trips any JSON-marshalable value.
func (h *Hierarchy) encode(value interface{}) (interface{}, error) {
	if !h.cfg.EnvelopeEnabled {
		return value, nil
	}
	body, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return envelopeMarker + base64.StdEncoding.EncodeToString(body), nil
}

// decode unwraps an envelope-flagged value; plain values pass through.
func (h *Hierarchy) decode(value interface{}) (interface{}, error) {
	s, ok := value.(string)
	if !ok || !strings.HasPrefix(s, envelopeMarker) {
		return value, nil
	}
	body, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, envelopeMarker))
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SPDX-License-Identifier: Apache-2.0
// Package cache implements the gateway's two-tier cache: a sharded LRU L1
// in front of a TTL-expiring L2, composed with write-through semantics.
package cache

import (
	"container/list"
	"hash/fnv"
	"sync"

	"github.com/netover/hwav5-sub002/pkg/errors"
)

// L1Cache is an array of independently locked LRU shards. Shard selection
// is hash(key) mod numShards; eviction is automatic at perShard capacity.
type L1Cache struct {
	shards   []*l1Shard
	perShard int
}

type l1Shard struct {
	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List // front = most recently used
	cap   int
}

type l1Entry struct {
	key   string
	value interface{}
}

// NewL1Cache creates a sharded LRU with maxSize total capacity. When
// numShards exceeds maxSize the shard count clamps to 1 so eviction stays
// deterministic; numShards <= 0 is invalid.
func NewL1Cache(maxSize, numShards int) (*L1Cache, error) {
	if numShards <= 0 {
		return nil, errors.New(errors.CodeInvalidInput, "num_shards must be positive", nil).
			WithContext("num_shards", numShards)
	}
	if maxSize <= 0 {
		return nil, errors.New(errors.CodeInvalidInput, "max_size must be positive", nil).
			WithContext("max_size", maxSize)
	}
	if numShards > maxSize {
		numShards = 1
	}

	perShard := maxSize / numShards
	if perShard < 1 {
		perShard = 1
	}

	shards := make([]*l1Shard, numShards)
	for i := range shards {
		shards[i] = &l1Shard{
			items: make(map[string]*list.Element),
			order: list.New(),
			cap:   perShard,
		}
	}
	return &L1Cache{shards: shards, perShard: perShard}, nil
}

func (c *L1Cache) shard(key string) *l1Shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Get returns the cached value and whether it was present, refreshing the
// entry's recency.
func (c *L1Cache) Get(key string) (interface{}, bool) {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return nil, false
	}
	s.order.MoveToFront(el)
	return el.Value.(*l1Entry).value, true
}

// Set stores the value, evicting the least recently used entry of the
// shard when at capacity.
func (c *L1Cache) Set(key string, value interface{}) {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		el.Value.(*l1Entry).value = value
		s.order.MoveToFront(el)
		return
	}

	if s.order.Len() >= s.cap {
		oldest := s.order.Back()
		if oldest != nil {
			s.order.Remove(oldest)
			delete(s.items, oldest.Value.(*l1Entry).key)
		}
	}

	s.items[key] = s.order.PushFront(&l1Entry{key: key, value: value})
}

// Delete removes the key; reports whether it was present.
func (c *L1Cache) Delete(key string) bool {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return false
	}
	s.order.Remove(el)
	delete(s.items, key)
	return true
}

// Clear drops every entry from every shard.
func (c *L1Cache) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.items = make(map[string]*list.Element)
		s.order = list.New()
		s.mu.Unlock()
	}
}

// Len returns the total number of cached entries.
func (c *L1Cache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += s.order.Len()
		s.mu.Unlock()
	}
	return total
}

// Keys returns a snapshot of all cached keys. Test and diagnostics helper.
func (c *L1Cache) Keys() []string {
	var keys []string
	for _, s := range c.shards {
		s.mu.Lock()
		for k := range s.items {
			keys = append(keys, k)
		}
		s.mu.Unlock()
	}
	return keys
}

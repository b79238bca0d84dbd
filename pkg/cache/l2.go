// SPDX-License-Identifier: Apache-2.0
package cache

import (
	"sync"
	"time"
)

// L2Cache is a single TTL map with a background cleanup task. Expiry is
// also checked on read so a just-expired entry is never returned between
// cleanup cycles.
type L2Cache struct {
	defaultTTL      time.Duration
	cleanupInterval time.Duration
	now             func() time.Time

	mu      sync.Mutex
	items   map[string]*l2Entry
	stopCh  chan struct{}
	stopped sync.WaitGroup
	running bool
}

type l2Entry struct {
	value     interface{}
	createdAt time.Time
	ttl       time.Duration
}

func (e *l2Entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) >= e.ttl
}

// NewL2Cache creates a TTL cache with the given default TTL and cleanup
// cadence.
func NewL2Cache(defaultTTL, cleanupInterval time.Duration) *L2Cache {
	if cleanupInterval <= 0 {
		cleanupInterval = 30 * time.Second
	}
	return &L2Cache{
		defaultTTL:      defaultTTL,
		cleanupInterval: cleanupInterval,
		now:             time.Now,
		items:           make(map[string]*l2Entry),
	}
}

// Start launches the background cleanup task. Idempotent.
func (c *L2Cache) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.stopped.Add(1)
	go c.cleanupLoop(c.stopCh)
}

// Stop terminates the cleanup task within one cycle and waits for it.
// Safe to call while operations are in flight.
func (c *L2Cache) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()
	c.stopped.Wait()
}

func (c *L2Cache) cleanupLoop(stop <-chan struct{}) {
	defer c.stopped.Done()
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *L2Cache) removeExpired() {
	now := c.now()
	c.mu.Lock()
	for k, e := range c.items {
		if e.expired(now) {
			delete(c.items, k)
		}
	}
	c.mu.Unlock()
}

// Get returns the value and whether a live entry exists. Expired entries
// are treated as absent and dropped.
func (c *L2Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if e.expired(c.now()) {
		delete(c.items, key)
		return nil, false
	}
	return e.value, true
}

// Set stores the value with the given TTL; ttl <= 0 uses the default.
func (c *L2Cache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.items[key] = &l2Entry{value: value, createdAt: c.now(), ttl: ttl}
	c.mu.Unlock()
}

// Delete removes the key; reports whether a live entry was present.
func (c *L2Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return false
	}
	expired := e.expired(c.now())
	delete(c.items, key)
	return !expired
}

// Clear drops every entry.
func (c *L2Cache) Clear() {
	c.mu.Lock()
	c.items = make(map[string]*l2Entry)
	c.mu.Unlock()
}

// Len returns the number of stored entries, live or not yet collected.
func (c *L2Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

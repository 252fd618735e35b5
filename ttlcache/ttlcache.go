// Package ttlcache provides a generic, capacity-bounded key/value cache with
// per-instance TTL expiry. Each cache serializes its operations behind a
// mutex; distinct instances are fully independent. A miss (absent or expired
// key) is a normal result, never an error.
package ttlcache

import (
	"sort"
	"sync"
	"time"
)

// Observer receives cache events. Implementations must be safe for concurrent
// use. A nil observer disables instrumentation.
type Observer interface {
	// Hit is called when Get returns a fresh value.
	Hit()

	// Miss is called when Get finds no usable entry (absent or expired).
	Miss()

	// Evicted is called with the number of entries removed by a capacity
	// eviction pass.
	Evicted(n int)

	// Swept is called with the number of entries removed by SweepExpired.
	Swept(n int)
}

// entry holds a cached value with its insertion time. The insertion time
// drives both TTL expiry and capacity-eviction ordering.
type entry[V any] struct {
	value      V
	insertedAt time.Time
}

// Cache is a TTL-bounded, capacity-bounded key/value store. The zero value is
// not usable; construct with [New].
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]

	ttl      time.Duration
	capacity int
	obs      Observer
	nowFunc  func() time.Time // for testing; defaults to time.Now
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithObserver attaches an event observer to the cache.
func WithObserver[V any](obs Observer) Option[V] {
	return func(c *Cache[V]) {
		c.obs = obs
	}
}

// New creates a Cache whose entries expire ttl after insertion and whose
// entry count never exceeds capacity. Capacity values below 1 are treated
// as 1.
func New[V any](ttl time.Duration, capacity int, opts ...Option[V]) *Cache[V] {
	if capacity < 1 {
		capacity = 1
	}
	c := &Cache[V]{
		entries:  make(map[string]entry[V]),
		ttl:      ttl,
		capacity: capacity,
		nowFunc:  time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the value for key if present and not older than the cache TTL.
// A stale entry is removed as a side effect of the lookup.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.miss()
		return zero, false
	}
	if c.nowFunc().Sub(e.insertedAt) > c.ttl {
		delete(c.entries, key)
		c.miss()
		return zero, false
	}
	c.hit()
	return e.value, true
}

// Set inserts or overwrites the entry for key with a fresh timestamp. When
// inserting a new key would exceed the capacity bound, the oldest ⌈capacity/5⌉
// entries (minimum 1) are evicted first, so the bound holds after every call.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}
	c.entries[key] = entry[V]{value: value, insertedAt: c.nowFunc()}
}

// Remove deletes the entry for key if present. Removing an absent key is a
// no-op.
func (c *Cache[V]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear empties the cache.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}

// Len returns the current number of entries, including any that have expired
// but not yet been removed.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns the keys currently present, in no particular order.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// SweepExpired removes every entry older than the cache TTL and returns the
// number removed. It is intended to run on a periodic timer so memory is
// reclaimed even for keys nobody re-requests.
func (c *Cache[V]) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.insertedAt) > c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	if removed > 0 && c.obs != nil {
		c.obs.Swept(removed)
	}
	return removed
}

// evictOldestLocked removes the ⌈capacity/5⌉ oldest entries (minimum 1) by
// insertion time. Must be called with c.mu held.
func (c *Cache[V]) evictOldestLocked() {
	n := (c.capacity + 4) / 5
	if n < 1 {
		n = 1
	}
	if n > len(c.entries) {
		n = len(c.entries)
	}

	type aged struct {
		key string
		at  time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{key: k, at: e.insertedAt})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].at.Equal(all[j].at) {
			return all[i].key < all[j].key
		}
		return all[i].at.Before(all[j].at)
	})

	for _, a := range all[:n] {
		delete(c.entries, a.key)
	}
	if c.obs != nil {
		c.obs.Evicted(n)
	}
}

func (c *Cache[V]) hit() {
	if c.obs != nil {
		c.obs.Hit()
	}
}

func (c *Cache[V]) miss() {
	if c.obs != nil {
		c.obs.Miss()
	}
}

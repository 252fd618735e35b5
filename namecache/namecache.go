// Package namecache caches a frequently needed scalar projection of an
// entity (a person's display name) keyed by entity id. Unlike the general
// ttlcache, it owns its fetch path: misses are resolved through an injected
// [Source], single lookups are deduplicated, and batches are chunked to the
// origin's query-page limit.
package namecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrNotFound is returned when the origin store has no entity for an id.
var ErrNotFound = errors.New("namecache: entity not found")

// BatchLimit is the maximum number of ids a single origin round-trip may
// carry, matching the backend's `in`-query limit.
const BatchLimit = 30

// Source resolves display names from the origin store.
type Source interface {
	// Lookup returns the display name for one entity id. It returns
	// [ErrNotFound] when the entity does not exist.
	Lookup(ctx context.Context, id string) (string, error)

	// LookupBatch resolves up to [BatchLimit] ids in one round-trip. Ids with
	// no matching entity are simply absent from the result; that is not an
	// error.
	LookupBatch(ctx context.Context, ids []string) (map[string]string, error)
}

const (
	defaultTTL           = 10 * time.Minute
	defaultCapacity      = 200
	defaultSweepInterval = 10 * time.Minute
)

type entry struct {
	name     string
	cachedAt time.Time
}

// Cache is a display-name cache over a Source. Construct with [New] and
// release the sweep goroutine with [Cache.Close].
type Cache struct {
	src Source
	log *slog.Logger

	ttl      time.Duration
	capacity int

	mu      sync.Mutex
	entries map[string]entry

	sf singleflight.Group

	stop     chan struct{}
	stopOnce sync.Once
	nowFunc  func() time.Time // for testing; defaults to time.Now
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the default entry TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCapacity overrides the default capacity bound.
func WithCapacity(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithLogger sets the logger for sweep diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(c *Cache) {
		if log != nil {
			c.log = log
		}
	}
}

// New creates a Cache over src and starts its periodic sweep loop. The sweep
// runs on its own schedule, independent of any registry.
func New(src Source, opts ...Option) *Cache {
	c := &Cache{
		src:      src,
		log:      slog.Default(),
		ttl:      defaultTTL,
		capacity: defaultCapacity,
		entries:  make(map[string]entry),
		stop:     make(chan struct{}),
		nowFunc:  time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	go c.sweepLoop(defaultSweepInterval)
	return c
}

// Get returns the display name for id, fetching from the origin on a miss or
// stale entry. Concurrent misses for the same id share one origin lookup.
// A missing entity surfaces as [ErrNotFound].
func (c *Cache) Get(ctx context.Context, id string) (string, error) {
	return c.GetWithMaxAge(ctx, id, c.ttl)
}

// GetWithMaxAge behaves like [Cache.Get] but accepts a per-call freshness
// bound, allowing callers with stricter requirements to bypass older entries.
func (c *Cache) GetWithMaxAge(ctx context.Context, id string, maxAge time.Duration) (string, error) {
	if name, ok := c.lookup(id, maxAge); ok {
		return name, nil
	}

	v, err, _ := c.sf.Do(id, func() (any, error) {
		name, err := c.src.Lookup(ctx, id)
		if err != nil {
			return "", err
		}
		c.store(id, name)
		return name, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Prefetch warms the cache for ids not already freshly cached, fetching the
// remainder in chunks of [BatchLimit]. Ids the origin does not know are left
// uncached; that is not an error.
func (c *Cache) Prefetch(ctx context.Context, ids []string) error {
	missing := c.filterStale(ids)
	for start := 0; start < len(missing); start += BatchLimit {
		end := min(start+BatchLimit, len(missing))
		names, err := c.src.LookupBatch(ctx, missing[start:end])
		if err != nil {
			return fmt.Errorf("namecache: batch lookup: %w", err)
		}
		for id, name := range names {
			c.store(id, name)
		}
	}
	return nil
}

// Invalidate removes the entry for id, forcing the next Get to hit the
// origin. Used by callers that know the entity changed.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// InvalidateAll empties the cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// SweepExpired removes every entry older than the cache TTL and returns the
// number removed.
func (c *Cache) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	removed := 0
	for id, e := range c.entries {
		if now.Sub(e.cachedAt) > c.ttl {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Clear empties the cache. Alias of [Cache.InvalidateAll] so the type
// satisfies the registry's Store contract.
func (c *Cache) Clear() { c.InvalidateAll() }

// Close stops the sweep loop. Safe to call more than once.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) lookup(id string, maxAge time.Duration) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return "", false
	}
	if c.nowFunc().Sub(e.cachedAt) > maxAge {
		delete(c.entries, id)
		return "", false
	}
	return e.name, true
}

func (c *Cache) store(id, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[id]; !exists && len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}
	c.entries[id] = entry{name: name, cachedAt: c.nowFunc()}
}

// filterStale returns the subset of ids that have no fresh cached entry,
// preserving order and dropping duplicates.
func (c *Cache) filterStale(ids []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	seen := make(map[string]bool, len(ids))
	var missing []string
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if e, ok := c.entries[id]; ok && now.Sub(e.cachedAt) <= c.ttl {
			continue
		}
		missing = append(missing, id)
	}
	return missing
}

// evictOldestLocked removes the oldest ⌈capacity/5⌉ entries by cache time.
// Must be called with c.mu held.
func (c *Cache) evictOldestLocked() {
	n := (c.capacity + 4) / 5
	if n < 1 {
		n = 1
	}
	if n > len(c.entries) {
		n = len(c.entries)
	}

	type aged struct {
		id string
		at time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for id, e := range c.entries {
		all = append(all, aged{id: id, at: e.cachedAt})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].at.Equal(all[j].at) {
			return all[i].id < all[j].id
		}
		return all[i].at.Before(all[j].at)
	})

	for _, a := range all[:n] {
		delete(c.entries, a.id)
	}
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if n := c.SweepExpired(); n > 0 {
				c.log.Debug("namecache: swept expired projections", slog.Int("removed", n))
			}
		}
	}
}

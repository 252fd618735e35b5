// Package cachekit provides the client-side caching toolkit: a registry of
// named TTL caches with coordinated lifecycle, plus the typed cache
// primitives in the ttlcache, namecache and imagecache subpackages and the
// retry helper used by cache-miss fetchers.
package cachekit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sparkmeet/cachekit/ttlcache"
)

// Store is the subset of cache behaviour the registry coordinates. Every
// typed cache created through [RegisterCache] satisfies it.
type Store interface {
	// SweepExpired removes expired entries and returns how many were removed.
	SweepExpired() int

	// Clear empties the store.
	Clear()

	// Len returns the current entry count.
	Len() int
}

// Registry owns the set of named caches used by an application and runs a
// single periodic sweep loop over all of them. Construct with [NewRegistry]
// and release the sweep goroutine with [Registry.Close].
type Registry struct {
	log     *slog.Logger
	metrics *Metrics

	mu     sync.Mutex
	caches map[string]Store

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates a Registry by applying the supplied functional [Option]
// values and starts its background sweep loop.
func NewRegistry(opts ...Option) *Registry {
	cfg := config{
		sweepInterval: DefaultSweepInterval,
		log:           slog.Default(),
	}
	for _, o := range opts {
		o(&cfg)
	}

	r := &Registry{
		log:     cfg.log,
		metrics: cfg.metrics,
		caches:  make(map[string]Store),
		stop:    make(chan struct{}),
	}
	go r.sweepLoop(cfg.sweepInterval)
	return r
}

// RegisterCache creates a typed TTL cache with the given profile, attaches
// the registry's metrics observer (when metrics are configured) and registers
// it under name. Registering a second cache under an existing name replaces
// the previous registration; the old instance keeps working but is no longer
// swept or cleared by the registry.
func RegisterCache[V any](r *Registry, name string, p Profile) *ttlcache.Cache[V] {
	var opts []ttlcache.Option[V]
	if r.metrics != nil {
		opts = append(opts, ttlcache.WithObserver[V](r.metrics.observer(name)))
	}
	c := ttlcache.New[V](p.TTL, p.Capacity, opts...)
	r.Register(name, c)
	return c
}

// Register adds an externally constructed store to the registry's sweep and
// clear coordination.
func (r *Registry) Register(name string, s Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caches[name] = s
}

// ClearAll empties every registered cache. Used on sign-out and explicit
// cache-reset triggers.
func (r *Registry) ClearAll() {
	for name, s := range r.snapshot() {
		s.Clear()
		if r.metrics != nil {
			r.metrics.size.WithLabelValues(name).Set(0)
		}
	}
	r.log.Debug("cachekit: cleared all caches")
}

// Stats returns the current entry count per registered cache.
func (r *Registry) Stats() map[string]int {
	stats := make(map[string]int)
	for name, s := range r.snapshot() {
		stats[name] = s.Len()
	}
	return stats
}

// SweepNow runs one sweep pass over every registered cache, outside the
// periodic schedule.
func (r *Registry) SweepNow() {
	r.sweepAll()
}

// Close stops the background sweep loop. It is safe to call more than once.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// sweepLoop runs for the lifetime of the registry. Exactly one loop exists
// per Registry instance.
func (r *Registry) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweepAll()
		}
	}
}

func (r *Registry) sweepAll() {
	total := 0
	for name, s := range r.snapshot() {
		total += s.SweepExpired()
		if r.metrics != nil {
			r.metrics.size.WithLabelValues(name).Set(float64(s.Len()))
		}
	}
	if total > 0 {
		r.log.Debug("cachekit: sweep removed expired entries", slog.Int("removed", total))
	}
}

// snapshot copies the cache map so sweeps and clears never hold r.mu while
// calling into a store.
func (r *Registry) snapshot() map[string]Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Store, len(r.caches))
	for k, v := range r.caches {
		out[k] = v
	}
	return out
}

// Package imagecache provides a two-tier (in-memory + on-disk) cache for
// binary image payloads fetched by URL, with in-flight request coalescing,
// priority-tagged fetch scheduling, memory-pressure handling and adaptive
// sizing from host memory. The fast tier is a cost-bounded ristretto cache;
// the durable tier is a flat directory of content-addressed files.
package imagecache

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// maxDiskAge is the horizon for the startup expiry sweep. Anything a user
// has not touched in a week is cheaper to re-fetch than to keep.
const maxDiskAge = 7 * 24 * time.Hour

// errEmptyPayload marks undecodable fetch results; they are treated as fetch
// failures and never stored.
var errEmptyPayload = errors.New("imagecache: empty payload")

// Cache is the two-tier image cache. Construct with [New]; release the
// memory tier with [Cache.Close].
type Cache struct {
	fetcher Fetcher
	mem     *ristretto.Cache[string, []byte]
	disk    *diskStore
	log     *slog.Logger
	tracer  trace.Tracer

	prefetchLimiter *rate.Limiter
	pressure        *pressureTracker

	mu    sync.Mutex
	loads map[string]*call
}

// call tracks one in-flight fetch so concurrent requesters share its result.
// val and err are written before done is closed and never after.
type call struct {
	done chan struct{}
	val  []byte
	err  error
}

// Option configures a Cache.
type Option func(*settings)

type settings struct {
	dir            string
	limits         Limits
	log            *slog.Logger
	tracerProvider trace.TracerProvider
	prefetchPerSec float64
	prefetchBurst  int
}

// WithDir overrides the cache directory. The default is a cachekit
// subdirectory of the user cache dir, falling back to the temp dir.
func WithDir(dir string) Option {
	return func(s *settings) {
		if dir != "" {
			s.dir = dir
		}
	}
}

// WithLimits overrides the adaptive memory/disk ceilings.
func WithLimits(l Limits) Option {
	return func(s *settings) {
		if l.MemoryBytes > 0 && l.DiskBytes > 0 {
			s.limits = l
		}
	}
}

// WithLogger sets the logger for best-effort disk and prefetch diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(s *settings) {
		if log != nil {
			s.log = log
		}
	}
}

// WithTracerProvider supplies the TracerProvider used for fetch spans. When
// unset the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *settings) {
		s.tracerProvider = tp
	}
}

// WithPrefetchRate bounds how many prefetch fetches may start per second.
func WithPrefetchRate(perSecond float64, burst int) Option {
	return func(s *settings) {
		if perSecond > 0 && burst > 0 {
			s.prefetchPerSec = perSecond
			s.prefetchBurst = burst
		}
	}
}

// New creates a Cache around fetcher. Construction runs a one-time age sweep
// of the disk tier in the background.
func New(fetcher Fetcher, opts ...Option) (*Cache, error) {
	s := settings{
		dir:            defaultDir(),
		limits:         AdaptiveLimits(),
		log:            slog.Default(),
		prefetchPerSec: 4,
		prefetchBurst:  4,
	}
	for _, o := range opts {
		o(&s)
	}

	// Size ristretto's admission counters assuming ~64 KiB per payload.
	counters := s.limits.MemoryBytes / (64 << 10) * 10
	if counters < 1024 {
		counters = 1024
	}
	mem, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: counters,
		MaxCost:     s.limits.MemoryBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	disk, err := newDiskStore(s.dir, s.limits.DiskBytes, s.log)
	if err != nil {
		mem.Close()
		return nil, err
	}

	tp := s.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	c := &Cache{
		fetcher:         fetcher,
		mem:             mem,
		disk:            disk,
		log:             s.log,
		tracer:          tp.Tracer("github.com/sparkmeet/cachekit/imagecache"),
		prefetchLimiter: rate.NewLimiter(rate.Limit(s.prefetchPerSec), s.prefetchBurst),
		pressure:        newPressureTracker(),
		loads:           make(map[string]*call),
	}

	go func() {
		if n := c.disk.sweepOlderThan(maxDiskAge); n > 0 {
			c.log.Debug("imagecache: startup sweep removed stale files", slog.Int("removed", n))
		}
	}()
	return c, nil
}

// Get returns the cached bytes for key without touching the network. A disk
// hit is promoted into memory (unless pressure currently suppresses memory
// writes) and returned.
func (c *Cache) Get(key string) ([]byte, bool) {
	if v, ok := c.mem.Get(key); ok {
		return bytes.Clone(v), true
	}
	data, ok := c.disk.read(key)
	if !ok {
		return nil, false
	}
	c.setMemory(key, data)
	return data, true
}

// Set stores data under key: into memory immediately (skipped while the
// cache is under memory pressure) and onto disk asynchronously.
func (c *Cache) Set(key string, data []byte) {
	c.setMemory(key, data)
	go c.disk.write(key, bytes.Clone(data))
}

// Remove drops key from both tiers.
func (c *Cache) Remove(key string) {
	c.mem.Del(key)
	c.disk.remove(key)
}

// Load is the network-aware entry point. It checks both cache tiers, then
// the in-flight table; if a fetch for key is already running the caller
// awaits and shares its result instead of issuing a second request.
// Otherwise a new fetch starts at the given priority and, on success,
// populates both tiers.
//
// The underlying fetch is detached from the requesters' contexts: a caller
// that cancels stops waiting, but a fetch shared with other awaiters runs to
// completion and its result is stored for whoever asks next.
func (c *Cache) Load(ctx context.Context, url string, priority Priority) ([]byte, error) {
	if v, ok := c.Get(url); ok {
		return v, nil
	}

	c.mu.Lock()
	if existing, ok := c.loads[url]; ok {
		c.mu.Unlock()
		return awaitCall(ctx, existing)
	}
	cl := &call{done: make(chan struct{})}
	c.loads[url] = cl
	c.mu.Unlock()

	go func() {
		cl.val, cl.err = c.fetch(context.WithoutCancel(ctx), url, priority)
		if cl.err == nil {
			c.setMemory(url, cl.val)
			c.disk.write(url, bytes.Clone(cl.val))
		}
		close(cl.done)

		// The key leaves the table exactly once, on completion.
		c.mu.Lock()
		delete(c.loads, url)
		c.mu.Unlock()
	}()

	return awaitCall(ctx, cl)
}

// Prefetch warms the cache for urls at low priority, skipping anything
// already cached or in flight. It returns immediately; fetches proceed in
// the background, throttled by the prefetch rate limit, until ctx is done.
func (c *Cache) Prefetch(ctx context.Context, urls []string) {
	go func() {
		for _, u := range urls {
			if c.contains(u) || c.inFlight(u) {
				continue
			}
			if err := c.prefetchLimiter.Wait(ctx); err != nil {
				return
			}
			if _, err := c.Load(ctx, u, PriorityLow); err != nil {
				c.log.Debug("imagecache: prefetch failed", slog.String("url", u), slog.Any("error", err))
			}
		}
	}()
}

// PressureWarning reacts to a host low-memory signal: the memory tier is
// dropped immediately, and repeated warnings within the tracking window
// escalate to a full disk purge.
func (c *Cache) PressureWarning() {
	c.mem.Clear()
	if c.pressure.record() {
		c.log.Warn("imagecache: repeated memory pressure, purging disk cache")
		c.disk.purge()
	}
}

// DiskUsage returns the current size in bytes of the disk tier.
func (c *Cache) DiskUsage() int64 {
	return c.disk.usage()
}

// Close releases the memory tier. The disk tier needs no teardown.
func (c *Cache) Close() {
	c.mem.Close()
}

// awaitCall waits for a shared in-flight fetch, honouring the waiter's
// context. The fetch itself is not cancelled when a waiter gives up.
func awaitCall(ctx context.Context, cl *call) ([]byte, error) {
	select {
	case <-cl.done:
		if cl.err != nil {
			return nil, cl.err
		}
		return bytes.Clone(cl.val), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fetch performs one network fetch wrapped in a trace span.
func (c *Cache) fetch(ctx context.Context, url string, priority Priority) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "imagecache.fetch", trace.WithAttributes(
		attribute.String("cache.key", url),
		attribute.String("cache.priority", priority.String()),
	))
	defer span.End()

	data, err := c.fetcher.Fetch(ctx, url, priority)
	if err == nil && len(data) == 0 {
		err = errEmptyPayload
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return data, nil
}

// setMemory writes into the fast tier unless the pressure cooldown is
// active, then waits for the buffered write to become visible.
func (c *Cache) setMemory(key string, data []byte) {
	if c.pressure.suppressed() {
		return
	}
	c.mem.Set(key, bytes.Clone(data), int64(len(data)))
	c.mem.Wait()
}

// contains reports whether key is present in either tier, without promoting.
func (c *Cache) contains(key string) bool {
	if _, ok := c.mem.Get(key); ok {
		return true
	}
	return c.disk.contains(key)
}

func (c *Cache) inFlight(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.loads[key]
	return ok
}

// defaultDir resolves the platform cache directory, falling back to the temp
// dir when unavailable.
func defaultDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "cachekit", "images")
}

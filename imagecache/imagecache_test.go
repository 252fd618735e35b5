package imagecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var testLimits = Limits{MemoryBytes: 8 << 20, DiskBytes: 8 << 20}

// blockingFetcher counts calls and optionally holds every fetch until
// released.
type blockingFetcher struct {
	calls   atomic.Int32
	release chan struct{}
	data    []byte
	err     error
}

func (f *blockingFetcher) Fetch(_ context.Context, _ string, _ Priority) ([]byte, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	return f.data, f.err
}

func newTestCache(t *testing.T, f Fetcher) *Cache {
	t.Helper()
	c, err := New(f, WithDir(t.TempDir()), WithLimits(testLimits))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestSetGet_MemoryTier(t *testing.T) {
	c := newTestCache(t, &blockingFetcher{})

	c.Set("k1", []byte("payload"))
	v, ok := c.Get("k1")
	if !ok {
		t.Fatal("expected hit")
	}
	if string(v) != "payload" {
		t.Fatalf("got %q, want %q", v, "payload")
	}

	if _, ok := c.Get("absent"); ok {
		t.Fatal("expected miss for absent key")
	}
}

func TestGet_DiskHitPromotesToMemory(t *testing.T) {
	c := newTestCache(t, &blockingFetcher{})

	// Only the durable tier knows this key.
	c.disk.write("k1", []byte("from-disk"))

	v, ok := c.Get("k1")
	if !ok || string(v) != "from-disk" {
		t.Fatalf("got (%q, %v), want disk hit", v, ok)
	}

	// Promotion makes the next read a memory hit.
	if _, ok := c.mem.Get("k1"); !ok {
		t.Fatal("disk hit was not promoted into memory")
	}
}

func TestLoad_FetchesOnMissAndPopulatesBothTiers(t *testing.T) {
	f := &blockingFetcher{data: []byte("fetched")}
	c := newTestCache(t, f)

	v, err := c.Load(t.Context(), "https://img.example/u1.jpg", PriorityNormal)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(v) != "fetched" {
		t.Fatalf("got %q, want %q", v, "fetched")
	}

	if _, ok := c.mem.Get("https://img.example/u1.jpg"); !ok {
		t.Fatal("fetched value missing from memory tier")
	}
	if !c.disk.contains("https://img.example/u1.jpg") {
		t.Fatal("fetched value missing from disk tier")
	}

	// Second load is a cache hit, no extra fetch.
	if _, err := c.Load(t.Context(), "https://img.example/u1.jpg", PriorityNormal); err != nil {
		t.Fatalf("Load 2: %v", err)
	}
	if n := f.calls.Load(); n != 1 {
		t.Fatalf("fetches = %d, want 1", n)
	}
}

func TestLoad_ConcurrentRequestersShareOneFetch(t *testing.T) {
	f := &blockingFetcher{data: []byte("shared"), release: make(chan struct{})}
	c := newTestCache(t, f)

	const n = 25
	var wg sync.WaitGroup
	results := make([][]byte, n)
	errs := make([]error, n)

	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.Load(context.Background(), "u", PriorityHigh)
		}()
	}

	// Let every goroutine reach the in-flight table before the fetch returns.
	deadline := time.Now().Add(2 * time.Second)
	for f.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	close(f.release)
	wg.Wait()

	if got := f.calls.Load(); got != 1 {
		t.Fatalf("fetches = %d, want exactly 1", got)
	}
	for i := range n {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if string(results[i]) != "shared" {
			t.Fatalf("caller %d got %q", i, results[i])
		}
	}
}

func TestLoad_SharedFailureReachesAllWaiters(t *testing.T) {
	wantErr := errors.New("origin down")
	f := &blockingFetcher{err: wantErr, release: make(chan struct{})}
	c := newTestCache(t, f)

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Load(context.Background(), "u", PriorityNormal)
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(f.release)
	wg.Wait()

	for i := range n {
		if !errors.Is(errs[i], wantErr) {
			t.Fatalf("caller %d: got %v, want origin error", i, errs[i])
		}
	}
	if c.contains("u") {
		t.Fatal("failed fetch must not be cached")
	}
	if c.inFlight("u") {
		t.Fatal("in-flight entry not removed after failure")
	}
}

func TestLoad_WaiterCancelDoesNotKillSharedFetch(t *testing.T) {
	f := &blockingFetcher{data: []byte("late"), release: make(chan struct{})}
	c := newTestCache(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Load(ctx, "u", PriorityNormal)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for f.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled waiter got %v, want context.Canceled", err)
	}

	// The detached fetch completes and still populates the cache.
	close(f.release)
	deadline = time.Now().Add(2 * time.Second)
	for !c.contains("u") && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !c.contains("u") {
		t.Fatal("detached fetch result was not stored")
	}
}

func TestLoad_EmptyPayloadIsFetchFailure(t *testing.T) {
	c := newTestCache(t, FetcherFunc(func(context.Context, string, Priority) ([]byte, error) {
		return nil, nil
	}))

	if _, err := c.Load(t.Context(), "u", PriorityNormal); !errors.Is(err, errEmptyPayload) {
		t.Fatalf("got %v, want empty-payload failure", err)
	}
	if c.contains("u") {
		t.Fatal("empty payload must not be cached")
	}
}

func TestPressureWarning_DropsMemoryButKeepsDisk(t *testing.T) {
	f := &blockingFetcher{data: []byte("photo")}
	c := newTestCache(t, f)

	if _, err := c.Load(t.Context(), "u1", PriorityNormal); err != nil {
		t.Fatalf("Load: %v", err)
	}

	c.PressureWarning()

	if _, ok := c.mem.Get("u1"); ok {
		t.Fatal("memory tier survived a pressure warning")
	}

	// The disk copy still serves the key; an uncached key stays absent.
	v, ok := c.Get("u1")
	if !ok || string(v) != "photo" {
		t.Fatalf("got (%q, %v), want disk-backed hit after pressure", v, ok)
	}
	if _, ok := c.Get("never-seen"); ok {
		t.Fatal("uncached key should stay absent")
	}
}

func TestPressureWarning_SuppressesMemoryWrites(t *testing.T) {
	c := newTestCache(t, &blockingFetcher{})

	c.PressureWarning()
	c.Set("k", []byte("v"))

	if _, ok := c.mem.Get("k"); ok {
		t.Fatal("memory write should be suppressed during the cooldown")
	}
}

func TestPressureWarning_RepeatedWarningsPurgeDisk(t *testing.T) {
	c := newTestCache(t, &blockingFetcher{})

	c.disk.write("k1", []byte("aaaa"))
	c.disk.write("k2", []byte("bbbb"))
	if c.DiskUsage() == 0 {
		t.Fatal("precondition: disk tier should hold data")
	}

	c.PressureWarning()
	c.PressureWarning()
	c.PressureWarning() // third within the window escalates

	if got := c.DiskUsage(); got != 0 {
		t.Fatalf("disk usage = %d after escalation, want 0", got)
	}
}

func TestPrefetch_SkipsCachedAndInFlight(t *testing.T) {
	f := &blockingFetcher{data: []byte("warm"), release: make(chan struct{})}
	c, err := New(f,
		WithDir(t.TempDir()),
		WithLimits(testLimits),
		WithPrefetchRate(1000, 1000),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.Set("cached", []byte("already here"))

	c.Prefetch(t.Context(), []string{"cached", "fresh1", "fresh1", "fresh2"})

	deadline := time.Now().Add(2 * time.Second)
	for f.calls.Load() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(f.release)

	deadline = time.Now().Add(2 * time.Second)
	for !(c.contains("fresh1") && c.contains("fresh2")) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if !c.contains("fresh1") || !c.contains("fresh2") {
		t.Fatal("prefetch did not warm the uncached keys")
	}
	if n := f.calls.Load(); n != 2 {
		t.Fatalf("fetches = %d, want 2 (cached and duplicate keys skipped)", n)
	}
}

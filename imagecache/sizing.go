package imagecache

import "github.com/sparkmeet/cachekit/internal/hostmem"

// Limits hold the memory and disk ceilings for one cache instance.
type Limits struct {
	MemoryBytes int64
	DiskBytes   int64
}

const gib = int64(1) << 30

// AdaptiveLimits picks ceilings from the host's total physical memory so the
// cache neither starves constrained devices nor under-uses capable ones.
// When the total cannot be read, the middle tier applies.
func AdaptiveLimits() Limits {
	total, err := hostmem.Total()
	if err != nil || total == 0 {
		return Limits{MemoryBytes: 64 << 20, DiskBytes: 256 << 20}
	}
	switch {
	case int64(total) < 2*gib:
		return Limits{MemoryBytes: 32 << 20, DiskBytes: 128 << 20}
	case int64(total) < 4*gib:
		return Limits{MemoryBytes: 64 << 20, DiskBytes: 256 << 20}
	default:
		return Limits{MemoryBytes: 128 << 20, DiskBytes: 512 << 20}
	}
}

package imagecache

import "context"

// Priority orders competing fetches. A shared in-flight fetch keeps the
// priority of whichever request started it; later requesters for the same key
// join at that priority.
type Priority int

const (
	// PriorityLow is used for speculative work such as scroll-ahead
	// prefetching.
	PriorityLow Priority = iota

	// PriorityNormal is the default for on-screen loads.
	PriorityNormal

	// PriorityHigh is for blocking, user-visible loads.
	PriorityHigh
)

// String returns the priority name for logs and trace attributes.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Fetcher retrieves the raw bytes for a resource URL. Implementations own the
// actual transport (HTTP client, storage SDK); the cache only schedules and
// deduplicates calls.
type Fetcher interface {
	Fetch(ctx context.Context, url string, priority Priority) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string, priority Priority) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, url string, priority Priority) ([]byte, error) {
	return f(ctx, url, priority)
}

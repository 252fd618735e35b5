package cachekit

import "time"

// DefaultSweepInterval is how often the registry sweeps expired entries from
// every registered cache.
const DefaultSweepInterval = 5 * time.Minute

// Profile pairs a TTL with a capacity bound for a named cache.
type Profile struct {
	TTL      time.Duration
	Capacity int
}

// Stock profiles for the standard application caches. Entity records change
// rarely, pairings somewhat faster, and per-session stats are nearly live.
var (
	EntityProfile  = Profile{TTL: 5 * time.Minute, Capacity: 100}
	PairingProfile = Profile{TTL: 3 * time.Minute, Capacity: 50}
	StatsProfile   = Profile{TTL: time.Minute, Capacity: 20}
)

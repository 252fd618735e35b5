package imagecache

import (
	"sync"
	"time"
)

const (
	// pressureCooldown suppresses new memory writes after a warning so the
	// cache does not amplify pressure while the host is still reclaiming.
	pressureCooldown = time.Minute

	// warningWindow is the rolling window over which warnings accumulate.
	warningWindow = 5 * time.Minute

	// diskPurgeWarnings is how many warnings within the window escalate to a
	// full disk purge.
	diskPurgeWarnings = 3
)

// pressureTracker counts low-memory warnings in a rolling window and gates
// memory writes during the post-warning cooldown.
type pressureTracker struct {
	mu          sync.Mutex
	warnings    []time.Time
	lastWarning time.Time
	nowFunc     func() time.Time
}

func newPressureTracker() *pressureTracker {
	return &pressureTracker{nowFunc: time.Now}
}

// record registers one warning and reports whether the disk cache should be
// purged as well. The warning count resets after an escalation.
func (p *pressureTracker) record() (purgeDisk bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.nowFunc()
	p.lastWarning = now
	p.warnings = append(p.warnings, now)

	kept := p.warnings[:0]
	for _, w := range p.warnings {
		if now.Sub(w) <= warningWindow {
			kept = append(kept, w)
		}
	}
	p.warnings = kept

	if len(p.warnings) >= diskPurgeWarnings {
		p.warnings = p.warnings[:0]
		return true
	}
	return false
}

// suppressed reports whether memory writes are currently gated by the
// post-warning cooldown.
func (p *pressureTracker) suppressed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.lastWarning.IsZero() && p.nowFunc().Sub(p.lastWarning) < pressureCooldown
}

package cachekit

import (
	"log/slog"
	"time"
)

// Option configures a Registry.
type Option func(*config)

// WithSweepInterval overrides the periodic sweep interval. Values ≤ 0 fall
// back to [DefaultSweepInterval].
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.sweepInterval = d
		}
	}
}

// WithLogger sets the logger used for sweep and clear diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMetrics attaches Prometheus instrumentation to the registry and to
// every cache created through [RegisterCache].
func WithMetrics(m *Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

package cachekit

import (
	"log/slog"
	"time"
)

// config holds the internal configuration assembled via functional options.
type config struct {
	sweepInterval time.Duration
	log           *slog.Logger
	metrics       *Metrics
}

// Package retry wraps fallible operations with bounded retries and jittered
// exponential backoff. It is used by callers that populate caches on a miss,
// never by the caches themselves.
package retry

import (
	"context"
	"time"
)

// Config controls the retry behaviour of [Do].
type Config struct {
	// MaxAttempts is the maximum number of times the operation is called
	// (including the first attempt). Values ≤ 1 mean no retries.
	MaxAttempts int

	// InitialDelay is the base delay before the first retry. Each subsequent
	// retry multiplies the current delay by Multiplier.
	InitialDelay time.Duration

	// MaxDelay caps both the growing base delay and the jittered wait.
	MaxDelay time.Duration

	// Multiplier scales the delay after every retryable failure.
	Multiplier float64
}

// Presets covering the common caller profiles.
var (
	Default      = Config{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}
	Aggressive   = Config{MaxAttempts: 5, InitialDelay: 500 * time.Millisecond, MaxDelay: 15 * time.Second, Multiplier: 2}
	Conservative = Config{MaxAttempts: 2, InitialDelay: 2 * time.Second, MaxDelay: 5 * time.Second, Multiplier: 1.5}
)

// Do calls fn up to cfg.MaxAttempts times, retrying only when [Retryable]
// classifies the returned error as transient. Between attempts Do sleeps for
// the current delay scaled by a uniform jitter in [0.8, 1.2] and capped at
// cfg.MaxDelay.
//
// Non-retryable errors propagate immediately. After the attempt budget is
// exhausted the last error is returned unchanged. The context is honoured
// during the backoff wait: if ctx is done the function returns the context
// error without further attempts.
func Do[T any](ctx context.Context, cfg Config, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.MaxAttempts, 1)
	delay := cfg.InitialDelay

	for i := range attempts {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		// Last attempt — return immediately regardless of classification.
		if i == attempts-1 {
			return zero, err
		}

		if !Retryable(err) {
			return zero, err
		}

		// Wait with jittered backoff, but respect context cancellation.
		timer := time.NewTimer(jittered(delay, cfg.MaxDelay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	// Unreachable, but keeps the compiler happy.
	return zero, nil
}

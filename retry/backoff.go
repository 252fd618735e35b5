package retry

import (
	"math/rand"
	"time"
)

// jittered scales delay by a uniform factor in [0.8, 1.2] and caps the result
// at maxDelay. The jitter keeps a burst of failing callers from retrying in
// lockstep.
func jittered(delay, maxDelay time.Duration) time.Duration {
	d := time.Duration(float64(delay) * (0.8 + 0.4*rand.Float64()))
	if d > maxDelay {
		d = maxDelay
	}
	if d < 0 {
		d = 0
	}
	return d
}

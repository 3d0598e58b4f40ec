package outbox

import (
	"math"
	"math/rand"
	"time"
)

// backoff computes the delay before the next delivery attempt:
// base * 2^(attempts-1), capped at maxBackoff.
func backoff(attempts int, base, maxBackoff time.Duration) time.Duration {
	if attempts <= 0 {
		return 0
	}
	if base <= 0 {
		base = time.Second
	}
	mult := math.Pow(2, float64(attempts-1))
	d := time.Duration(mult * float64(base))
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

// jitter returns a random duration in [0, maxJitter] to spread retries
// of entries that failed together.
func jitter(r *rand.Rand, maxJitter time.Duration) time.Duration {
	if maxJitter <= 0 || r == nil {
		return 0
	}
	return time.Duration(r.Int63n(int64(maxJitter) + 1))
}

package util

import (
	"math"
	"math/rand"
	"time"
)

// BackoffWithJitter grows min by factor^attempt, caps it at max and adds a random
// jitter in [0, jitter]. A non-positive jitter uses the max-min window.
func BackoffWithJitter(attempt int, factor float64, min, max, jitter time.Duration, rng *rand.Rand) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	backoff := float64(min) * math.Pow(factor, float64(attempt))
	if backoff > float64(max) || math.IsInf(backoff, 1) {
		backoff = float64(max)
	}

	base := time.Duration(backoff)
	if max <= min {
		return base
	}

	jitterWindow := jitter
	if jitterWindow <= 0 {
		jitterWindow = max - min
	}

	result := base + time.Duration(rng.Int63n(int64(jitterWindow)+1))
	if result > max {
		return max
	}

	return result
}

// NewRand returns a rand source seeded from the clock. It is not safe for concurrent use.
func NewRand() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

package orchestrator

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"time"
)

// delayForAttempt computes the retry delay for a 1-indexed attempt:
// base * 2^(attempt-1), capped at max, then jittered into [0.5x, 1.5x).
// The jitter is derived from the seed so a given (run, attempt) pair
// always lands on the same delay; retries stay reproducible in tests
// and stagger across runs in production.
func delayForAttempt(attempt int, base, max time.Duration, seed string) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}
	d := float64(base) * math.Pow(2, float64(attempt-1))
	if max > 0 {
		d = math.Min(d, float64(max))
	}
	d *= 0.5 + jitterUnit(seed)
	return time.Duration(d)
}

// jitterUnit maps a seed to [0,1).
func jitterUnit(seed string) float64 {
	sum := sha256.Sum256([]byte(seed))
	u := binary.BigEndian.Uint64(sum[:8])
	return float64(u) / float64(^uint64(0))
}

// Package retry computes backoff schedules for the request queue. The core
// functions are pure and deterministic so drain ordering is reproducible;
// randomness lives only in the additive Jitter wrapper.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// NextDelay returns min(baseDelay * multiplier^retryCount, maxDelay).
func NextDelay(retryCount int, baseDelay time.Duration, multiplier float64, maxDelay time.Duration) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if baseDelay <= 0 {
		return 0
	}

	delay := float64(baseDelay) * math.Pow(multiplier, float64(retryCount))
	if math.IsInf(delay, 1) || delay > float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(delay)
}

// ShouldAbandon reports whether a request with the given failure count has
// exhausted its attempts.
func ShouldAbandon(retryCount, maxAttempts int) bool {
	return retryCount >= maxAttempts
}

// Jitter adds up to fraction*delay of randomness on top of a computed
// delay. Never used inside the scheduler itself.
func Jitter(delay time.Duration, fraction float64) time.Duration {
	if fraction <= 0 || delay <= 0 {
		return delay
	}
	if fraction > 1 {
		fraction = 1
	}
	return delay + time.Duration(rand.Float64()*fraction*float64(delay))
}

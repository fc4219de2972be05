// Package retry implements the composable retry/circuit wrapper of spec
// §4.8: message-pattern retry classification, exponential backoff with
// jitter, and a circuit breaker that short-circuits to immediate failure
// while open.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Policy mirrors the teacher's BackoffPolicy shape, generalized to the
// spec's default schedule (base=100ms, multiplier=2, max=10s,
// max_retries=3).
type Policy struct {
	BaseMs     float64
	MaxMs      float64
	Multiplier float64
	Jitter     float64
	MaxRetries int
}

// DefaultPolicy returns spec §4.8's default delay schedule.
func DefaultPolicy() Policy {
	return Policy{
		BaseMs:     100,
		MaxMs:      10_000,
		Multiplier: 2,
		Jitter:     0.1,
		MaxRetries: 3,
	}
}

// ComputeBackoff calculates base·multiplier^(attempt-1) plus jitter,
// clamped to MaxMs. Attempt numbers start at 1.
func ComputeBackoff(policy Policy, attempt int) time.Duration {
	return ComputeBackoffWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter, not security-sensitive
}

// ComputeBackoffWithRand is ComputeBackoff with an injected random value
// in [0,1) for deterministic tests.
func ComputeBackoffWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.BaseMs * math.Pow(policy.Multiplier, exp)
	jitterAmount := base * policy.Jitter * randomValue
	total := math.Min(policy.MaxMs, base+jitterAmount)
	return time.Duration(math.Round(total)) * time.Millisecond
}

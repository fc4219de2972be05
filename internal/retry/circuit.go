package retry

import (
	"sync"
	"time"
)

// CircuitState discriminates CircuitBreaker's three states.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitBreaker trips open after FailureThreshold consecutive failures
// and stays open for ResetTimeout before allowing a half-open trial.
type CircuitBreaker struct {
	mu sync.Mutex

	FailureThreshold int
	ResetTimeout     time.Duration

	failureCount int
	state        CircuitState
	openedAt     time.Time
}

// NewCircuitBreaker returns a closed breaker with the given threshold and
// reset timeout.
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{FailureThreshold: failureThreshold, ResetTimeout: resetTimeout}
}

// Allow reports whether a call may proceed, transitioning an open
// breaker to half-open once ResetTimeout has elapsed.
func (c *CircuitBreaker) Allow(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case CircuitOpen:
		if now.Sub(c.openedAt) >= c.ResetTimeout {
			c.state = CircuitHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and clears the failure count.
func (c *CircuitBreaker) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount = 0
	c.state = CircuitClosed
}

// RecordFailure increments the failure count and opens the breaker once
// FailureThreshold is reached, or immediately on a half-open trial
// failure.
func (c *CircuitBreaker) RecordFailure(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == CircuitHalfOpen {
		c.state = CircuitOpen
		c.openedAt = now
		return
	}
	c.failureCount++
	if c.failureCount >= c.FailureThreshold {
		c.state = CircuitOpen
		c.openedAt = now
	}
}

// State returns the breaker's current state without side effects.
func (c *CircuitBreaker) State() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

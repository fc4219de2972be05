// Package ratelimit implements the per-endpoint, per-actor rate limiter
// of spec §4.7: a sliding 60s request window and a sliding 60s
// token-usage window per (endpoint, actor), a Retry-After-driven block
// window, and a circuit breaker that opens after repeated 429s. Token
// usage is summed over the window; there is no continuously refilling
// token bucket.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Actor distinguishes the two independent quota pools sharing an
// endpoint.
type Actor int

const (
	Main Actor = iota
	Worker
)

func (a Actor) String() string {
	if a == Worker {
		return "worker"
	}
	return "main"
}

// Config bounds one (endpoint, actor) pool.
type Config struct {
	RequestsPerMinute uint32
	TokensPerMinute   uint32
}

// DefaultMainConfig mirrors the original's default main-agent quota.
func DefaultMainConfig() Config {
	return Config{RequestsPerMinute: 60, TokensPerMinute: 100_000}
}

// DefaultWorkerConfig mirrors the original's default shared worker quota.
func DefaultWorkerConfig() Config {
	return Config{RequestsPerMinute: 30, TokensPerMinute: 50_000}
}

// Error reports why acquire failed and how long to wait before retrying.
type Error struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limit: %s, retry after %s", e.Reason, e.RetryAfter)
}

// endpointState is the mutable per-(endpoint,actor) bookkeeping: a
// sliding 60s window of request/token timestamps, a Retry-After block,
// and circuit-breaker state.
type endpointState struct {
	mu sync.Mutex

	requestTimes []time.Time
	tokenUsage   []tokenEntry

	blockedUntil time.Time

	consecutive429s   uint32
	circuitOpen       bool
	circuitResetAt    time.Time
	halfOpen          bool
	halfOpenSuccesses uint32
}

type tokenEntry struct {
	at     time.Time
	tokens uint32
}

const window = 60 * time.Second

// halfOpenSuccessThreshold is the number of consecutive successes
// required to close the circuit once it enters half-open
// (reset-time-elapsed) state. It is a package constant; Config has no
// field to change it.
const halfOpenSuccessThreshold = 2

func (s *endpointState) cleanup(now time.Time) {
	cutoff := now.Add(-window)
	s.requestTimes = pruneRequests(s.requestTimes, cutoff)
	s.tokenUsage = pruneTokens(s.tokenUsage, cutoff)
}

func pruneRequests(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func pruneTokens(ts []tokenEntry, cutoff time.Time) []tokenEntry {
	out := ts[:0]
	for _, e := range ts {
		if e.at.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

func (s *endpointState) currentRPM(now time.Time) uint32 {
	s.cleanup(now)
	return uint32(len(s.requestTimes))
}

func (s *endpointState) currentTPM(now time.Time) uint32 {
	s.cleanup(now)
	var sum uint32
	for _, e := range s.tokenUsage {
		sum += e.tokens
	}
	return sum
}

// isCircuitOpen checks, and transitions out of, the open state once the
// reset deadline has passed — entering a half-open trial.
func (s *endpointState) isCircuitOpen(now time.Time) bool {
	if !s.circuitOpen {
		return false
	}
	if !s.circuitResetAt.IsZero() && now.After(s.circuitResetAt) {
		s.circuitOpen = false
		s.halfOpen = true
		s.halfOpenSuccesses = 0
		s.circuitResetAt = time.Time{}
		return false
	}
	return true
}

// Limiter is the process-wide rate limiter: a map of endpointState
// indexed by (endpoint, actor), consulted before every LLM request.
type Limiter struct {
	mu        sync.Mutex
	endpoints map[string]*endpointState
	main      Config
	workers   Config
}

// New builds a Limiter with independent Main/Worker quotas.
func New(main, workers Config) *Limiter {
	return &Limiter{
		endpoints: make(map[string]*endpointState),
		main:      main,
		workers:   workers,
	}
}

// NewDefault builds a Limiter using the original's default quotas.
func NewDefault() *Limiter {
	return New(DefaultMainConfig(), DefaultWorkerConfig())
}

func (l *Limiter) stateFor(endpoint string, actor Actor) *endpointState {
	key := endpoint + "|" + actor.String()
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.endpoints[key]
	if !ok {
		s = &endpointState{}
		l.endpoints[key] = s
	}
	return s
}

func (l *Limiter) configFor(actor Actor) Config {
	if actor == Worker {
		return l.workers
	}
	return l.main
}

// Acquire implements spec §4.7's acquire algorithm. now is passed in so
// callers (and tests) control the clock; production callers pass
// time.Now().
func Acquire(l *Limiter, now time.Time, endpoint string, actor Actor, estTokens uint32) error {
	cfg := l.configFor(actor)
	s := l.stateFor(endpoint, actor)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isCircuitOpen(now) {
		return &Error{Reason: "circuit open", RetryAfter: s.circuitResetAt.Sub(now)}
	}
	if !s.blockedUntil.IsZero() && now.Before(s.blockedUntil) {
		return &Error{Reason: "blocked by Retry-After", RetryAfter: s.blockedUntil.Sub(now)}
	}

	rpm := s.currentRPM(now)
	if cfg.RequestsPerMinute > 0 && rpm+1 > cfg.RequestsPerMinute {
		return &Error{
			Reason:     "requests per minute exceeded",
			RetryAfter: window / time.Duration(maxu32(cfg.RequestsPerMinute, 1)),
		}
	}

	tpm := s.currentTPM(now)
	if cfg.TokensPerMinute > 0 && tpm+estTokens > cfg.TokensPerMinute {
		return &Error{
			Reason:     "tokens per minute exceeded",
			RetryAfter: window / time.Duration(maxu32(cfg.RequestsPerMinute, 1)),
		}
	}

	s.requestTimes = append(s.requestTimes, now)
	s.tokenUsage = append(s.tokenUsage, tokenEntry{at: now, tokens: estTokens})
	s.consecutive429s = 0
	return nil
}

func maxu32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// RecordRateLimitError applies a provider 429: it increments
// consecutive429s, sets blockedUntil from retryAfter (or an exponential
// backoff 5s·2^min(count,5) when the provider gave none), and opens the
// circuit once consecutive429s reaches 5.
func RecordRateLimitError(l *Limiter, now time.Time, endpoint string, actor Actor, retryAfter *time.Duration) {
	s := l.stateFor(endpoint, actor)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.consecutive429s++
	delay := backoffFor(s.consecutive429s)
	if retryAfter != nil {
		delay = *retryAfter
	}
	s.blockedUntil = now.Add(delay)

	// A failure during a half-open trial reopens the circuit immediately
	// rather than waiting for five fresh consecutive 429s.
	if s.halfOpen {
		s.halfOpen = false
		s.halfOpenSuccesses = 0
		s.circuitOpen = true
		s.circuitResetAt = now.Add(60 * time.Second)
		return
	}

	if s.consecutive429s >= 5 {
		s.circuitOpen = true
		s.circuitResetAt = now.Add(60 * time.Second)
	}
}

func backoffFor(consecutive429s uint32) time.Duration {
	n := consecutive429s
	if n > 5 {
		n = 5
	}
	return 5 * time.Second * time.Duration(uint64(1)<<n)
}

// RecordSuccess resets consecutive429s and, once the circuit has entered
// its half-open trial (isCircuitOpen already flipped circuitOpen to
// false after the reset deadline passed), accumulates the
// halfOpenSuccessThreshold consecutive successes required before fully
// closing.
func RecordSuccess(l *Limiter, now time.Time, endpoint string, actor Actor) {
	s := l.stateFor(endpoint, actor)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutive429s = 0
	if s.halfOpen {
		s.halfOpenSuccesses++
		if s.halfOpenSuccesses >= halfOpenSuccessThreshold {
			s.halfOpen = false
			s.halfOpenSuccesses = 0
		}
	}
}

// Status is a point-in-time snapshot for diagnostics.
type Status struct {
	CurrentRPM      uint32
	CurrentTPM      uint32
	BlockedUntil    time.Time
	CircuitOpen     bool
	Consecutive429s uint32
}

// GetStatus reports the current state of one (endpoint, actor) pool.
func GetStatus(l *Limiter, now time.Time, endpoint string, actor Actor) Status {
	s := l.stateFor(endpoint, actor)
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		CurrentRPM:      s.currentRPM(now),
		CurrentTPM:      s.currentTPM(now),
		BlockedUntil:    s.blockedUntil,
		CircuitOpen:     s.circuitOpen,
		Consecutive429s: s.consecutive429s,
	}
}

// Package session implements the session driver: the long-running loop
// that owns one AgentState, feeds it kernel.InputEvents, dispatches the
// resulting Intents through an executor.Executor, and streams Events back
// to the host. It is the runtime home for the heartbeat (spec §4.5), the
// rate-limited/retrying LLM client decorator (spec §4.7/4.8), the
// at-most-once step-budget extension (spec §9 Open Question 3), and
// worker spawning (spec §5) — the kernel itself knows about none of
// these; it only ever sees InputEvents and returns Intents.
package session

import (
	"time"

	"github.com/haasonsaas/agentkernel/internal/approval"
	"github.com/haasonsaas/agentkernel/internal/executor"
	"github.com/haasonsaas/agentkernel/internal/history"
	"github.com/haasonsaas/agentkernel/internal/kernel"
	"github.com/haasonsaas/agentkernel/internal/ratelimit"
	"github.com/haasonsaas/agentkernel/internal/retry"
	"github.com/haasonsaas/agentkernel/internal/worker"
)

// Config bounds one Driver.
type Config struct {
	Kernel       kernel.Config
	Executor     executor.Config
	History      history.Config
	Policy       approval.Policy
	Worker       worker.Config
	WorkerPolicy approval.WorkerPolicy

	MainRateLimit   ratelimit.Config
	WorkerRateLimit ratelimit.Config
	Retry           retry.Policy
	CircuitBreaker  CircuitBreakerConfig

	// HeartbeatInterval drives the synthesized Tick input event (spec
	// §6 heartbeat_interval_ms, default 1000ms).
	HeartbeatInterval time.Duration
	// StuckWorkerIdle is how long a running worker may go without
	// activity before the heartbeat reports it as stuck (spec §4.5:
	// "no activity for >=15s").
	StuckWorkerIdle time.Duration

	// StepBudgetExtension is how many additional steps are granted the
	// one time a session's step limit is extended (Open Question 3).
	StepBudgetExtension uint32

	SystemPrompt string
}

// CircuitBreakerConfig bounds the retry.CircuitBreaker guarding the LLM
// client decorator.
type CircuitBreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

// DefaultConfig mirrors spec §6's defaults end to end.
func DefaultConfig() Config {
	return Config{
		Kernel:              kernel.DefaultConfig(),
		Executor:            executor.DefaultConfig(),
		History:             history.DefaultConfig(),
		Policy:              approval.DefaultPolicy(),
		Worker:              worker.DefaultConfig(),
		WorkerPolicy:        approval.DefaultWorkerPolicy(),
		MainRateLimit:       ratelimit.DefaultMainConfig(),
		WorkerRateLimit:     ratelimit.DefaultWorkerConfig(),
		Retry:               retry.DefaultPolicy(),
		CircuitBreaker:      CircuitBreakerConfig{FailureThreshold: 5, ResetTimeout: 60 * time.Second},
		HeartbeatInterval:   time.Second,
		StuckWorkerIdle:     15 * time.Second,
		StepBudgetExtension: 50,
	}
}

// Package worker implements spec §5's worker isolation: a spawned worker
// is a self-contained session-equivalent with its own kernel state and a
// restricted approval policy. Its only channels out are the eventual
// WorkerResult delivered to the owning session, and synchronous
// escalation requests for Restricted commands; workers may never spawn
// workers of their own.
package worker

import "time"

// ApprovalMode controls how a worker's restricted tool invoker treats
// approval.ClassRestricted commands.
type ApprovalMode int

const (
	// EscalateToMain submits a Restricted command to the owning session's
	// Escalator and blocks for its decision (spec §5 default).
	EscalateToMain ApprovalMode = iota
	// AllowAll treats every command as allowed, bypassing classification
	// entirely. Intended for trusted, fully-sandboxed deployments.
	AllowAll
	// BlockRestricted rejects Restricted commands outright instead of
	// escalating, for deployments with no owning session to ask.
	BlockRestricted
)

// Config bounds one Manager.
type Config struct {
	// MaxActive is the maximum number of concurrently running workers,
	// mirroring the teacher's subagent.Manager maxActive (default 5).
	MaxActive int
	// EscalationTimeout bounds how long a Restricted command waits for
	// the owning session before failing (spec §5 / SUPPLEMENTED FEATURES
	// 5: "escalation request carries a deadline").
	EscalationTimeout time.Duration
	// MaxSteps and MaxRejections size the worker's own kernel budget;
	// zero means kernel.DefaultConfig() is used.
	MaxSteps      uint32
	MaxRejections uint32
	// ApprovalMode selects how Restricted commands are handled.
	ApprovalMode ApprovalMode
}

// DefaultConfig mirrors the teacher's subagent.NewManager default of 5
// max active workers.
func DefaultConfig() Config {
	return Config{
		MaxActive:         5,
		EscalationTimeout: 30 * time.Second,
		ApprovalMode:      EscalateToMain,
	}
}

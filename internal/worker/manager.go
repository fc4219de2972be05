package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentkernel/internal/approval"
	"github.com/haasonsaas/agentkernel/internal/executor"
	"github.com/haasonsaas/agentkernel/internal/intent"
)

// Status is a worker job's lifecycle state.
type Status int

const (
	StatusRunning Status = iota
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Job is one spawned worker's bookkeeping record. IDs are uuid-based, a
// separate namespace from the deterministic IntentId scheme (spec §9
// forbids non-deterministic ids only for intents).
type Job struct {
	ID          string
	Spec        intent.WorkerSpec
	Status      Status
	CreatedAt   time.Time
	CompletedAt time.Time
	LastActive  time.Time
	Result      string
	Err         string

	cancel context.CancelFunc
}

// Manager owns the worker job registry and enforces the concurrency cap,
// grounded on the teacher's subagent.Manager
// (internal/tools/subagent/spawn.go): a bounded atomic active count gates
// Spawn, each accepted job runs detached in its own background goroutine,
// and a mutex-guarded map supports Get/List/Cancel.
type Manager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	activeCount int64

	cfg    Config
	llm    executor.LLMClient
	tools  executor.ToolInvoker
	policy approval.WorkerPolicy
	esc    *approval.Escalator
	logger *slog.Logger

	onResult func(workerID string, result string, err error)
}

// NewManager builds a Manager. llm and tools are the collaborators every
// spawned worker's own Executor uses; policy and esc implement the
// restricted-command escalation path (spec §5). onResult, if non-nil, is
// invoked exactly once per completed job with its terminal outcome — the
// owning session driver uses it to synthesize a WorkerResult InputEvent.
func NewManager(cfg Config, llm executor.LLMClient, tools executor.ToolInvoker, policy approval.WorkerPolicy, esc *approval.Escalator, logger *slog.Logger, onResult func(workerID string, result string, err error)) *Manager {
	if cfg.MaxActive <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		jobs:     make(map[string]*Job),
		cfg:      cfg,
		llm:      llm,
		tools:    tools,
		policy:   policy,
		esc:      esc,
		logger:   logger,
		onResult: onResult,
	}
}

// SpawnWorker implements executor.WorkerSpawner.
func (m *Manager) SpawnWorker(ctx context.Context, spec intent.WorkerSpec) (string, error) {
	if atomic.LoadInt64(&m.activeCount) >= int64(m.cfg.MaxActive) {
		return "", fmt.Errorf("worker: max active workers reached (%d)", m.cfg.MaxActive)
	}

	id := uuid.NewString()
	jobCtx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:         id,
		Spec:       spec,
		Status:     StatusRunning,
		CreatedAt:  time.Now(),
		LastActive: time.Now(),
		cancel:     cancel,
	}

	m.mu.Lock()
	m.jobs[id] = job
	m.mu.Unlock()

	atomic.AddInt64(&m.activeCount, 1)
	m.logger.Info("worker spawned", "worker_id", id, "objective", spec.Objective)

	// Run detached from the caller's request context, the same way the
	// teacher's Manager.Spawn launches runSubAgent against
	// context.Background() — a worker outlives the turn that spawned it.
	go m.runJob(jobCtx, id, spec)

	return id, nil
}

func (m *Manager) runJob(ctx context.Context, id string, spec intent.WorkerSpec) {
	defer atomic.AddInt64(&m.activeCount, -1)

	w := newWorker(id, spec, m.llm, m.tools, m.policy, m.esc, m.cfg)
	result, err := w.run(ctx)

	m.mu.Lock()
	job, ok := m.jobs[id]
	if ok {
		job.CompletedAt = time.Now()
		job.LastActive = job.CompletedAt
		if err != nil {
			job.Status = StatusFailed
			job.Err = err.Error()
		} else {
			job.Status = StatusCompleted
			job.Result = result
		}
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("worker failed", "worker_id", id, "error", err)
	} else {
		m.logger.Info("worker completed", "worker_id", id)
	}

	if m.onResult != nil {
		m.onResult(id, result, err)
	}
}

// Get returns a job by id.
func (m *Manager) Get(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	return j, ok
}

// List returns every tracked job, running or finished.
func (m *Manager) List() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out
}

// Cancel stops a running job.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("worker: job not found: %s", id)
	}
	if j.Status != StatusRunning {
		return fmt.Errorf("worker: job not running: %s", j.Status)
	}
	j.cancel()
	j.Status = StatusCancelled
	j.CompletedAt = time.Now()
	return nil
}

// ActiveCount returns the number of currently running jobs.
func (m *Manager) ActiveCount() int {
	return int(atomic.LoadInt64(&m.activeCount))
}

// StuckJobs returns the ids of running jobs whose LastActive is at least
// idleThreshold in the past — the session heartbeat's input for the
// EventWorkerStuck events it emits to the host (spec §4.5).
func (m *Manager) StuckJobs(now time.Time, idleThreshold time.Duration) []StuckJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []StuckJob
	for _, j := range m.jobs {
		if j.Status != StatusRunning {
			continue
		}
		idle := now.Sub(j.LastActive)
		if idle >= idleThreshold {
			out = append(out, StuckJob{WorkerID: j.ID, IdleFor: idle})
		}
	}
	return out
}

// StuckJob reports one running-but-idle worker.
type StuckJob struct {
	WorkerID string
	IdleFor  time.Duration
}

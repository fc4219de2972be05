package approval

import (
	"context"
	"errors"
	"time"
)

// ErrEscalationTimeout is returned when an escalation deadline elapses
// before the owning session responds.
var ErrEscalationTimeout = errors.New("approval: escalation timed out")

// ErrEscalatorClosed is returned when an escalation is submitted after the
// Escalator has been closed (e.g. the owning session shut down).
var ErrEscalatorClosed = errors.New("approval: escalator closed")

// EscalationRequest is a Restricted worker command awaiting a decision
// from the owning (main) kernel. Deadline mirrors the teacher's
// ApprovalRequest.ExpiresAt pattern (internal/agent/approval.go) applied
// to worker escalation so a restricted command never blocks a worker
// forever.
type EscalationRequest struct {
	WorkerID string
	Command  string
	Reason   string
	Deadline time.Time

	response chan EscalationResponse
}

// EscalationResponse is the owning session's answer to one
// EscalationRequest.
type EscalationResponse struct {
	Approved bool
	Reason   string
}

// Escalator is a synchronous oneshot-style channel: one Submit blocks
// until exactly one Resolve call answers it, or the request's deadline
// passes.
type Escalator struct {
	pending chan *EscalationRequest
	closed  chan struct{}
}

// NewEscalator returns an Escalator with the given queue depth for
// in-flight requests awaiting the owning session's attention.
func NewEscalator(queueDepth int) *Escalator {
	return &Escalator{
		pending: make(chan *EscalationRequest, queueDepth),
		closed:  make(chan struct{}),
	}
}

// Submit enqueues req for the owning session and blocks until Resolve is
// called for it, the request's deadline elapses, ctx is cancelled, or the
// Escalator is closed.
func (e *Escalator) Submit(ctx context.Context, req *EscalationRequest) (EscalationResponse, error) {
	req.response = make(chan EscalationResponse, 1)

	select {
	case e.pending <- req:
	case <-e.closed:
		return EscalationResponse{}, ErrEscalatorClosed
	case <-ctx.Done():
		return EscalationResponse{}, ctx.Err()
	}

	var timer *time.Timer
	var deadlineCh <-chan time.Time
	if !req.Deadline.IsZero() {
		timer = time.NewTimer(time.Until(req.Deadline))
		defer timer.Stop()
		deadlineCh = timer.C
	}

	select {
	case resp := <-req.response:
		return resp, nil
	case <-deadlineCh:
		return EscalationResponse{}, ErrEscalationTimeout
	case <-ctx.Done():
		return EscalationResponse{}, ctx.Err()
	case <-e.closed:
		return EscalationResponse{}, ErrEscalatorClosed
	}
}

// Next blocks until an EscalationRequest is available for the owning
// session to decide, or ctx is cancelled.
func (e *Escalator) Next(ctx context.Context) (*EscalationRequest, error) {
	select {
	case req := <-e.pending:
		return req, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.closed:
		return nil, ErrEscalatorClosed
	}
}

// Resolve answers a request previously returned by Next. It is safe to
// call exactly once per request: the response channel holds one value, so
// a second call blocks until that value has been received, which never
// happens once Submit has returned.
func (e *Escalator) Resolve(req *EscalationRequest, resp EscalationResponse) {
	req.response <- resp
}

// Close unblocks any pending Submit/Next calls with ErrEscalatorClosed.
func (e *Escalator) Close() {
	close(e.closed)
}

package approval

import (
	"context"
	"testing"
	"time"
)

func TestEscalatorSubmitAndResolve(t *testing.T) {
	e := NewEscalator(1)
	ctx := context.Background()

	done := make(chan EscalationResponse, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := e.Submit(ctx, &EscalationRequest{
			WorkerID: "w1",
			Command:  "curl http://example.com",
			Deadline: time.Now().Add(time.Second),
		})
		done <- resp
		errCh <- err
	}()

	req, err := e.Next(ctx)
	if err != nil {
		t.Fatalf("unexpected error from Next: %v", err)
	}
	if req.WorkerID != "w1" {
		t.Fatalf("unexpected worker id: %q", req.WorkerID)
	}
	e.Resolve(req, EscalationResponse{Approved: true, Reason: "looks fine"})

	select {
	case resp := <-done:
		if !resp.Approved {
			t.Fatal("expected approved response")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Submit to return")
	}
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEscalatorDeadlineTimeout(t *testing.T) {
	e := NewEscalator(1)
	ctx := context.Background()

	_, err := e.Submit(ctx, &EscalationRequest{
		WorkerID: "w2",
		Command:  "echo hi",
		Deadline: time.Now().Add(10 * time.Millisecond),
	})
	if err != ErrEscalationTimeout {
		t.Fatalf("expected ErrEscalationTimeout, got %v", err)
	}
}

func TestEscalatorClose(t *testing.T) {
	e := NewEscalator(1)
	e.Close()

	_, err := e.Submit(context.Background(), &EscalationRequest{WorkerID: "w3"})
	if err != ErrEscalatorClosed {
		t.Fatalf("expected ErrEscalatorClosed, got %v", err)
	}
}

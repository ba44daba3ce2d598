package repl

import (
	"context"
	"errors"
	"testing"
	"time"

	"smith/internal/permission"
)

func TestBridgeAskRoundTrip(t *testing.T) {
	b := NewConfirmBridge()
	go func() {
		cr := <-b.requests
		if cr.req.Tool != "bash" {
			t.Errorf("request tool = %q, want bash", cr.req.Tool)
		}
		cr.respCh <- confirmResponse{resp: permission.Response{
			Decision: permission.DecisionApprove,
		}}
	}()

	resp, err := b.Ask(context.Background(), permission.Request{
		Kind: permission.KindShellExecution, Tool: "bash", Summary: "ls",
	})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if resp.Decision != permission.DecisionApprove {
		t.Fatalf("Ask() decision = %q, want approve", resp.Decision)
	}
}

func TestBridgeAskRejectWithFeedback(t *testing.T) {
	b := NewConfirmBridge()
	go func() {
		cr := <-b.requests
		cr.respCh <- confirmResponse{resp: permission.Response{
			Decision: permission.DecisionReject,
			Feedback: "use the staging dir",
		}}
	}()

	resp, err := b.Ask(context.Background(), permission.Request{Tool: "create_file"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if resp.Decision != permission.DecisionReject || resp.Feedback != "use the staging dir" {
		t.Fatalf("Ask() = %+v, want rejection with feedback", resp)
	}
}

func TestBridgeAskCancelledContext(t *testing.T) {
	b := NewConfirmBridge()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Ask(ctx, permission.Request{Tool: "bash"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Ask() error = %v, want context.Canceled", err)
	}
}

func TestBridgeAskCancelledWhileWaiting(t *testing.T) {
	b := NewConfirmBridge()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Ask(ctx, permission.Request{Tool: "bash"})
		errCh <- err
	}()

	// consume the request but never answer; cancellation must release Ask
	<-b.requests
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Ask() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Ask() did not return after cancellation")
	}
}

func TestBridgeClosedReleasesAsk(t *testing.T) {
	b := NewConfirmBridge()
	b.Close()
	b.Close() // idempotent

	resp, err := b.Ask(context.Background(), permission.Request{Tool: "bash"})
	if err == nil {
		t.Fatal("Ask() on closed bridge error = nil, want error")
	}
	if resp.Decision != permission.DecisionReject {
		t.Fatalf("Ask() decision = %q, want reject on closed bridge", resp.Decision)
	}
}

package repl

import (
	"context"
	"errors"
	"sync"

	"smith/internal/permission"
)

var errBridgeClosed = errors.New("confirmation bridge closed")

// confirmRequest 带着应答通道穿过桥，由持有终端的协程处理
// confirmRequest crosses the bridge with its own reply channel; whichever
// goroutine owns the terminal answers it.
type confirmRequest struct {
	ctx    context.Context
	req    permission.Request
	respCh chan confirmResponse
}

type confirmResponse struct {
	resp permission.Response
	err  error
}

// ConfirmBridge carries confirmation requests from the agent goroutine into
// the REPL event loop. The gate calls Ask from inside a running turn; the
// loop goroutine picks the request up, renders the interactive prompt, and
// replies. Terminal output stays on a single goroutine that way.
type ConfirmBridge struct {
	requests chan confirmRequest

	closeOnce sync.Once
	stopCh    chan struct{}
}

func NewConfirmBridge() *ConfirmBridge {
	return &ConfirmBridge{
		requests: make(chan confirmRequest),
		stopCh:   make(chan struct{}),
	}
}

// Ask satisfies permission.ConfirmFunc. It blocks until the loop side
// answers, ctx is cancelled, or the bridge shuts down.
func (b *ConfirmBridge) Ask(ctx context.Context, req permission.Request) (permission.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cr := confirmRequest{
		ctx:    ctx,
		req:    req,
		respCh: make(chan confirmResponse, 1),
	}
	select {
	case <-b.stopCh:
		return permission.Response{Decision: permission.DecisionReject}, errBridgeClosed
	case <-ctx.Done():
		return permission.Response{}, ctx.Err()
	case b.requests <- cr:
	}
	select {
	case <-b.stopCh:
		return permission.Response{Decision: permission.DecisionReject}, errBridgeClosed
	case <-ctx.Done():
		return permission.Response{}, ctx.Err()
	case resp := <-cr.respCh:
		return resp.resp, resp.err
	}
}

// Close releases any goroutine blocked in Ask. Safe to call more than once.
func (b *ConfirmBridge) Close() {
	b.closeOnce.Do(func() {
		close(b.stopCh)
	})
}

package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NetworkError is a transport failure: connect, TLS, timeout, or a broken
// stream. Transient by nature; the turn is abandoned but the history stays
// intact so the request can be reissued.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError is a malformed or unexpected wire shape: undecodable event
// payloads, a stream that ends while a tool call buffer is still open, or an
// explicit error event from the endpoint.
type ProtocolError struct {
	Op     string
	Detail string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("protocol error during %s: %s", e.Op, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// StatusError is a non-2xx HTTP response from the endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("endpoint returned status %d: %s", e.Code, body)
}

// retryable reports whether another attempt may succeed. Context
// cancellation and protocol defects never retry; rate limits and server
// errors do.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == 429 || se.Code >= 500
	}
	var ne *NetworkError
	return errors.As(err, &ne)
}

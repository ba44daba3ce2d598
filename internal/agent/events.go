package agent

import (
	"sync"
	"time"
)

// EventKind identifies one loop event on the UI channel.
type EventKind string

const (
	EventTurnStarted           EventKind = "turn-started"
	EventDeltaReceived         EventKind = "delta-received"
	EventToolStarted           EventKind = "tool-started"
	EventToolFinished          EventKind = "tool-finished"
	EventConfirmationRequested EventKind = "confirmation-requested"
	EventTurnComplete          EventKind = "turn-complete"
	EventError                 EventKind = "error"
	EventCancelled             EventKind = "cancelled"
)

// Event 是循环推送给前端的单条事件，字段按 Kind 填充
// Event is one loop occurrence pushed to the UI. Fields beyond Kind and Time
// are populated per kind: Chunk for delta-received, the Call* fields for the
// tool lifecycle and confirmations, Outcome for turn-complete.
type Event struct {
	Kind EventKind
	Time time.Time

	// delta-received
	Chunk     string
	Reasoning bool
	Tokens    int // running context estimate; 0 means unchanged

	// tool-started / tool-finished / confirmation-requested
	CallID  string
	Tool    string
	Summary string
	Detail  string
	IsError bool

	// turn-complete / error
	Outcome *TurnOutcome
	Err     error
}

// Emitter fans loop events out to the UI over a buffered channel. Emit never
// blocks: when the consumer lags, events are dropped so a slow terminal can
// never stall the network read path.
type Emitter struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func NewEmitter(buffer int) *Emitter {
	if buffer <= 0 {
		buffer = 256
	}
	return &Emitter{ch: make(chan Event, buffer)}
}

// Emit delivers ev, dropping it when the channel is full or closed.
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case e.ch <- ev:
	default:
	}
}

// Events returns the read side of the channel.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Close closes the channel. Safe to call more than once.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}

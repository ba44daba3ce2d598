package provider

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"smith/internal/chat"
)

// Merger assembles one streamed assistant message from adapter-normalized
// events. Tool call argument buffers are keyed by output index so the same
// logical stream assembles identically regardless of how the wire chunked
// it. Events carry the endpoint's sequence number when it has one;
// re-delivered sequence numbers are dropped, which makes duplicate delivery
// of buffered events harmless.
type Merger struct {
	lastSeq     uint64
	sawTerminal bool

	text      strings.Builder
	reasoning strings.Builder

	calls map[int]*callBuffer
}

type callBuffer struct {
	id     string
	name   string
	args   strings.Builder
	closed bool
}

func NewMerger() *Merger {
	return &Merger{calls: map[int]*callBuffer{}}
}

// accept applies sequence-based idempotence. Sequence 0 means the wire has
// no sequence numbers; such events are always processed.
func (m *Merger) accept(seq uint64) bool {
	if seq == 0 {
		return true
	}
	if seq <= m.lastSeq {
		return false
	}
	m.lastSeq = seq
	return true
}

// Text appends an incremental content delta. Returns true when the fragment
// was new (callers deliver it to the UI only then).
func (m *Merger) Text(seq uint64, fragment string) bool {
	if !m.accept(seq) || fragment == "" {
		return false
	}
	m.text.WriteString(fragment)
	return true
}

// TextSnapshot applies an authoritative full-content snapshot, such as the
// final message item of a stream that also delivered deltas. It returns the
// portion not already buffered, so text never duplicates.
func (m *Merger) TextSnapshot(seq uint64, full string) string {
	if !m.accept(seq) || full == "" {
		return ""
	}
	cur := m.text.String()
	switch {
	case full == cur:
		return ""
	case strings.HasPrefix(full, cur):
		added := full[len(cur):]
		m.text.WriteString(added)
		return added
	case strings.HasPrefix(cur, full):
		// stale shorter snapshot
		return ""
	default:
		m.text.Reset()
		m.text.WriteString(full)
		return full
	}
}

// Reasoning appends a reasoning delta.
func (m *Merger) Reasoning(seq uint64, fragment string) bool {
	if !m.accept(seq) || fragment == "" {
		return false
	}
	m.reasoning.WriteString(fragment)
	return true
}

// OpenCall registers a tool call slot. Opening an existing slot is
// idempotent; id and name fill in whenever the wire first provides them.
func (m *Merger) OpenCall(seq uint64, index int, id, name string) {
	if !m.accept(seq) {
		return
	}
	m.slot(index).fill(id, name)
}

// ArgsDelta appends an incremental argument fragment to the slot. Deltas
// for an already-closed slot are dropped; only an authoritative snapshot can
// change a closed buffer.
func (m *Merger) ArgsDelta(seq uint64, index int, fragment string) {
	if !m.accept(seq) || fragment == "" {
		return
	}
	b := m.slot(index)
	if b.closed {
		return
	}
	b.args.WriteString(fragment)
}

// ArgsSnapshot applies an authoritative full-argument snapshot. A snapshot
// already covered by the buffer is ignored; one that extends or contradicts
// it replaces the buffer.
func (m *Merger) ArgsSnapshot(seq uint64, index int, full string) {
	if !m.accept(seq) {
		return
	}
	b := m.slot(index)
	cur := b.args.String()
	switch {
	case full == cur:
	case strings.HasPrefix(cur, full):
		// stale shorter snapshot
	default:
		b.args.Reset()
		b.args.WriteString(full)
	}
}

// CloseCall marks the slot complete. Arguments arriving after close are
// dropped by the sequence check upstream; closing twice is harmless.
func (m *Merger) CloseCall(seq uint64, index int, id, name string) {
	if !m.accept(seq) {
		return
	}
	b := m.slot(index)
	b.fill(id, name)
	b.closed = true
}

// Terminal records the stream-level terminal event. It closes every open
// slot: end of stream is the implicit close on wires without per-call
// terminals.
func (m *Merger) Terminal(seq uint64) {
	if !m.accept(seq) {
		return
	}
	m.sawTerminal = true
	for _, b := range m.calls {
		b.closed = true
	}
}

// SawTerminal reports whether the stream reached its terminal event.
func (m *Merger) SawTerminal() bool { return m.sawTerminal }

// TextSoFar returns the text assembled so far. Used to preserve partial
// output when a turn is cancelled mid-stream.
func (m *Merger) TextSoFar() string { return m.text.String() }

// HasToolCalls reports whether any tool call slot was opened.
func (m *Merger) HasToolCalls() bool { return len(m.calls) > 0 }

// Finalize assembles the message. A slot still open here means the stream
// never terminated it; that is a wire defect and surfaces as a
// ProtocolError rather than a silently truncated call.
func (m *Merger) Finalize() (chat.Message, error) {
	msg := chat.Message{
		Role:      chat.RoleAssistant,
		Content:   m.text.String(),
		Reasoning: m.reasoning.String(),
	}

	if len(m.calls) == 0 {
		return msg, nil
	}

	indexes := make([]int, 0, len(m.calls))
	for idx := range m.calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	for _, idx := range indexes {
		b := m.calls[idx]
		if !b.closed {
			return chat.Message{}, &ProtocolError{
				Op:     "stream merge",
				Detail: fmt.Sprintf("tool call buffer %d finalized while still open", idx),
			}
		}
		id := strings.TrimSpace(b.id)
		if id == "" {
			id = "call_" + strconv.Itoa(idx)
		}
		msg.ToolCalls = append(msg.ToolCalls, chat.ToolCall{
			ID:   id,
			Type: "function",
			Function: chat.ToolCallFunction{
				Name:      strings.TrimSpace(b.name),
				Arguments: b.args.String(),
			},
		})
	}
	return msg, nil
}

func (m *Merger) slot(index int) *callBuffer {
	b, ok := m.calls[index]
	if !ok {
		b = &callBuffer{}
		m.calls[index] = b
	}
	return b
}

func (b *callBuffer) fill(id, name string) {
	if b.id == "" && id != "" {
		b.id = id
	}
	if name == "" {
		return
	}
	switch {
	case b.name == "":
		b.name = name
	case strings.HasPrefix(name, b.name):
		// some endpoints re-send the full name as it grows
		b.name = name
	case strings.HasPrefix(b.name, name):
	default:
		b.name += name
	}
}

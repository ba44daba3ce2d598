package repl

import (
	"errors"
	"strings"
	"testing"
	"time"

	"smith/internal/agent"
)

func TestPrintOutcomeCompleted(t *testing.T) {
	r, out := newTestREPL(t)
	var buf strings.Builder

	r.printOutcome(agent.TurnOutcome{
		Status:    agent.StatusCompleted,
		FinalText: "All done.",
		Tokens:    1536,
		Duration:  2300 * time.Millisecond,
	}, &buf)

	got := out.String()
	if !strings.Contains(got, "All done.") {
		t.Fatalf("output = %q, want final text", got)
	}
	if !strings.Contains(got, "2.3s") || !strings.Contains(got, "1.5k") {
		t.Fatalf("output = %q, want duration and token stats", got)
	}
}

func TestPrintOutcomeCancelledKeepsPartial(t *testing.T) {
	r, out := newTestREPL(t)
	var buf strings.Builder
	buf.WriteString("partial answer that was cut")

	r.printOutcome(agent.TurnOutcome{Status: agent.StatusCancelled}, &buf)

	got := out.String()
	if !strings.Contains(got, "partial answer that was cut") {
		t.Fatalf("output = %q, want streamed partial preserved", got)
	}
	if !strings.Contains(got, "interrupted") {
		t.Fatalf("output = %q, want interrupted note", got)
	}
	if buf.Len() != 0 {
		t.Fatal("round buffer not drained")
	}
}

func TestPrintOutcomeFailed(t *testing.T) {
	r, out := newTestREPL(t)
	var buf strings.Builder

	r.printOutcome(agent.TurnOutcome{
		Status: agent.StatusFailed,
		Err:    errors.New("boom"),
	}, &buf)

	if !strings.Contains(out.String(), "turn failed: boom") {
		t.Fatalf("output = %q, want failure note", out.String())
	}
}

func TestPrintOutcomeMaxRounds(t *testing.T) {
	r, out := newTestREPL(t)
	var buf strings.Builder

	r.printOutcome(agent.TurnOutcome{
		Status:    agent.StatusMaxRounds,
		FinalText: "Maximum tool execution rounds reached.",
	}, &buf)

	if !strings.Contains(out.String(), "Maximum tool execution rounds reached.") {
		t.Fatalf("output = %q, want round-cap note", out.String())
	}
}

func TestHandleEventToolLines(t *testing.T) {
	r, out := newTestREPL(t)
	var buf strings.Builder
	tokens := 0
	started := time.Now()

	r.handleEvent(agent.Event{
		Kind: agent.EventToolStarted, Tool: "bash", Summary: `Bash "ls -la"`,
	}, &buf, &tokens, started)
	r.handleEvent(agent.Event{
		Kind: agent.EventToolFinished, Tool: "bash", Summary: "total 12",
	}, &buf, &tokens, started)
	r.handleEvent(agent.Event{
		Kind: agent.EventToolFinished, Tool: "bash", Summary: "exit code 1", IsError: true,
	}, &buf, &tokens, started)

	got := out.String()
	if !strings.Contains(got, `Bash "ls -la"`) {
		t.Fatalf("output = %q, want started line", got)
	}
	if !strings.Contains(got, "✓") || !strings.Contains(got, "total 12") {
		t.Fatalf("output = %q, want success line", got)
	}
	if !strings.Contains(got, "✗") || !strings.Contains(got, "exit code 1") {
		t.Fatalf("output = %q, want error line", got)
	}
}

func TestHandleEventFlushesRoundBeforeTool(t *testing.T) {
	r, out := newTestREPL(t)
	var buf strings.Builder
	tokens := 0
	started := time.Now()

	r.handleEvent(agent.Event{Kind: agent.EventDeltaReceived, Chunk: "Let me check."}, &buf, &tokens, started)
	r.handleEvent(agent.Event{Kind: agent.EventToolStarted, Tool: "view_file", Summary: `Read "main.go"`}, &buf, &tokens, started)

	got := out.String()
	textIdx := strings.Index(got, "Let me check.")
	toolIdx := strings.Index(got, `Read "main.go"`)
	if textIdx < 0 || toolIdx < 0 || textIdx > toolIdx {
		t.Fatalf("round text must land before the tool line:\n%s", got)
	}
	if buf.Len() != 0 {
		t.Fatal("round buffer not flushed on tool start")
	}
}

func TestHandleEventReasoningNotBuffered(t *testing.T) {
	r, _ := newTestREPL(t)
	var buf strings.Builder
	tokens := 0

	r.handleEvent(agent.Event{
		Kind: agent.EventDeltaReceived, Chunk: "internal chain", Reasoning: true,
	}, &buf, &tokens, time.Now())

	if buf.Len() != 0 {
		t.Fatalf("reasoning chunk buffered into the transcript: %q", buf.String())
	}
}

func TestWarnContextNearLimit(t *testing.T) {
	r, out := newTestREPL(t)
	r.rt.Config.Runtime.ContextTokenLimit = 1000
	// below the model window, so the configured cap is the effective limit
	r.warnContext(agent.TurnOutcome{Tokens: 900})
	if !strings.Contains(out.String(), "/clear or /new") {
		t.Fatalf("output = %q, want context warning", out.String())
	}

	out.Reset()
	r.warnContext(agent.TurnOutcome{Tokens: 100})
	if out.Len() != 0 {
		t.Fatalf("output = %q, want no warning well under the limit", out.String())
	}
}

func TestCurrentMetaReflectsState(t *testing.T) {
	r, _ := newTestREPL(t)
	r.rt.State.SetAutoEdit(true)
	r.rt.Provider.SetModel("grok-4")

	meta := r.currentMeta()
	if meta.ID != r.rt.State.ID || meta.Model != "grok-4" || !meta.AutoEdit {
		t.Fatalf("currentMeta() = %+v, want live state snapshot", meta)
	}
}

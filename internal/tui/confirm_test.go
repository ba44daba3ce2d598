package tui

import (
	"strings"
	"testing"

	"smith/internal/permission"

	tea "github.com/charmbracelet/bubbletea"
)

func newTestConfirmModel(detail string) confirmModel {
	req := permission.Request{
		Kind:    permission.KindFileMutation,
		Tool:    "create_file",
		CallID:  "call_1",
		Summary: `Create "notes.txt" (5 bytes)`,
		Detail:  detail,
	}
	return newConfirmModel(req, DarkTheme(), DefaultConfirmKeyMap())
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestConfirmUpdate_Approve(t *testing.T) {
	m := newTestConfirmModel("+hello")

	updated, cmd := m.Update(keyRunes("y"))
	got := updated.(confirmModel)
	if !got.done || got.decision != permission.DecisionApprove {
		t.Fatalf("after y: done=%v decision=%q", got.done, got.decision)
	}
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
}

func TestConfirmUpdate_AlwaysAllow(t *testing.T) {
	m := newTestConfirmModel("")

	updated, _ := m.Update(keyRunes("a"))
	got := updated.(confirmModel)
	if got.decision != permission.DecisionApproveAlways {
		t.Fatalf("decision=%q, want approve-always", got.decision)
	}
}

func TestConfirmUpdate_RejectWithFeedback(t *testing.T) {
	m := newTestConfirmModel("+hello")

	updated, _ := m.Update(keyRunes("n"))
	got := updated.(confirmModel)
	if got.phase != phaseFeedback || got.done {
		t.Fatalf("after n: phase=%v done=%v", got.phase, got.done)
	}

	for _, r := range "use tabs" {
		next, _ := got.Update(keyRunes(string(r)))
		got = next.(confirmModel)
	}
	final, _ := got.Update(tea.KeyMsg{Type: tea.KeyEnter})
	got = final.(confirmModel)
	if !got.done || got.decision != permission.DecisionReject {
		t.Fatalf("after enter: done=%v decision=%q", got.done, got.decision)
	}
	if got.feedbackText != "use tabs" {
		t.Fatalf("feedbackText=%q, want %q", got.feedbackText, "use tabs")
	}
}

func TestConfirmUpdate_EscRejectsFromChoose(t *testing.T) {
	m := newTestConfirmModel("+hello")

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	got := updated.(confirmModel)
	if !got.done || got.decision != permission.DecisionReject {
		t.Fatalf("after esc: done=%v decision=%q", got.done, got.decision)
	}
	if got.feedbackText != "" {
		t.Fatalf("feedbackText=%q, want empty", got.feedbackText)
	}
}

func TestConfirmUpdate_EscLeavesFeedback(t *testing.T) {
	m := newTestConfirmModel("")

	updated, _ := m.Update(keyRunes("n"))
	got := updated.(confirmModel)
	next, _ := got.Update(tea.KeyMsg{Type: tea.KeyEsc})
	got = next.(confirmModel)
	if got.phase != phaseChoose || got.done {
		t.Fatalf("esc should return to choose: phase=%v done=%v", got.phase, got.done)
	}
}

func TestConfirmUpdate_Abort(t *testing.T) {
	m := newTestConfirmModel("+x")

	updated, cmd := m.Update(abortMsg{})
	got := updated.(confirmModel)
	if !got.aborted || !got.done {
		t.Fatalf("after abort: aborted=%v done=%v", got.aborted, got.done)
	}
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
}

func TestConfirmView(t *testing.T) {
	m := newTestConfirmModel("+hello\n-world")

	view := m.View()
	if !strings.Contains(view, "file operations") {
		t.Fatalf("view missing kind label: %q", view)
	}
	if !strings.Contains(view, `Create "notes.txt"`) {
		t.Fatalf("view missing summary: %q", view)
	}
	if !strings.Contains(view, "[y] approve") {
		t.Fatalf("view missing choices: %q", view)
	}

	m.done = true
	if m.View() != "" {
		t.Fatalf("done view should be empty")
	}
}

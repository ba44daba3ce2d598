package session

import (
	"strings"
	"testing"

	"smith/internal/chat"
)

func TestSetCwdIgnoresEmpty(t *testing.T) {
	s := New("s1", "m", "/work")
	s.SetCwd("  ")
	if s.Cwd() != "/work" {
		t.Fatalf("Cwd() = %q, want /work", s.Cwd())
	}
	s.SetCwd("/work/sub")
	if s.Cwd() != "/work/sub" {
		t.Fatalf("Cwd() = %q", s.Cwd())
	}
}

func TestDeriveTitle(t *testing.T) {
	s := New("s1", "m", "/work")
	s.Append(
		chat.Message{Role: chat.RoleSystem, Content: "system prompt"},
		chat.Message{Role: chat.RoleUser, Content: "fix the\nparser bug"},
	)
	s.DeriveTitle()
	if s.Title != "fix the parser bug" {
		t.Fatalf("Title = %q", s.Title)
	}

	// An existing title is kept.
	s.Title = "custom"
	s.DeriveTitle()
	if s.Title != "custom" {
		t.Fatalf("Title overwritten: %q", s.Title)
	}
}

func TestDeriveTitleTruncates(t *testing.T) {
	s := New("s1", "m", "/work")
	s.Append(chat.Message{Role: chat.RoleUser, Content: strings.Repeat("x", 200)})
	s.DeriveTitle()
	if len(s.Title) > 70 {
		t.Fatalf("Title too long: %d bytes", len(s.Title))
	}
}

func TestNormalizeStatusAndPriority(t *testing.T) {
	cases := []struct{ in, want string }{
		{"pending", StatusPending},
		{"In_Progress", StatusInProgress},
		{"done", StatusCompleted},
		{"weird", StatusPending},
	}
	for _, tc := range cases {
		if got := NormalizeStatus(tc.in); got != tc.want {
			t.Fatalf("NormalizeStatus(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if got := NormalizePriority("HIGH"); got != PriorityHigh {
		t.Fatalf("NormalizePriority(HIGH) = %q", got)
	}
	if got := NormalizePriority(""); got != PriorityMedium {
		t.Fatalf("NormalizePriority() = %q", got)
	}
}

func TestFormatTodosMarkers(t *testing.T) {
	out := FormatTodos([]Todo{
		{Content: "write tests", Status: StatusPending},
		{Content: "implement", Status: StatusInProgress, Priority: PriorityHigh},
		{Content: "design", Status: StatusCompleted},
	})
	lines := strings.Split(out, "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d: %q", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "○") {
		t.Fatalf("pending marker: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "◐") || !strings.Contains(lines[1], "(high)") {
		t.Fatalf("in_progress marker: %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "●") {
		t.Fatalf("completed marker: %q", lines[2])
	}
}

func TestFormatTodosEmpty(t *testing.T) {
	if got := FormatTodos(nil); got != "(no todos)" {
		t.Fatalf("FormatTodos(nil) = %q", got)
	}
}

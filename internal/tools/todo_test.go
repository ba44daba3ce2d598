package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"smith/internal/session"
)

func TestTodoCreateReplacesList(t *testing.T) {
	st := session.New("s", "m", t.TempDir())
	st.Todos = []session.Todo{{ID: "old", Content: "stale", Status: "pending", Priority: "low"}}

	tool := NewTodoCreateTool(st)
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"todos":[
		{"id":"1","content":"write the parser","status":"in_progress","priority":"high"},
		{"id":"2","content":"add tests","status":"pending","priority":"medium"}
	]}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(st.Todos) != 2 || st.Todos[0].ID != "1" {
		t.Fatalf("Todos = %+v, want the new list", st.Todos)
	}
	if !strings.Contains(out, "◐ write the parser (high)") {
		t.Fatalf("missing in-progress line:\n%s", out)
	}
	if !strings.Contains(out, "○ add tests") {
		t.Fatalf("missing pending line:\n%s", out)
	}
}

func TestTodoCreateRejectsIncompleteItem(t *testing.T) {
	st := session.New("s", "m", t.TempDir())
	tool := NewTodoCreateTool(st)

	for _, args := range []string{
		`{"todos":[{"id":"","content":"x","status":"pending","priority":"low"}]}`,
		`{"todos":[{"id":"1","content":"","status":"pending","priority":"low"}]}`,
		`{"todos":[{"id":"1","content":"x","status":"someday","priority":"low"}]}`,
		`{"todos":[{"id":"1","content":"x","status":"pending","priority":"urgent"}]}`,
	} {
		if _, err := tool.Execute(context.Background(), json.RawMessage(args)); err == nil {
			t.Fatalf("args %s: want validation error", args)
		}
	}
	if len(st.Todos) != 0 {
		t.Fatalf("rejected input must not touch the list: %+v", st.Todos)
	}
}

func TestTodoUpdatePatchesFields(t *testing.T) {
	st := session.New("s", "m", t.TempDir())
	st.Todos = []session.Todo{
		{ID: "1", Content: "write the parser", Status: "in_progress", Priority: "high"},
		{ID: "2", Content: "add tests", Status: "pending", Priority: "medium"},
	}

	tool := NewTodoUpdateTool(st)
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"updates":[
		{"id":"1","status":"completed"},
		{"id":"2","content":"add parser tests","priority":"high"}
	]}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if st.Todos[0].Status != session.StatusCompleted {
		t.Fatalf("Todos[0].Status = %q, want completed", st.Todos[0].Status)
	}
	if st.Todos[1].Content != "add parser tests" || st.Todos[1].Priority != session.PriorityHigh {
		t.Fatalf("Todos[1] = %+v, want patched content and priority", st.Todos[1])
	}
	if !strings.Contains(out, "● write the parser") {
		t.Fatalf("completed marker missing:\n%s", out)
	}
}

func TestTodoUpdateUnknownID(t *testing.T) {
	st := session.New("s", "m", t.TempDir())
	st.Todos = []session.Todo{{ID: "1", Content: "x", Status: "pending", Priority: "low"}}

	tool := NewTodoUpdateTool(st)
	_, err := tool.Execute(context.Background(), json.RawMessage(`{"updates":[{"id":"missing","status":"completed"}]}`))
	if err == nil || !strings.Contains(err.Error(), "Todo with id 'missing' not found") {
		t.Fatalf("error = %v, want unknown-id message", err)
	}
}

func TestTodoUpdateRejectsBadValues(t *testing.T) {
	st := session.New("s", "m", t.TempDir())
	st.Todos = []session.Todo{{ID: "1", Content: "x", Status: "pending", Priority: "low"}}

	tool := NewTodoUpdateTool(st)
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"updates":[{"id":"1","status":"someday"}]}`)); err == nil {
		t.Fatal("invalid status should error")
	}
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"updates":[{"id":"1","priority":"urgent"}]}`)); err == nil {
		t.Fatal("invalid priority should error")
	}
	if st.Todos[0].Status != "pending" || st.Todos[0].Priority != "low" {
		t.Fatalf("rejected update must not mutate: %+v", st.Todos[0])
	}
}

func TestTodoCreateEmptyList(t *testing.T) {
	st := session.New("s", "m", t.TempDir())
	st.Todos = []session.Todo{{ID: "1", Content: "x", Status: "pending", Priority: "low"}}

	tool := NewTodoCreateTool(st)
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"todos":[]}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out != "No todos created yet" {
		t.Fatalf("Execute() = %q", out)
	}
	if len(st.Todos) != 0 {
		t.Fatalf("empty create should clear the list: %+v", st.Todos)
	}
}

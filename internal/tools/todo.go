package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"smith/internal/chat"
	"smith/internal/session"
)

var todoItemSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"id":      map[string]any{"type": "string"},
		"content": map[string]any{"type": "string"},
		"status": map[string]any{
			"type": "string",
			"enum": []string{session.StatusPending, session.StatusInProgress, session.StatusCompleted},
		},
		"priority": map[string]any{
			"type": "string",
			"enum": []string{session.PriorityHigh, session.PriorityMedium, session.PriorityLow},
		},
	},
	"required": []string{"id", "content", "status", "priority"},
}

// TodoCreateTool replaces the session todo list wholesale.
type TodoCreateTool struct {
	st *session.State
}

// TodoUpdateTool patches existing items by id.
type TodoUpdateTool struct {
	st *session.State
}

func NewTodoCreateTool(st *session.State) *TodoCreateTool {
	return &TodoCreateTool{st: st}
}

func NewTodoUpdateTool(st *session.State) *TodoUpdateTool {
	return &TodoUpdateTool{st: st}
}

func (t *TodoCreateTool) Name() string {
	return "create_todo_list"
}

func (t *TodoUpdateTool) Name() string {
	return "update_todo_list"
}

func (t *TodoCreateTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        t.Name(),
			Description: "Create a new todo list for planning and tracking tasks",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"todos": map[string]any{
						"type":  "array",
						"items": todoItemSchema,
					},
				},
				"required": []string{"todos"},
			},
		},
	}
}

func (t *TodoUpdateTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        t.Name(),
			Description: "Update existing todo items",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"updates": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"id": map[string]any{"type": "string"},
								"status": map[string]any{
									"type": "string",
									"enum": []string{session.StatusPending, session.StatusInProgress, session.StatusCompleted},
								},
								"content": map[string]any{"type": "string"},
								"priority": map[string]any{
									"type": "string",
									"enum": []string{session.PriorityHigh, session.PriorityMedium, session.PriorityLow},
								},
							},
							"required": []string{"id"},
						},
					},
				},
				"required": []string{"updates"},
			},
		},
	}
}

func (t *TodoCreateTool) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Todos []session.Todo `json:"todos"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("create_todo_list args: %w", err)
	}
	for _, td := range in.Todos {
		if !validTodoItem(td) {
			return "", errors.New("Each todo must include id, content, status(pending|in_progress|completed), and priority(high|medium|low)")
		}
	}
	t.st.Todos = in.Todos
	return renderTodos(t.st.Todos), nil
}

func (t *TodoUpdateTool) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Updates []struct {
			ID       string  `json:"id"`
			Status   *string `json:"status"`
			Content  *string `json:"content"`
			Priority *string `json:"priority"`
		} `json:"updates"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("update_todo_list args: %w", err)
	}

	for _, up := range in.Updates {
		idx := -1
		for i := range t.st.Todos {
			if t.st.Todos[i].ID == up.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return "", fmt.Errorf("Todo with id '%s' not found", up.ID)
		}
		if up.Status != nil {
			if !session.ValidStatus(*up.Status) {
				return "", fmt.Errorf("Invalid status: %s. Must be pending, in_progress, or completed", *up.Status)
			}
			t.st.Todos[idx].Status = session.NormalizeStatus(*up.Status)
		}
		if up.Content != nil {
			t.st.Todos[idx].Content = *up.Content
		}
		if up.Priority != nil {
			if !validPriority(*up.Priority) {
				return "", fmt.Errorf("Invalid priority: %s. Must be high, medium, or low", *up.Priority)
			}
			t.st.Todos[idx].Priority = session.NormalizePriority(*up.Priority)
		}
	}

	return renderTodos(t.st.Todos), nil
}

func validTodoItem(td session.Todo) bool {
	return strings.TrimSpace(td.ID) != "" &&
		strings.TrimSpace(td.Content) != "" &&
		session.ValidStatus(td.Status) &&
		validPriority(td.Priority)
}

func validPriority(p string) bool {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case session.PriorityHigh, session.PriorityMedium, session.PriorityLow:
		return true
	}
	return false
}

func renderTodos(todos []session.Todo) string {
	if len(todos) == 0 {
		return "No todos created yet"
	}
	return session.FormatTodos(todos)
}

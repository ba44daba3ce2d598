package session

import (
	"fmt"
	"strings"
)

// Todo statuses and priorities. Unknown values normalize to the defaults.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"

	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Todo is one entry of the session task list.
type Todo struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
}

func NormalizeStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case StatusInProgress, "in-progress", "doing":
		return StatusInProgress
	case StatusCompleted, "done":
		return StatusCompleted
	default:
		return StatusPending
	}
}

func NormalizePriority(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case PriorityHigh:
		return PriorityHigh
	case PriorityLow:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// ValidStatus reports whether s is one of the three accepted statuses.
func ValidStatus(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

func marker(status string) string {
	switch status {
	case StatusCompleted:
		return "●"
	case StatusInProgress:
		return "◐"
	default:
		return "○"
	}
}

// FormatTodos renders the list the way both the todo tools and the /todos
// command display it.
func FormatTodos(todos []Todo) string {
	if len(todos) == 0 {
		return "(no todos)"
	}
	var b strings.Builder
	for i, td := range todos {
		if i > 0 {
			b.WriteByte('\n')
		}
		line := fmt.Sprintf("%s %s", marker(NormalizeStatus(td.Status)), td.Content)
		if NormalizePriority(td.Priority) == PriorityHigh {
			line += " (high)"
		}
		b.WriteString(line)
	}
	return b.String()
}

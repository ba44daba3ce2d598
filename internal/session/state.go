// Package session holds the per-conversation state the agent loop operates
// on: the message history, the todo list, the working directory for relative
// paths, and the auto-edit flag. The state is owned by the single loop
// goroutine; collaborators receive it by reference instead of through
// globals.
package session

import (
	"strings"

	"smith/internal/chat"
)

type State struct {
	ID       string
	Title    string
	Model    string
	Messages []chat.Message
	Todos    []Todo

	cwd      string
	autoEdit bool
}

// New creates a fresh session rooted at cwd (the workspace root unless a
// restored session says otherwise).
func New(id, model, cwd string) *State {
	return &State{ID: id, Model: model, cwd: cwd}
}

// Cwd returns the directory relative tool paths and shell commands resolve
// against.
func (s *State) Cwd() string {
	return s.cwd
}

// SetCwd records a new working directory. Callers must pass a path already
// resolved inside the workspace; the setter does not re-validate.
func (s *State) SetCwd(dir string) {
	if strings.TrimSpace(dir) != "" {
		s.cwd = dir
	}
}

func (s *State) AutoEdit() bool {
	return s.autoEdit
}

func (s *State) SetAutoEdit(on bool) {
	s.autoEdit = on
}

// Append adds messages to the history in order.
func (s *State) Append(msgs ...chat.Message) {
	s.Messages = append(s.Messages, msgs...)
}

// Reset swaps the session in place. Tools and the permission gate hold the
// *State captured at build time, so switching sessions must mutate this
// object rather than replace it.
func (s *State) Reset(id, title, model, cwd string, autoEdit bool, msgs []chat.Message, todos []Todo) {
	s.ID = id
	s.Title = title
	s.Model = model
	s.Messages = msgs
	s.Todos = todos
	if strings.TrimSpace(cwd) != "" {
		s.cwd = cwd
	}
	s.autoEdit = autoEdit
}

// ClearMessages drops the history and todos but keeps identity and cwd.
func (s *State) ClearMessages() {
	s.Messages = nil
	s.Todos = nil
	s.Title = ""
}

// DeriveTitle fills Title from the first user message when unset.
func (s *State) DeriveTitle() {
	if strings.TrimSpace(s.Title) != "" {
		return
	}
	for _, m := range s.Messages {
		if m.Role != chat.RoleUser {
			continue
		}
		title := strings.TrimSpace(m.PlainText())
		title = strings.ReplaceAll(title, "\n", " ")
		const max = 64
		if len(title) > max {
			title = title[:max] + "…"
		}
		if title != "" {
			s.Title = title
			return
		}
	}
}

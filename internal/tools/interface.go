// Package tools implements the function tools the model can call: file
// viewing and editing, shell execution, workspace search, and the session
// todo list. Every tool resolves paths through the security workspace and
// receives the session state by reference; nothing here touches globals.
package tools

import (
	"context"
	"encoding/json"

	"smith/internal/chat"
	"smith/internal/permission"
)

// Tool is the uniform contract the agent loop dispatches through. Execute
// returns the text fed back to the model; a non-nil error becomes an
// is_error tool result and the turn continues.
type Tool interface {
	Name() string
	Definition() chat.ToolDef
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// ApprovalRequest describes the side effect a tool is about to perform, for
// the confirmation prompt. Detail carries a diff preview for file mutations
// or a danger note for shell commands.
type ApprovalRequest struct {
	Kind    permission.Kind
	Summary string
	Detail  string
}

// ApprovalAware is implemented by tools whose execution mutates state
// outside the conversation. Read-only tools skip the gate entirely.
type ApprovalAware interface {
	ApprovalRequest(args json.RawMessage) (*ApprovalRequest, error)
}

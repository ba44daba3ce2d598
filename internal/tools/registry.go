package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"smith/internal/chat"
)

// Registry maps wire names to tools.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry(ts ...Tool) *Registry {
	m := make(map[string]Tool, len(ts))
	for _, t := range ts {
		m[t.Name()] = t
	}
	return &Registry{tools: m}
}

// Definitions returns every tool schema in name order, ready to attach to a
// model request.
func (r *Registry) Definitions() []chat.ToolDef {
	out := make([]chat.ToolDef, 0, len(r.tools))
	for _, name := range r.Names() {
		out = append(out, r.tools[name].Definition())
	}
	return out
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return t.Execute(ctx, args)
}

// ApprovalRequest returns the pending side effect for a call, or nil when
// the tool is read-only.
func (r *Registry) ApprovalRequest(name string, args json.RawMessage) (*ApprovalRequest, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	aa, ok := t.(ApprovalAware)
	if !ok {
		return nil, nil
	}
	return aa.ApprovalRequest(args)
}

// DisplayName maps a wire name to the short label the UI prints next to
// tool activity.
func DisplayName(name string) string {
	switch name {
	case "view_file":
		return "Read"
	case "create_file":
		return "Create"
	case "str_replace_editor":
		return "Update"
	case "bash":
		return "Bash"
	case "search":
		return "Search"
	case "create_todo_list":
		return "TodoCreate"
	case "update_todo_list":
		return "TodoUpdate"
	default:
		return "Tool"
	}
}

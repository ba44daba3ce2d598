package repl

import (
	"context"
	"encoding/json"
	"strings"
)

// runBang executes a `!cmd` line through the bash tool, so the passthrough
// gets the same cd handling, sandbox preflight, timeout and output caps the
// model gets. Typing the command is the approval, so the gate is skipped and
// nothing enters the conversation history.
func (r *REPL) runBang(ctx context.Context, command string) {
	if command == "" {
		r.println("usage: !<command>")
		return
	}
	args, err := json.Marshal(map[string]string{"command": command})
	if err != nil {
		r.println(r.theme.ErrorStyle.Render(err.Error()))
		return
	}
	out, err := r.rt.Registry.Execute(ctx, "bash", args)
	if err != nil {
		r.println(r.theme.ErrorStyle.Render(err.Error()))
		return
	}
	if strings.TrimSpace(out) != "" {
		r.println(out)
	}
}

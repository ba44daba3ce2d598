package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"smith/internal/chat"
	"smith/internal/permission"
	"smith/internal/security"
	"smith/internal/session"
)

type BashTool struct {
	ws               *security.Workspace
	pf               *security.Preflight
	st               *session.State
	commandTimeoutMS int
	outputLimitBytes int
}

func NewBashTool(ws *security.Workspace, pf *security.Preflight, st *session.State, commandTimeoutMS, outputLimitBytes int) *BashTool {
	return &BashTool{
		ws:               ws,
		pf:               pf,
		st:               st,
		commandTimeoutMS: commandTimeoutMS,
		outputLimitBytes: outputLimitBytes,
	}
}

func (t *BashTool) Name() string {
	return "bash"
}

func (t *BashTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        t.Name(),
			Description: "Execute a shell command",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{"type": "string"},
				},
				"required": []string{"command"},
			},
		},
	}
}

func (t *BashTool) ApprovalRequest(args json.RawMessage) (*ApprovalRequest, error) {
	in, err := parseBashArgs(args)
	if err != nil {
		return nil, err
	}
	return &ApprovalRequest{
		Kind:    permission.KindShellExecution,
		Summary: strings.TrimSpace(in.Command),
		Detail:  security.DangerNote(in.Command),
	}, nil
}

func (t *BashTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	in, err := parseBashArgs(args)
	if err != nil {
		return "", err
	}
	trimmed := strings.TrimSpace(in.Command)
	if trimmed == "" {
		return "", errors.New("bash command is empty")
	}

	// cd never reaches the shell: the working directory is session state and
	// the target must resolve inside the workspace.
	if dir, ok := strings.CutPrefix(trimmed, "cd "); ok {
		return t.changeDir(strings.TrimSpace(dir))
	}

	if err := t.pf.Check(t.st.Cwd(), trimmed); err != nil {
		return "", fmt.Errorf("Blocked by shell sandbox policy: %v", err)
	}

	timeout := time.Duration(t.commandTimeoutMS) * time.Millisecond
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "/bin/sh", "-lc", trimmed)
	cmd.Dir = t.st.Cwd()

	stdout := newCappedBuffer(t.outputLimitBytes)
	stderr := newCappedBuffer(t.outputLimitBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()
	stdoutText := strings.TrimSpace(stdout.String())
	stderrText := strings.TrimSpace(stderr.String())

	if runErr != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("Command timed out after %s (exit code 124)", timeout)
		}
		if errors.Is(execCtx.Err(), context.Canceled) {
			return "", errors.New("Operation cancelled by user")
		}
		var ee *exec.ExitError
		if !errors.As(runErr, &ee) {
			return "", fmt.Errorf("run command: %w", runErr)
		}
		msg := "Command failed: " + trimmed
		if stderrText != "" {
			msg = "Command failed: " + stderrText
		}
		return "", fmt.Errorf("%s (exit code %d)", msg, ee.ExitCode())
	}

	switch {
	case stdoutText == "" && stderrText == "":
		return "Command executed successfully (no output)", nil
	case stderrText == "":
		return stdoutText, nil
	case stdoutText == "":
		return "STDERR:\n" + stderrText, nil
	default:
		return stdoutText + "\n\nSTDERR:\n" + stderrText, nil
	}
}

func (t *BashTool) changeDir(dir string) (string, error) {
	resolved, err := t.ws.ResolveFrom(t.st.Cwd(), dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("Not a directory: %s", dir)
	}
	t.st.SetCwd(resolved)
	return "Changed directory to: " + resolved, nil
}

type bashArgs struct {
	Command string `json:"command"`
}

func parseBashArgs(args json.RawMessage) (bashArgs, error) {
	var in bashArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return bashArgs{}, fmt.Errorf("bash args: %w", err)
	}
	return in, nil
}

type cappedBuffer struct {
	max       int
	buf       bytes.Buffer
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	if max <= 0 {
		max = 1 << 20
	}
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if b.truncated {
		return len(p), nil
	}
	remain := b.max - b.buf.Len()
	if remain <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remain {
		_, _ = b.buf.Write(p[:remain])
		b.truncated = true
		return len(p), nil
	}
	_, err := b.buf.Write(p)
	return len(p), err
}

func (b *cappedBuffer) String() string {
	if !b.truncated {
		return b.buf.String()
	}
	return b.buf.String() + "\n[output truncated]"
}

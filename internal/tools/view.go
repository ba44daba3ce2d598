package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"smith/internal/chat"
	"smith/internal/security"
	"smith/internal/session"
)

// previewLines is how many lines a file view shows when no range is given.
const previewLines = 10

type ViewTool struct {
	ws *security.Workspace
	st *session.State
}

func NewViewTool(ws *security.Workspace, st *session.State) *ViewTool {
	return &ViewTool{ws: ws, st: st}
}

func (t *ViewTool) Name() string {
	return "view_file"
}

func (t *ViewTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        t.Name(),
			Description: "View contents of a file or list directory contents",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":       map[string]any{"type": "string", "description": "Path to file or directory"},
					"start_line": map[string]any{"type": "number", "description": "Optional start line"},
					"end_line":   map[string]any{"type": "number", "description": "Optional end line"},
				},
				"required": []string{"path"},
			},
		},
	}
}

func (t *ViewTool) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Path      string `json:"path"`
		StartLine *int   `json:"start_line"`
		EndLine   *int   `json:"end_line"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("view_file args: %w", err)
	}
	if strings.TrimSpace(in.Path) == "" {
		return "", errors.New("missing 'path' argument")
	}

	resolved, err := t.ws.ResolveFrom(t.st.Cwd(), in.Path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("File or directory not found: %s", in.Path)
	}

	if info.IsDir() {
		entries, err := os.ReadDir(resolved)
		if err != nil {
			return "", fmt.Errorf("read directory: %w", err)
		}
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			names = append(names, entry.Name())
		}
		sort.Strings(names)
		return fmt.Sprintf("Directory contents of %s:\n%s", in.Path, strings.Join(names, "\n")), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	lines := splitDiffLines(normalizeLineEndings(string(data)))

	if in.StartLine != nil && in.EndLine != nil {
		start, end := *in.StartLine, *in.EndLine
		if start == 0 || end < start {
			return "", errors.New("Invalid line range")
		}
		var selected []string
		for i, line := range lines {
			lineNo := i + 1
			if lineNo >= start && lineNo <= end {
				selected = append(selected, fmt.Sprintf("%d: %s", lineNo, line))
			}
		}
		return fmt.Sprintf("Lines %d-%d of %s:\n%s", start, end, in.Path, strings.Join(selected, "\n")), nil
	}

	shown := lines
	if len(shown) > previewLines {
		shown = shown[:previewLines]
	}
	numbered := make([]string, 0, len(shown))
	for i, line := range shown {
		numbered = append(numbered, fmt.Sprintf("%d: %s", i+1, line))
	}
	suffix := ""
	if len(lines) > previewLines {
		suffix = fmt.Sprintf("\n... +%d lines", len(lines)-previewLines)
	}
	return fmt.Sprintf("Contents of %s:\n%s%s", in.Path, strings.Join(numbered, "\n"), suffix), nil
}

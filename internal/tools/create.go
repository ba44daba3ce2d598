package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"smith/internal/chat"
	"smith/internal/permission"
	"smith/internal/security"
	"smith/internal/session"
)

const (
	diffPreviewMaxLines = 80
	diffPreviewMaxBytes = 8000
)

type CreateTool struct {
	ws *security.Workspace
	st *session.State
}

func NewCreateTool(ws *security.Workspace, st *session.State) *CreateTool {
	return &CreateTool{ws: ws, st: st}
}

func (t *CreateTool) Name() string {
	return "create_file"
}

func (t *CreateTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        t.Name(),
			Description: "Create a new file with specified content",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    map[string]any{"type": "string"},
					"content": map[string]any{"type": "string"},
				},
				"required": []string{"path", "content"},
			},
		},
	}
}

func (t *CreateTool) ApprovalRequest(args json.RawMessage) (*ApprovalRequest, error) {
	in, err := parseCreateArgs(args)
	if err != nil {
		return nil, err
	}
	if _, err := t.ws.ResolveFrom(t.st.Cwd(), in.Path); err != nil {
		return nil, err
	}
	diff := UnifiedDiff("/dev/null", "b/"+normalizeDiffPath(in.Path), "", in.Content)
	diff, _ = TruncateDiff(diff, diffPreviewMaxLines, diffPreviewMaxBytes)
	return &ApprovalRequest{
		Kind:    permission.KindFileMutation,
		Summary: "Create " + in.Path,
		Detail:  diff,
	}, nil
}

func (t *CreateTool) Execute(_ context.Context, args json.RawMessage) (string, error) {
	in, err := parseCreateArgs(args)
	if err != nil {
		return "", err
	}
	resolved, err := t.ws.ResolveFrom(t.st.Cwd(), in.Path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(in.Content), 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	diff := UnifiedDiff("/dev/null", "b/"+normalizeDiffPath(in.Path), "", in.Content)
	diff, _ = TruncateDiff(diff, diffPreviewMaxLines, diffPreviewMaxBytes)
	return fmt.Sprintf("Created %s\n%s", in.Path, diff), nil
}

type createArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func parseCreateArgs(args json.RawMessage) (createArgs, error) {
	var in createArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return createArgs{}, fmt.Errorf("create_file args: %w", err)
	}
	if strings.TrimSpace(in.Path) == "" {
		return createArgs{}, errors.New("missing 'path' argument")
	}
	return in, nil
}

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"smith/internal/chat"
	"smith/internal/permission"
	"smith/internal/security"
	"smith/internal/session"
)

// ReplaceTool applies targeted old_str/new_str edits instead of asking the
// model to handcraft unified diffs.
type ReplaceTool struct {
	ws *security.Workspace
	st *session.State
}

func NewReplaceTool(ws *security.Workspace, st *session.State) *ReplaceTool {
	return &ReplaceTool{ws: ws, st: st}
}

func (t *ReplaceTool) Name() string {
	return "str_replace_editor"
}

func (t *ReplaceTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        t.Name(),
			Description: "Replace text in an existing file",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":        map[string]any{"type": "string"},
					"old_str":     map[string]any{"type": "string"},
					"new_str":     map[string]any{"type": "string"},
					"replace_all": map[string]any{"type": "boolean"},
				},
				"required": []string{"path", "old_str", "new_str"},
			},
		},
	}
}

func (t *ReplaceTool) ApprovalRequest(args json.RawMessage) (*ApprovalRequest, error) {
	in, original, updated, err := t.prepare(args)
	if err != nil {
		return nil, err
	}
	p := normalizeDiffPath(in.Path)
	diff := UnifiedDiff("a/"+p, "b/"+p, original, updated)
	diff, _ = TruncateDiff(diff, diffPreviewMaxLines, diffPreviewMaxBytes)
	return &ApprovalRequest{
		Kind:    permission.KindFileMutation,
		Summary: "Update " + in.Path,
		Detail:  diff,
	}, nil
}

func (t *ReplaceTool) Execute(_ context.Context, args json.RawMessage) (string, error) {
	in, original, updated, err := t.prepare(args)
	if err != nil {
		return "", err
	}
	resolved, err := t.ws.ResolveFrom(t.st.Cwd(), in.Path)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	p := normalizeDiffPath(in.Path)
	diff := UnifiedDiff("a/"+p, "b/"+p, original, updated)
	diff, _ = TruncateDiff(diff, diffPreviewMaxLines, diffPreviewMaxBytes)
	return fmt.Sprintf("Updated %s\n%s", in.Path, diff), nil
}

type replaceArgs struct {
	Path       string `json:"path"`
	OldStr     string `json:"old_str"`
	NewStr     string `json:"new_str"`
	ReplaceAll bool   `json:"replace_all"`
}

// prepare parses the arguments, reads the target and computes the edited
// content without writing, so the confirmation preview and the execution
// share one code path.
func (t *ReplaceTool) prepare(args json.RawMessage) (replaceArgs, string, string, error) {
	var in replaceArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return replaceArgs{}, "", "", fmt.Errorf("str_replace_editor args: %w", err)
	}
	if strings.TrimSpace(in.Path) == "" {
		return in, "", "", errors.New("missing 'path' argument")
	}
	if in.OldStr == "" {
		return in, "", "", errors.New("old_str must not be empty")
	}
	if in.OldStr == in.NewStr {
		return in, "", "", errors.New("old_str and new_str must be different")
	}

	resolved, err := t.ws.ResolveFrom(t.st.Cwd(), in.Path)
	if err != nil {
		return in, "", "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return in, "", "", fmt.Errorf("File not found: %s", in.Path)
		}
		return in, "", "", fmt.Errorf("read file: %w", err)
	}
	original := string(data)

	updated, err := applyStringEdit(original, in.OldStr, in.NewStr, in.ReplaceAll)
	if err != nil {
		return in, "", "", err
	}
	return in, original, updated, nil
}

// applyStringEdit finds oldStr in the content and replaces it. Exact
// substring matching is tried first, then a fallback that matches blocks of
// lines after trimming per-line whitespace. Zero matches or an ambiguous
// match without replaceAll is an error demanding a tighter old_str.
func applyStringEdit(content, oldStr, newStr string, replaceAll bool) (string, error) {
	exactCount := strings.Count(content, oldStr)
	if exactCount > 0 {
		if replaceAll {
			return strings.ReplaceAll(content, oldStr, newStr), nil
		}
		if exactCount > 1 {
			return "", fmt.Errorf("old_str matches %d locations; provide more surrounding context or set replace_all=true", exactCount)
		}
		return strings.Replace(content, oldStr, newStr, 1), nil
	}

	contentLines := strings.Split(content, "\n")
	searchLines := strings.Split(oldStr, "\n")
	if len(searchLines) > 0 && searchLines[len(searchLines)-1] == "" {
		searchLines = searchLines[:len(searchLines)-1]
	}
	if len(searchLines) == 0 {
		return "", errors.New("old_str must not be only whitespace")
	}

	type span struct{ start, end int }
	var matches []span
	for i := 0; i+len(searchLines) <= len(contentLines); i++ {
		ok := true
		for j, want := range searchLines {
			if strings.TrimSpace(contentLines[i+j]) != strings.TrimSpace(want) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		startOffset := 0
		for k := 0; k < i; k++ {
			startOffset += len(contentLines[k]) + 1
		}
		endOffset := startOffset
		last := i + len(searchLines) - 1
		for k := i; k <= last; k++ {
			endOffset += len(contentLines[k])
			if k < len(contentLines)-1 {
				endOffset++
			}
		}
		matches = append(matches, span{start: startOffset, end: endOffset})
	}

	if len(matches) == 0 {
		return "", fmt.Errorf("String not found in file: %q", oldStr)
	}
	if replaceAll {
		// Replace back to front so earlier offsets stay valid.
		updated := content
		for i := len(matches) - 1; i >= 0; i-- {
			m := matches[i]
			updated = updated[:m.start] + newStr + updated[m.end:]
		}
		return updated, nil
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("old_str matches %d locations after trimming; provide more surrounding context or set replace_all=true", len(matches))
	}
	m := matches[0]
	return content[:m.start] + newStr + content[m.end:], nil
}

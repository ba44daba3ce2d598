package contextmgr

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"smith/internal/chat"
)

func TestAssembler_Messages(t *testing.T) {
	root := t.TempDir()
	a := NewAssembler(root, nil)

	msgs := a.Messages(filepath.Join(root, "sub"))
	if len(msgs) != 1 {
		t.Fatalf("Messages() returned %d messages, want 1", len(msgs))
	}
	prompt := msgs[0].Content
	if msgs[0].Role != chat.RoleSystem {
		t.Fatalf("prompt role = %q, want system", msgs[0].Role)
	}
	if !strings.Contains(prompt, "Workspace root: "+root) {
		t.Fatalf("prompt missing workspace root:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Current working directory: "+filepath.Join(root, "sub")) {
		t.Fatalf("prompt missing cwd:\n%s", prompt)
	}
	if !strings.Contains(prompt, "str_replace_editor") {
		t.Fatalf("prompt missing tool guidance:\n%s", prompt)
	}
}

func TestAssembler_EmptyCwdFallsBackToRoot(t *testing.T) {
	root := t.TempDir()
	a := NewAssembler(root, nil)

	msgs := a.Messages("")
	if !strings.Contains(msgs[0].Content, "Current working directory: "+root) {
		t.Fatalf("empty cwd should fall back to the workspace root:\n%s", msgs[0].Content)
	}
}

func TestAssembler_ProjectRules(t *testing.T) {
	root := t.TempDir()
	rules := "Always run tests before finishing."
	if err := os.WriteFile(filepath.Join(root, projectRulesFile), []byte(rules), 0o644); err != nil {
		t.Fatal(err)
	}

	a := NewAssembler(root, nil)
	msgs := a.Messages(root)
	if len(msgs) != 2 {
		t.Fatalf("Messages() returned %d messages, want 2", len(msgs))
	}
	if !strings.HasPrefix(msgs[1].Content, "[PROJECT_RULES]\n") {
		t.Fatalf("rules message missing tag: %q", msgs[1].Content)
	}
	if !strings.Contains(msgs[1].Content, rules) {
		t.Fatalf("rules message missing content: %q", msgs[1].Content)
	}
}

func TestAssembler_InstructionFiles(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "style.md")
	if err := os.WriteFile(path, []byte("Prefer table-driven tests."), 0o644); err != nil {
		t.Fatal(err)
	}

	a := NewAssembler(root, []string{path, filepath.Join(root, "missing.md")})
	msgs := a.Messages(root)
	// 缺失的指令文件静默跳过 / missing instruction files are skipped silently
	if len(msgs) != 2 {
		t.Fatalf("Messages() returned %d messages, want 2", len(msgs))
	}
	if !strings.HasPrefix(msgs[1].Content, "[INSTRUCTION:style.md]\n") {
		t.Fatalf("instruction message missing tag: %q", msgs[1].Content)
	}
}

func TestReadCapped_Truncates(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "big.md")
	if err := os.WriteFile(path, []byte(strings.Repeat("a", instructionMaxRunes+100)), 0o644); err != nil {
		t.Fatal(err)
	}

	content, ok := readCapped(path, instructionMaxRunes)
	if !ok {
		t.Fatal("readCapped() reported missing file")
	}
	if !strings.HasSuffix(content, "...[truncated]") {
		t.Fatalf("oversized file should be truncated, got %d chars ending %q", len(content), content[len(content)-20:])
	}
}

func TestEstimateTokens(t *testing.T) {
	messages := []chat.Message{
		{Role: "user", Content: "hello world"},
	}
	count := EstimateTokens(messages)
	if count <= 0 {
		t.Fatalf("EstimateTokens should return > 0, got %d", count)
	}

	withCalls := append(messages, chat.Message{
		Role:      "assistant",
		ToolCalls: []chat.ToolCall{{ID: "call_1", Function: chat.ToolCallFunction{Name: "bash", Arguments: `{"command":"ls"}`}}},
	})
	if EstimateTokens(withCalls) <= count {
		t.Fatal("tool calls should increase the estimate")
	}
}

// Package contextmgr assembles the system prelude sent ahead of every model
// request and estimates what the assembled context costs in tokens.
package contextmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"smith/internal/chat"
)

const (
	// projectRulesFile 工作区根目录下的项目规则文件
	// projectRulesFile holds project-level rules at the workspace root
	projectRulesFile = "SMITH.md"

	// instructionMaxRunes caps how much of one instruction file enters the
	// context.
	instructionMaxRunes = 32768
)

// Assembler 组装每次请求前置的 system 消息：身份与工具指引、环境信息、项目规则、指令文件
// Assembler builds the system messages that precede the conversation:
// identity and tool guidance, the environment block, project rules and any
// configured instruction files.
type Assembler struct {
	WorkspaceRoot    string
	InstructionFiles []string
}

func NewAssembler(workspaceRoot string, instructionFiles []string) *Assembler {
	return &Assembler{
		WorkspaceRoot:    strings.TrimSpace(workspaceRoot),
		InstructionFiles: append([]string(nil), instructionFiles...),
	}
}

// Messages assembles the system prelude. cwd is the session working
// directory, which shifts as the model runs cd, so the prelude is rebuilt
// per request rather than cached.
func (a *Assembler) Messages(cwd string) []chat.Message {
	out := []chat.Message{{Role: chat.RoleSystem, Content: a.systemPrompt(cwd)}}

	if content, ok := readCapped(filepath.Join(a.WorkspaceRoot, projectRulesFile), instructionMaxRunes); ok {
		out = append(out, chat.Message{Role: chat.RoleSystem, Content: "[PROJECT_RULES]\n" + content})
	}
	for _, path := range a.InstructionFiles {
		if content, ok := readCapped(path, instructionMaxRunes); ok {
			out = append(out, chat.Message{
				Role:    chat.RoleSystem,
				Content: fmt.Sprintf("[INSTRUCTION:%s]\n%s", filepath.Base(path), content),
			})
		}
	}
	return out
}

func (a *Assembler) systemPrompt(cwd string) string {
	if strings.TrimSpace(cwd) == "" {
		cwd = a.WorkspaceRoot
	}
	var b strings.Builder
	b.WriteString("You are smith, an AI coding assistant in a terminal environment.\n")
	b.WriteString("You can use these tools:\n")
	b.WriteString("- view_file: Read file contents or list directories.\n")
	b.WriteString("- create_file: Create a new file.\n")
	b.WriteString("- str_replace_editor: Replace text in an existing file.\n")
	b.WriteString("- bash: Run shell commands.\n")
	b.WriteString("- search: Find text and files.\n")
	b.WriteString("- create_todo_list: Create a todo checklist.\n")
	b.WriteString("- update_todo_list: Update todo checklist items.\n")
	b.WriteString("\n")
	b.WriteString("Important behavior:\n")
	b.WriteString("- Use view_file before editing when practical.\n")
	b.WriteString("- Use str_replace_editor for existing files instead of create_file.\n")
	b.WriteString("- Keep responses concise and directly tied to the task.\n")
	b.WriteString("- Use bash for file discovery and command execution when useful.\n")
	b.WriteString("- Use search for broad text or file discovery across the workspace.\n")
	b.WriteString("- All file paths must stay inside the workspace root; outside paths are rejected.\n")
	b.WriteString("\n")
	fmt.Fprintf(&b, "Workspace root: %s\n", a.WorkspaceRoot)
	fmt.Fprintf(&b, "Current working directory: %s\n", cwd)
	fmt.Fprintf(&b, "Operating system: %s", runtime.GOOS)
	return b.String()
}

func readCapped(path string, maxRunes int) (string, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return "", false
	}
	runes := []rune(content)
	if len(runes) > maxRunes {
		content = string(runes[:maxRunes]) + "\n...[truncated]"
	}
	return content, true
}

// EstimateTokens 廉价估算，用于流式过程中的状态行；精确计数用 Tokenizer
// EstimateTokens is the cheap estimate used on the hot streaming path; the
// Tokenizer gives the precise count at turn boundaries.
func EstimateTokens(messages []chat.Message) int {
	total := 0
	for _, m := range messages {
		total += len([]rune(m.PlainText()))/4 + 4
		for _, part := range m.MultiContent {
			if _, ok := part.(chat.ImageContent); ok {
				total += imageTokenOverhead
			}
		}
		for _, tc := range m.ToolCalls {
			total += len([]rune(tc.Function.Name))/4 + len([]rune(tc.Function.Arguments))/4 + 8
		}
	}
	if total < len(messages)*4 {
		total = len(messages) * 4
	}
	return total
}

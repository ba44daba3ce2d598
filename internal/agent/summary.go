package agent

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"smith/internal/tools"
)

// dispatchSummary renders the one-line label shown when a tool call starts,
// e.g. `Bash "go test ./..."` or `Read "main.go" [10-40]`.
func dispatchSummary(name, rawArgs string) string {
	args := parseJSONObject(rawArgs)
	display := tools.DisplayName(name)
	switch name {
	case "view_file":
		path := getString(args, "path", "")
		start := getInt(args, "start_line", 0)
		end := getInt(args, "end_line", 0)
		if start > 0 && end >= start {
			return fmt.Sprintf("%s %s [%d-%d]", display, quoteOrDash(path), start, end)
		}
		return fmt.Sprintf("%s %s", display, quoteOrDash(path))
	case "create_file":
		path := getString(args, "path", "")
		content := getString(args, "content", "")
		return fmt.Sprintf("%s %s (%d bytes)", display, quoteOrDash(path), len(content))
	case "str_replace_editor":
		return fmt.Sprintf("%s %s", display, quoteOrDash(getString(args, "path", "")))
	case "bash":
		return fmt.Sprintf("%s %s", display, quoteOrDash(getString(args, "command", "")))
	case "search":
		return fmt.Sprintf("%s %s", display, quoteOrDash(getString(args, "query", "")))
	case "create_todo_list", "update_todo_list":
		return display
	default:
		return fmt.Sprintf("%s args=%s", name, summarizeForLog(rawArgs))
	}
}

// resultSummary condenses a tool result for the activity line. File edits
// keep their diff block (already truncated at the source); chatty outputs
// collapse to their first line.
func resultSummary(name, result string) string {
	switch name {
	case "create_file", "str_replace_editor", "create_todo_list", "update_todo_list":
		return strings.TrimSpace(result)
	case "view_file":
		lines := strings.Split(strings.TrimSpace(result), "\n")
		if len(lines) <= 1 {
			return summarizeForLog(result)
		}
		return fmt.Sprintf("%s (%d lines)", summarizeForLog(lines[0]), len(lines)-1)
	case "bash", "search":
		return summarizeForLog(firstLine(result))
	default:
		return summarizeForLog(result)
	}
}

func summarizeForLog(s string) string {
	normalized := strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
	if normalized == "" {
		return "-"
	}
	const maxRunes = 220
	runes := []rune(normalized)
	if len(runes) <= maxRunes {
		return normalized
	}
	return string(runes[:maxRunes]) + "...(truncated)"
}

func parseJSONObject(s string) map[string]any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func getString(m map[string]any, key, fallback string) string {
	if m == nil {
		return fallback
	}
	v, ok := m[key].(string)
	if !ok || v == "" {
		return fallback
	}
	return v
}

func getInt(m map[string]any, key string, fallback int) int {
	if m == nil {
		return fallback
	}
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return fallback
		}
		return n
	default:
		return fallback
	}
}

func firstLine(s string) string {
	for _, line := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}

func quoteOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return strconv.Quote(summarizeForLog(s))
}

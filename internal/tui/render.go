package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
)

// RenderMarkdown 使用 Glamour 渲染 markdown 文本
// RenderMarkdown renders markdown text using Glamour
func RenderMarkdown(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}

	return strings.TrimRight(rendered, "\n")
}

// RenderDiffLine 为 diff 行添加颜色
// RenderDiffLine colorizes a diff line
func RenderDiffLine(line string, theme Theme) string {
	trimmed := strings.TrimLeft(line, " \t")
	if trimmed == "" {
		return line
	}

	switch {
	case strings.HasPrefix(trimmed, "+++"), strings.HasPrefix(trimmed, "---"),
		strings.HasPrefix(trimmed, "diff --"), strings.HasPrefix(trimmed, "index "):
		return theme.MutedStyle.Render(line)
	case strings.HasPrefix(trimmed, "@@"):
		return theme.DiffHunkStyle.Render(line)
	case strings.HasPrefix(trimmed, "+"):
		return theme.DiffAddStyle.Render(line)
	case strings.HasPrefix(trimmed, "-"):
		return theme.DiffDelStyle.Render(line)
	default:
		return line
	}
}

// RenderDiff 渲染完整 diff
// RenderDiff renders a complete diff with colors
func RenderDiff(diff string, theme Theme) string {
	if strings.TrimSpace(diff) == "" {
		return ""
	}

	lines := strings.Split(diff, "\n")
	rendered := make([]string, 0, len(lines))
	for _, line := range lines {
		rendered = append(rendered, RenderDiffLine(line, theme))
	}
	return strings.Join(rendered, "\n")
}

// RenderToolLine 渲染一行工具活动记录；status 为 "→"（开始）、"✓"（完成）或 "✗"（出错）
// RenderToolLine formats one tool activity line for the transcript; status is
// "→" (started), "✓" (done), or "✗" (failed).
func RenderToolLine(theme Theme, status, summary string) string {
	switch status {
	case "✗":
		return theme.ErrorStyle.Render(status) + " " + theme.MutedStyle.Render(summary)
	case "✓":
		return theme.SuccessStyle.Render(status) + " " + theme.MutedStyle.Render(summary)
	default:
		return theme.ToolStyle.Render(status+" ") + summary
	}
}

// RenderStatusLine 渲染回合进行中的状态行（经过时间 + 估算 token 数）
// RenderStatusLine formats the in-turn status line (elapsed time + estimated
// token count).
func RenderStatusLine(theme Theme, elapsed time.Duration, tokens int) string {
	s := fmt.Sprintf("· %.1fs", elapsed.Seconds())
	if tokens > 0 {
		s += fmt.Sprintf(" · ~%s tokens", FormatTokens(tokens))
	}
	s += " · ctrl+c to interrupt"
	return theme.StatusStyle.Render(s)
}

// RenderBanner 渲染启动横幅
// RenderBanner formats the startup banner
func RenderBanner(theme Theme, version, model, workspace string) string {
	var b strings.Builder
	b.WriteString(theme.TitleStyle.Render("smith") + " " + theme.MutedStyle.Render(version))
	b.WriteByte('\n')
	b.WriteString(theme.StatusStyle.Render(fmt.Sprintf("model %s · workspace %s", model, workspace)))
	return b.String()
}

// FormatTokens 缩写 token 数量（1536 → "1.5k"）
// FormatTokens abbreviates a token count (1536 → "1.5k").
func FormatTokens(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1000:
		return fmt.Sprintf("%.1fk", float64(n)/1000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

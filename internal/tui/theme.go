package tui

import "github.com/charmbracelet/lipgloss"

// Theme 定义终端输出的色彩和样式
// Theme defines terminal colors and styles
type Theme struct {
	// 基础色 / Base colors
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Accent    lipgloss.Color
	Danger    lipgloss.Color
	Success   lipgloss.Color
	Muted     lipgloss.Color
	Text      lipgloss.Color
	TextDim   lipgloss.Color
	Border    lipgloss.Color

	// 预构建样式 / Pre-built styles
	TitleStyle    lipgloss.Style
	ToolStyle     lipgloss.Style
	StatusStyle   lipgloss.Style
	ErrorStyle    lipgloss.Style
	SuccessStyle  lipgloss.Style
	MutedStyle    lipgloss.Style
	DangerStyle   lipgloss.Style
	PromptStyle   lipgloss.Style
	DiffAddStyle  lipgloss.Style
	DiffDelStyle  lipgloss.Style
	DiffHunkStyle lipgloss.Style
}

// DarkTheme 暗色主题（默认）
// DarkTheme is the default dark theme
func DarkTheme() Theme {
	t := Theme{
		Primary:   lipgloss.Color("#7C3AED"),
		Secondary: lipgloss.Color("#06B6D4"),
		Accent:    lipgloss.Color("#F59E0B"),
		Danger:    lipgloss.Color("#EF4444"),
		Success:   lipgloss.Color("#10B981"),
		Muted:     lipgloss.Color("#6B7280"),
		Text:      lipgloss.Color("#E5E7EB"),
		TextDim:   lipgloss.Color("#9CA3AF"),
		Border:    lipgloss.Color("#374151"),
	}

	t.TitleStyle = lipgloss.NewStyle().
		Foreground(t.Primary).
		Bold(true)

	t.ToolStyle = lipgloss.NewStyle().
		Foreground(t.Accent)

	t.StatusStyle = lipgloss.NewStyle().
		Foreground(t.TextDim)

	t.ErrorStyle = lipgloss.NewStyle().
		Foreground(t.Danger).
		Bold(true)

	t.SuccessStyle = lipgloss.NewStyle().
		Foreground(t.Success)

	t.MutedStyle = lipgloss.NewStyle().
		Foreground(t.Muted)

	t.DangerStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(t.Danger).
		Bold(true).
		Padding(0, 1)

	t.PromptStyle = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(t.Border).
		Padding(0, 1)

	t.DiffAddStyle = lipgloss.NewStyle().
		Foreground(t.Success)

	t.DiffDelStyle = lipgloss.NewStyle().
		Foreground(t.Danger)

	t.DiffHunkStyle = lipgloss.NewStyle().
		Foreground(t.Secondary)

	return t
}

package tui

import "github.com/charmbracelet/bubbles/key"

// ConfirmKeyMap 确认提示的决策快捷键；滚动键交给 viewport 自带的 KeyMap 处理
// ConfirmKeyMap defines decision keybindings for the confirmation prompt;
// scrolling is handled by the viewport's own KeyMap.
type ConfirmKeyMap struct {
	Approve key.Binding
	Always  key.Binding
	Reject  key.Binding
	Submit  key.Binding
	Back    key.Binding
	Abort   key.Binding
}

// DefaultConfirmKeyMap 默认快捷键
// DefaultConfirmKeyMap returns default keybindings
func DefaultConfirmKeyMap() ConfirmKeyMap {
	return ConfirmKeyMap{
		Approve: key.NewBinding(
			key.WithKeys("y", "enter"),
			key.WithHelp("y", "approve"),
		),
		Always: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "always allow"),
		),
		Reject: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "reject"),
		),
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
		Abort: key.NewBinding(
			key.WithKeys("esc", "ctrl+c"),
			key.WithHelp("esc", "reject"),
		),
	}
}

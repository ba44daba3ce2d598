package tui

import (
	"context"
	"fmt"
	"strings"

	"smith/internal/permission"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// Confirmer 交互式确认界面；Confirm 方法满足 permission.ConfirmFunc
// Confirmer is the interactive confirmation surface; its Confirm method
// satisfies permission.ConfirmFunc.
type Confirmer struct {
	theme Theme
	keys  ConfirmKeyMap
}

func NewConfirmer(theme Theme) *Confirmer {
	return &Confirmer{theme: theme, keys: DefaultConfirmKeyMap()}
}

// Confirm 运行一个内联 Bubble Tea 程序征求用户决定；ctx 取消时中止并返回 ctx.Err()
// Confirm runs an inline Bubble Tea program to ask for a decision; when ctx is
// cancelled the prompt aborts and ctx.Err() is returned.
func (c *Confirmer) Confirm(ctx context.Context, req permission.Request) (permission.Response, error) {
	m := newConfirmModel(req, c.theme, c.keys)
	p := tea.NewProgram(m)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.Send(abortMsg{})
		case <-done:
		}
	}()

	out, err := p.Run()
	close(done)
	if err != nil {
		return permission.Response{Decision: permission.DecisionReject}, fmt.Errorf("confirmation prompt: %w", err)
	}

	final, ok := out.(confirmModel)
	if !ok || final.aborted {
		if ctx.Err() != nil {
			return permission.Response{}, ctx.Err()
		}
		return permission.Response{Decision: permission.DecisionReject}, nil
	}
	return permission.Response{
		Decision: final.decision,
		Feedback: strings.TrimSpace(final.feedbackText),
	}, nil
}

type confirmPhase int

const (
	phaseChoose confirmPhase = iota
	phaseFeedback
)

// abortMsg 由 ctx 监视 goroutine 注入
// abortMsg is injected by the ctx watcher goroutine
type abortMsg struct{}

type confirmModel struct {
	req   permission.Request
	theme Theme
	keys  ConfirmKeyMap

	view      viewport.Model
	hasDetail bool
	feedback  textinput.Model

	phase        confirmPhase
	decision     permission.Decision
	feedbackText string
	done         bool
	aborted      bool
}

func newConfirmModel(req permission.Request, theme Theme, keys ConfirmKeyMap) confirmModel {
	detail := strings.TrimRight(req.Detail, "\n")
	height := strings.Count(detail, "\n") + 1
	if height > 16 {
		height = 16
	}
	vp := viewport.New(76, height)
	vp.SetContent(RenderDiff(detail, theme))

	ti := textinput.New()
	ti.Placeholder = "reason (optional, sent to the model)"
	ti.CharLimit = 500
	ti.Width = 60

	return confirmModel{
		req:       req,
		theme:     theme,
		keys:      keys,
		view:      vp,
		hasDetail: strings.TrimSpace(detail) != "",
		feedback:  ti,
	}
}

func (m confirmModel) Init() tea.Cmd {
	return nil
}

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case abortMsg:
		m.aborted = true
		m.done = true
		return m, tea.Quit

	case tea.WindowSizeMsg:
		w := msg.Width - 6
		if w < 20 {
			w = 20
		}
		if w > 120 {
			w = 120
		}
		m.view.Width = w
		return m, nil

	case tea.KeyMsg:
		if m.phase == phaseFeedback {
			return m.updateFeedback(msg)
		}
		return m.updateChoose(msg)
	}
	return m, nil
}

func (m confirmModel) updateChoose(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Approve):
		m.decision = permission.DecisionApprove
		m.done = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Always):
		m.decision = permission.DecisionApproveAlways
		m.done = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Reject):
		m.phase = phaseFeedback
		m.feedback.Focus()
		return m, textinput.Blink
	case key.Matches(msg, m.keys.Abort):
		m.decision = permission.DecisionReject
		m.done = true
		return m, tea.Quit
	}
	// 其余按键（j/k/pgup/pgdn 等）交给 viewport 滚动
	// remaining keys (j/k/pgup/pgdn, ...) scroll the viewport
	var cmd tea.Cmd
	m.view, cmd = m.view.Update(msg)
	return m, cmd
}

func (m confirmModel) updateFeedback(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Submit):
		m.decision = permission.DecisionReject
		m.feedbackText = m.feedback.Value()
		m.done = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Back):
		m.phase = phaseChoose
		m.feedback.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.feedback, cmd = m.feedback.Update(msg)
	return m, cmd
}

func (m confirmModel) View() string {
	if m.done {
		// 退出时清空内联区域 / clear the inline area on exit
		return ""
	}

	var b strings.Builder
	b.WriteString(m.theme.TitleStyle.Render("Confirm " + m.req.Kind.Label()))
	b.WriteByte('\n')
	b.WriteString(m.req.Summary)
	b.WriteByte('\n')
	if m.hasDetail {
		b.WriteString(m.theme.PromptStyle.Render(m.view.View()))
		b.WriteByte('\n')
	}

	switch m.phase {
	case phaseFeedback:
		b.WriteString("Feedback for the model: " + m.feedback.View())
	default:
		b.WriteString(m.theme.MutedStyle.Render("[y] approve  [a] always allow this  [n] reject  [esc] reject"))
	}
	return b.String()
}

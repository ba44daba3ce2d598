// Package repl is the interactive surface: a readline prompt in front of the
// agent loop. One turn at a time runs on its own goroutine while this package
// consumes the event stream, repaints a status line, renders finished rounds
// as markdown, and answers confirmation requests inline. All terminal writes
// happen on the loop goroutine.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"smith/internal/agent"
	"smith/internal/bootstrap"
	"smith/internal/logging"
	"smith/internal/permission"
	"smith/internal/storage"
	"smith/internal/tui"

	"github.com/chzyer/readline"
)

// statusInterval 状态行重绘周期
// statusInterval is how often the in-turn status line repaints.
const statusInterval = 100 * time.Millisecond

const clearLine = "\r\x1b[2K"

type REPL struct {
	rt      *bootstrap.Runtime
	bridge  *ConfirmBridge
	theme   tui.Theme
	confirm *tui.Confirmer
	out     io.Writer
	input   lineReader
	version string

	// persisted counts messages already written to the store; AppendMessages
	// starts from here after each turn.
	persisted int
}

// New wires a REPL over a built runtime. bridge must be the same one whose
// Ask was handed to the runtime's gate, otherwise confirmations deadlock.
func New(rt *bootstrap.Runtime, bridge *ConfirmBridge, version string) *REPL {
	historyPath := filepath.Join(rt.Config.Storage.BaseDir, "repl.history")
	input, err := newLineReader(historyPath)
	if err != nil {
		logging.Warn("line editor unavailable, using basic input", "err", err)
	}
	theme := tui.DarkTheme()
	return &REPL{
		rt:        rt,
		bridge:    bridge,
		theme:     theme,
		confirm:   tui.NewConfirmer(theme),
		out:       os.Stdout,
		input:     input,
		version:   version,
		persisted: len(rt.State.Messages),
	}
}

// Run reads lines until /exit or EOF. Ctrl+C at the prompt clears the line;
// during a turn it cancels that turn only.
func (r *REPL) Run(ctx context.Context) error {
	defer r.input.Close()
	defer r.bridge.Close()

	r.printBanner()

	for {
		line, err := r.input.ReadLine("> ")
		if err != nil {
			switch {
			case errors.Is(err, readline.ErrInterrupt):
				continue
			case errors.Is(err, io.EOF):
				r.persistMeta()
				r.println(r.theme.MutedStyle.Render("bye"))
				return nil
			default:
				return fmt.Errorf("read input: %w", err)
			}
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		switch {
		case strings.HasPrefix(input, "/"):
			if exit := r.handleCommand(input); exit {
				r.persistMeta()
				return nil
			}
			r.persistMeta()
		case strings.HasPrefix(input, "!"):
			r.runBang(ctx, strings.TrimSpace(strings.TrimPrefix(input, "!")))
		default:
			r.runTurn(ctx, input)
		}
	}
}

func (r *REPL) printBanner() {
	st := r.rt.State
	r.println(tui.RenderBanner(r.theme, r.version, r.rt.Provider.CurrentModel(), r.rt.Workspace.Root()))
	r.println(r.theme.MutedStyle.Render("/help for commands · !cmd runs a shell line · @file attaches a file"))
	if len(st.Messages) > 0 {
		r.println(r.theme.MutedStyle.Render(fmt.Sprintf("resumed session %s (%d messages)", st.ID, len(st.Messages))))
	}
	if st.AutoEdit() {
		r.println(r.theme.MutedStyle.Render("auto-edit is on: file edits and commands run without confirmation"))
	}
}

// runTurn executes one conversation turn. SIGINT is rerouted for the
// duration: the first Ctrl+C cancels the turn context instead of killing the
// process, and the handler unhooks itself when the turn ends.
func (r *REPL) runTurn(ctx context.Context, input string) {
	text, images := expandMentions(input, r.rt.Workspace, r.rt.State.Cwd())

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-turnCtx.Done():
		}
	}()

	outcomeCh := make(chan agent.TurnOutcome, 1)
	go func() {
		if len(images) > 0 {
			outcomeCh <- r.rt.Agent.RunTurnWithImages(turnCtx, text, images)
			return
		}
		outcomeCh <- r.rt.Agent.RunTurn(turnCtx, text)
	}()

	outcome := r.consumeTurn(outcomeCh)
	r.warnContext(outcome)
	r.persistTurn()
}

// consumeTurn is the per-turn event loop: agent events, confirmation
// requests, the status ticker, and finally the outcome, all multiplexed onto
// this goroutine so prints never interleave.
func (r *REPL) consumeTurn(outcomeCh <-chan agent.TurnOutcome) agent.TurnOutcome {
	started := time.Now()
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	var roundBuf strings.Builder
	tokens := 0

	for {
		select {
		case ev := <-r.rt.Agent.Events():
			r.handleEvent(ev, &roundBuf, &tokens, started)
		case cr := <-r.bridge.requests:
			r.flushRound(&roundBuf)
			r.answerConfirm(cr)
		case <-ticker.C:
			r.paintStatus(started, tokens)
		case outcome := <-outcomeCh:
			r.drainEvents(&roundBuf, &tokens, started)
			r.clearStatus()
			r.printOutcome(outcome, &roundBuf)
			return outcome
		}
	}
}

func (r *REPL) handleEvent(ev agent.Event, roundBuf *strings.Builder, tokens *int, started time.Time) {
	switch ev.Kind {
	case agent.EventTurnStarted:
		if ev.Tokens > 0 {
			*tokens = ev.Tokens
		}
		r.paintStatus(started, *tokens)
	case agent.EventDeltaReceived:
		if ev.Tokens > 0 {
			*tokens = ev.Tokens
		}
		if !ev.Reasoning {
			roundBuf.WriteString(ev.Chunk)
		}
		r.paintStatus(started, *tokens)
	case agent.EventToolStarted:
		// 本回合已流完的文本先落屏，再打印工具行
		// the round's streamed text lands before the tool line
		r.flushRound(roundBuf)
		r.println(tui.RenderToolLine(r.theme, "→", ev.Summary))
	case agent.EventToolFinished:
		r.clearStatus()
		status := "✓"
		if ev.IsError {
			status = "✗"
		}
		r.println(tui.RenderToolLine(r.theme, status, ev.Summary))
	case agent.EventError:
		r.flushRound(roundBuf)
	case agent.EventConfirmationRequested, agent.EventCancelled, agent.EventTurnComplete:
		// the bridge already rendered the prompt; terminal states print from
		// the outcome
	}
}

// drainEvents empties whatever is still buffered once the outcome arrived,
// so tool lines emitted just before completion are not lost.
func (r *REPL) drainEvents(roundBuf *strings.Builder, tokens *int, started time.Time) {
	for {
		select {
		case ev := <-r.rt.Agent.Events():
			r.handleEvent(ev, roundBuf, tokens, started)
		default:
			return
		}
	}
}

func (r *REPL) printOutcome(outcome agent.TurnOutcome, roundBuf *strings.Builder) {
	switch outcome.Status {
	case agent.StatusCompleted:
		roundBuf.Reset()
		if strings.TrimSpace(outcome.FinalText) != "" {
			r.println(tui.RenderMarkdown(outcome.FinalText, 0))
		}
		r.println(r.theme.StatusStyle.Render(fmt.Sprintf("%.1fs · ~%s tokens", outcome.Duration.Seconds(), tui.FormatTokens(outcome.Tokens))))
	case agent.StatusMaxRounds:
		roundBuf.Reset()
		r.println(r.theme.MutedStyle.Render(outcome.FinalText))
	case agent.StatusCancelled:
		// a cut-off round renders plain: half markdown looks worse than none
		if partial := strings.TrimSpace(roundBuf.String()); partial != "" {
			r.println(partial)
		}
		roundBuf.Reset()
		r.println(r.theme.MutedStyle.Render("interrupted"))
	case agent.StatusFailed:
		roundBuf.Reset()
		msg := "turn failed"
		if outcome.Err != nil {
			msg = "turn failed: " + outcome.Err.Error()
		}
		r.println(r.theme.ErrorStyle.Render(msg))
	}
}

// answerConfirm renders the interactive prompt for one gate request and
// replies over the bridge. A transcript line records the decision because
// the prompt itself disappears when the inline program exits.
func (r *REPL) answerConfirm(cr confirmRequest) {
	resp, err := r.confirm.Confirm(cr.ctx, cr.req)
	cr.respCh <- confirmResponse{resp: resp, err: err}
	if err != nil {
		return
	}
	switch resp.Decision {
	case permission.DecisionApprove:
		r.println(r.theme.MutedStyle.Render("approved: " + cr.req.Summary))
	case permission.DecisionApproveAlways:
		r.println(r.theme.MutedStyle.Render("approved (always for " + cr.req.Kind.Label() + "): " + cr.req.Summary))
	default:
		note := "rejected: " + cr.req.Summary
		if strings.TrimSpace(resp.Feedback) != "" {
			note += " · " + resp.Feedback
		}
		r.println(r.theme.MutedStyle.Render(note))
	}
}

// warnContext nudges toward /clear or /new when the context is close to the
// effective limit: the configured cap or the model's window, whichever is
// smaller.
func (r *REPL) warnContext(outcome agent.TurnOutcome) {
	if outcome.Tokens <= 0 {
		return
	}
	limit := r.rt.Config.Runtime.ContextTokenLimit
	if info := r.rt.Catalog.Lookup(r.rt.Provider.CurrentModel()); info != nil && info.ContextWindow > 0 {
		if limit <= 0 || info.ContextWindow < limit {
			limit = info.ContextWindow
		}
	}
	if limit <= 0 || outcome.Tokens*10 < limit*8 {
		return
	}
	r.println(r.theme.MutedStyle.Render(fmt.Sprintf(
		"context is at ~%s of %s tokens; /clear or /new trims it",
		tui.FormatTokens(outcome.Tokens), tui.FormatTokens(limit))))
}

func (r *REPL) flushRound(roundBuf *strings.Builder) {
	r.clearStatus()
	text := strings.TrimSpace(roundBuf.String())
	roundBuf.Reset()
	if text == "" {
		return
	}
	r.println(tui.RenderMarkdown(text, 0))
}

func (r *REPL) paintStatus(started time.Time, tokens int) {
	fmt.Fprint(r.out, clearLine+tui.RenderStatusLine(r.theme, time.Since(started), tokens))
}

func (r *REPL) clearStatus() {
	fmt.Fprint(r.out, clearLine)
}

func (r *REPL) println(line string) {
	fmt.Fprintln(r.out, line)
}

// currentMeta snapshots the session row from live state.
func (r *REPL) currentMeta() storage.SessionMeta {
	st := r.rt.State
	return storage.SessionMeta{
		ID:       st.ID,
		Title:    st.Title,
		Model:    r.rt.Provider.CurrentModel(),
		CWD:      st.Cwd(),
		AutoEdit: st.AutoEdit(),
	}
}

// persistTurn writes what the finished turn changed: the session row, the
// messages appended since the last save, and the todo snapshot.
func (r *REPL) persistTurn() {
	st := r.rt.State
	if err := r.rt.Store.SaveSession(r.currentMeta()); err != nil {
		logging.Warn("save session failed", "session", st.ID, "err", err)
	}
	if len(st.Messages) > r.persisted {
		if err := r.rt.Store.AppendMessages(st.ID, r.persisted, st.Messages[r.persisted:]); err != nil {
			logging.Warn("append messages failed", "session", st.ID, "err", err)
		} else {
			r.persisted = len(st.Messages)
		}
	}
	if err := r.rt.Store.ReplaceTodos(st.ID, st.Todos); err != nil {
		logging.Warn("save todos failed", "session", st.ID, "err", err)
	}
}

// persistMeta saves just the session row; commands that change the model or
// the auto-edit flag call this without touching messages.
func (r *REPL) persistMeta() {
	if err := r.rt.Store.SaveSession(r.currentMeta()); err != nil {
		logging.Warn("save session failed", "session", r.rt.State.ID, "err", err)
	}
}

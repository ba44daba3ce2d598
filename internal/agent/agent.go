// Package agent runs the conversation loop: one user turn is a bounded
// sequence of model rounds, each either producing the final answer or a
// batch of tool calls that are confirmed, sandbox-checked and executed
// strictly in order before the next request goes out. The loop owns the
// session history; everything the UI sees leaves through the Emitter.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"smith/internal/chat"
	"smith/internal/contextmgr"
	"smith/internal/logging"
	"smith/internal/permission"
	"smith/internal/provider"
	"smith/internal/session"
	"smith/internal/tools"
)

const (
	defaultMaxRounds = 30

	// maxRoundsNote 在达到回合上限时追加到历史，避免无限工具循环
	// maxRoundsNote is appended to history when the round cap is hit so the
	// transcript explains why the turn stopped.
	maxRoundsNote = "Maximum tool execution rounds reached."

	// cancelledResult answers tool calls that were still pending when the
	// user cancelled; every call gets a result so the history stays valid.
	cancelledResult = "Operation cancelled by user"

	// tokenEmitInterval throttles running token counts on the delta stream.
	tokenEmitInterval = 250 * time.Millisecond
)

// TurnStatus classifies how a turn ended.
type TurnStatus string

const (
	StatusCompleted TurnStatus = "completed"
	StatusMaxRounds TurnStatus = "max-rounds"
	StatusCancelled TurnStatus = "cancelled"
	StatusFailed    TurnStatus = "failed"
)

// TurnOutcome 单个回合的最终结果
// TurnOutcome is the terminal result of one user turn. Cancellation and the
// round cap are normal endings, not errors; Err is set for failed only.
type TurnOutcome struct {
	Status    TurnStatus
	FinalText string
	Rounds    int
	Tokens    int
	Duration  time.Duration
	Err       error
}

// Options wires the loop's collaborators. Provider, Registry, Gate and
// State are required; the rest default sensibly.
type Options struct {
	Provider  provider.Provider
	Registry  *tools.Registry
	Gate      *permission.Gate
	State     *session.State
	Assembler *contextmgr.Assembler
	Tokenizer *contextmgr.Tokenizer
	Emitter   *Emitter

	MaxRounds int
	MaxTokens int
}

type Agent struct {
	provider  provider.Provider
	registry  *tools.Registry
	gate      *permission.Gate
	state     *session.State
	assembler *contextmgr.Assembler
	tokenizer *contextmgr.Tokenizer
	emitter   *Emitter

	maxRounds int
	maxTokens int
}

func New(opts Options) *Agent {
	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}
	tokenizer := opts.Tokenizer
	if tokenizer == nil {
		tokenizer = contextmgr.DefaultTokenizer()
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = NewEmitter(0)
	}
	return &Agent{
		provider:  opts.Provider,
		registry:  opts.Registry,
		gate:      opts.Gate,
		state:     opts.State,
		assembler: opts.Assembler,
		tokenizer: tokenizer,
		emitter:   emitter,
		maxRounds: maxRounds,
		maxTokens: opts.MaxTokens,
	}
}

// Events exposes the loop's event channel for the UI.
func (a *Agent) Events() <-chan Event {
	return a.emitter.Events()
}

// Close shuts the event channel down. Call once the UI is done consuming.
func (a *Agent) Close() {
	a.emitter.Close()
}

// State returns the session the loop operates on.
func (a *Agent) State() *session.State {
	return a.state
}

// RunTurn runs one conversation turn from plain text input.
func (a *Agent) RunTurn(ctx context.Context, userText string) TurnOutcome {
	return a.run(ctx, chat.Message{Role: chat.RoleUser, Content: userText})
}

// RunTurnWithImages runs one turn whose user message carries image
// attachments (file mentions of png/jpg resolve to data URLs).
func (a *Agent) RunTurnWithImages(ctx context.Context, userText string, images []chat.ImageContent) TurnOutcome {
	if len(images) == 0 {
		return a.run(ctx, chat.Message{Role: chat.RoleUser, Content: userText})
	}
	parts := make([]chat.ContentPart, 0, len(images)+1)
	parts = append(parts, chat.TextContent{Type: "text", Text: userText})
	for _, img := range images {
		parts = append(parts, img)
	}
	return a.run(ctx, chat.Message{Role: chat.RoleUser, MultiContent: parts})
}

func (a *Agent) run(ctx context.Context, userMsg chat.Message) TurnOutcome {
	started := time.Now()
	a.state.Append(userMsg)
	a.state.DeriveTitle()

	a.emit(Event{Kind: EventTurnStarted, Tokens: a.contextTokens()})
	logging.Info("turn started", "session", a.state.ID, "model", a.provider.CurrentModel())

	var finalText string
	var lastUsage provider.Usage
	rounds := 0

	for round := 0; round < a.maxRounds; round++ {
		if ctx.Err() != nil {
			return a.finishCancelled(started, finalText, rounds)
		}
		rounds++

		resp, partial, err := a.requestCompletion(ctx)
		if err != nil {
			if isContextCancellationErr(ctx, err) {
				// 保留已流出的部分文本，不产生孤儿 ToolCall
				// keep the partial text that already streamed; the message
				// carries no tool calls so the history stays answerable
				if strings.TrimSpace(partial) != "" {
					a.state.Append(chat.Message{Role: chat.RoleAssistant, Content: partial})
					finalText = partial
				}
				return a.finishCancelled(started, finalText, rounds)
			}
			logging.Error("model request failed", "round", rounds, "err", err)
			a.emit(Event{Kind: EventError, Err: err})
			return a.finish(TurnOutcome{
				Status:    StatusFailed,
				FinalText: finalText,
				Err:       fmt.Errorf("model request: %w", err),
			}, started, rounds)
		}
		if resp.Usage.TotalTokens > 0 {
			lastUsage = resp.Usage
		}

		msg := resp.Message
		if err := validateToolCalls(msg.ToolCalls); err != nil {
			// broken invariant from the stream assembly; answering such a
			// call is impossible, so the turn aborts before the bad
			// assistant message can enter history
			logging.Error("malformed tool call from stream", "err", err)
			a.emit(Event{Kind: EventError, Err: err})
			return a.finish(TurnOutcome{
				Status:    StatusFailed,
				FinalText: finalText,
				Err:       fmt.Errorf("internal: %w", err),
			}, started, rounds)
		}
		a.state.Append(msg)
		if msg.Content != "" {
			finalText = msg.Content
		}

		if len(msg.ToolCalls) == 0 {
			return a.finish(TurnOutcome{
				Status:    StatusCompleted,
				FinalText: finalText,
				Tokens:    lastUsage.TotalTokens,
			}, started, rounds)
		}

		for i, call := range msg.ToolCalls {
			if ctx.Err() != nil {
				a.recordCancelledCalls(msg.ToolCalls[i:])
				return a.finishCancelled(started, finalText, rounds)
			}
			if err := a.dispatch(ctx, call); err != nil {
				// cancellation surfaced while waiting on a confirmation;
				// this call and everything after it gets a cancelled result
				a.recordCancelledCalls(msg.ToolCalls[i:])
				return a.finishCancelled(started, finalText, rounds)
			}
		}
	}

	a.state.Append(chat.Message{Role: chat.RoleAssistant, Content: maxRoundsNote})
	a.emit(Event{Kind: EventDeltaReceived, Chunk: "\n\n" + maxRoundsNote})
	logging.Warn("round cap reached", "rounds", rounds)
	return a.finish(TurnOutcome{
		Status:    StatusMaxRounds,
		FinalText: maxRoundsNote,
		Tokens:    lastUsage.TotalTokens,
	}, started, rounds)
}

// requestCompletion sends the assembled context to the model and streams
// deltas onto the event channel. It returns the assembled response plus
// whatever text had streamed by the time an error cut the request short.
func (a *Agent) requestCompletion(ctx context.Context) (provider.ChatResponse, string, error) {
	messages := a.buildMessages()
	inputTokens := contextmgr.EstimateTokens(messages)

	var streamed strings.Builder
	lastTokenEmit := time.Now()
	cb := &provider.StreamCallbacks{
		OnTextChunk: func(chunk string) {
			if chunk == "" {
				return
			}
			streamed.WriteString(chunk)
			ev := Event{Kind: EventDeltaReceived, Chunk: chunk}
			if time.Since(lastTokenEmit) >= tokenEmitInterval {
				ev.Tokens = inputTokens + streamed.Len()/4
				lastTokenEmit = time.Now()
			}
			a.emit(ev)
		},
		OnReasoningChunk: func(chunk string) {
			if chunk == "" {
				return
			}
			a.emit(Event{Kind: EventDeltaReceived, Chunk: chunk, Reasoning: true})
		},
	}

	resp, err := a.provider.Chat(ctx, provider.ChatRequest{
		Messages:  messages,
		Tools:     a.registry.Definitions(),
		MaxTokens: a.maxTokens,
	}, cb)
	return resp, streamed.String(), err
}

// dispatch runs one tool call end to end: confirmation, execution, result
// recording, events. A non-nil error means cancellation interrupted the
// confirmation and no result was recorded for this call yet.
func (a *Agent) dispatch(ctx context.Context, call chat.ToolCall) error {
	name := call.Function.Name
	args := json.RawMessage(call.Function.Arguments)
	summary := dispatchSummary(name, call.Function.Arguments)

	if !a.registry.Has(name) {
		logging.Warn("unknown tool requested", "tool", name, "call_id", call.ID)
		a.appendToolResult(call, "Unknown tool: "+name)
		a.emit(Event{Kind: EventToolStarted, CallID: call.ID, Tool: name, Summary: summary})
		a.emit(Event{Kind: EventToolFinished, CallID: call.ID, Tool: name, Summary: "unknown tool", IsError: true})
		return nil
	}

	approval, err := a.registry.ApprovalRequest(name, args)
	if err != nil {
		// malformed arguments; the model reads the parse failure and retries
		a.appendToolResult(call, err.Error())
		a.emit(Event{Kind: EventToolStarted, CallID: call.ID, Tool: name, Summary: summary})
		a.emit(Event{Kind: EventToolFinished, CallID: call.ID, Tool: name, Summary: summarizeForLog(err.Error()), IsError: true})
		return nil
	}
	if approval != nil {
		outcome, err := a.gate.Confirm(ctx, permission.Request{
			Kind:    approval.Kind,
			Tool:    name,
			CallID:  call.ID,
			Summary: approval.Summary,
			Detail:  approval.Detail,
		})
		if err != nil {
			if isContextCancellationErr(ctx, err) {
				return err
			}
			// a broken confirmation channel declines rather than killing
			// the turn; the model sees why and can move on
			logging.Warn("confirmation failed", "tool", name, "err", err)
			outcome = permission.Outcome{Feedback: "Confirmation unavailable: " + err.Error(), Asked: true}
		}
		if outcome.Asked {
			a.emit(Event{
				Kind:    EventConfirmationRequested,
				CallID:  call.ID,
				Tool:    name,
				Summary: approval.Summary,
				Detail:  approval.Detail,
			})
		}
		if !outcome.Approved {
			logging.Info("tool declined", "tool", name, "call_id", call.ID)
			a.appendToolResult(call, outcome.Feedback)
			return nil
		}
	}

	a.emit(Event{Kind: EventToolStarted, CallID: call.ID, Tool: name, Summary: summary})
	logging.Debug("tool start", "tool", name, "call_id", call.ID, "args", summarizeForLog(call.Function.Arguments))

	startedAt := time.Now()
	result, execErr := a.registry.Execute(ctx, name, args)
	if execErr != nil {
		// sandbox violations and execution failures become visible error
		// results; the loop continues either way
		logging.Warn("tool failed", "tool", name, "call_id", call.ID, "err", execErr)
		a.appendToolResult(call, execErr.Error())
		a.emit(Event{Kind: EventToolFinished, CallID: call.ID, Tool: name, Summary: summarizeForLog(execErr.Error()), IsError: true})
		return nil
	}
	logging.Debug("tool done", "tool", name, "call_id", call.ID, "duration", time.Since(startedAt))
	a.appendToolResult(call, result)
	a.emit(Event{Kind: EventToolFinished, CallID: call.ID, Tool: name, Summary: resultSummary(name, result)})
	return nil
}

func (a *Agent) appendToolResult(call chat.ToolCall, content string) {
	a.state.Append(chat.Message{
		Role:       chat.RoleTool,
		Name:       call.Function.Name,
		ToolCallID: call.ID,
		Content:    content,
	})
}

func (a *Agent) recordCancelledCalls(calls []chat.ToolCall) {
	for _, call := range calls {
		a.appendToolResult(call, cancelledResult)
	}
}

func (a *Agent) buildMessages() []chat.Message {
	var out []chat.Message
	if a.assembler != nil {
		out = append(out, a.assembler.Messages(a.state.Cwd())...)
	}
	out = append(out, a.state.Messages...)
	return out
}

// contextTokens counts the assembled context with the tokenizer; used at
// turn boundaries where a precise number is worth the encode cost.
func (a *Agent) contextTokens() int {
	return a.tokenizer.Count(a.buildMessages())
}

func (a *Agent) finishCancelled(started time.Time, finalText string, rounds int) TurnOutcome {
	a.emit(Event{Kind: EventCancelled})
	logging.Info("turn cancelled", "rounds", rounds)
	return a.finish(TurnOutcome{Status: StatusCancelled, FinalText: finalText}, started, rounds)
}

func (a *Agent) finish(outcome TurnOutcome, started time.Time, rounds int) TurnOutcome {
	outcome.Rounds = rounds
	outcome.Duration = time.Since(started)
	if outcome.Tokens == 0 {
		outcome.Tokens = a.contextTokens()
	}
	a.emit(Event{Kind: EventTurnComplete, Outcome: &outcome})
	logging.Info("turn finished",
		"status", outcome.Status, "rounds", rounds,
		"tokens", outcome.Tokens, "duration", outcome.Duration.Round(time.Millisecond))
	return outcome
}

func (a *Agent) emit(ev Event) {
	a.emitter.Emit(ev)
}

// validateToolCalls rejects calls the loop could never answer. The merger
// assigns fallback ids, so an empty id here is an internal defect rather
// than a model quirk.
func validateToolCalls(calls []chat.ToolCall) error {
	for i, call := range calls {
		if strings.TrimSpace(call.ID) == "" {
			return fmt.Errorf("tool call %d (%q) has no id", i, call.Function.Name)
		}
		if strings.TrimSpace(call.Function.Name) == "" {
			return fmt.Errorf("tool call %d (%s) has no name", i, call.ID)
		}
	}
	return nil
}

func isContextCancellationErr(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return ctx != nil && ctx.Err() != nil
}

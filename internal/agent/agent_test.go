package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"smith/internal/chat"
	"smith/internal/contextmgr"
	"smith/internal/permission"
	"smith/internal/provider"
	"smith/internal/security"
	"smith/internal/session"
	"smith/internal/tools"
)

// scriptedCall is one pre-programmed model response.
type scriptedCall struct {
	resp   provider.ChatResponse
	err    error
	stream func(cb *provider.StreamCallbacks)
}

type fakeProvider struct {
	script []scriptedCall
	reqs   []provider.ChatRequest
	model  string
}

func (f *fakeProvider) Chat(ctx context.Context, req provider.ChatRequest, cb *provider.StreamCallbacks) (provider.ChatResponse, error) {
	idx := len(f.reqs)
	f.reqs = append(f.reqs, req)
	if idx >= len(f.script) {
		return provider.ChatResponse{}, fmt.Errorf("unexpected request %d", idx)
	}
	step := f.script[idx]
	if step.stream != nil && cb != nil {
		step.stream(cb)
	}
	if step.err != nil {
		return provider.ChatResponse{}, step.err
	}
	if err := ctx.Err(); err != nil {
		return provider.ChatResponse{}, err
	}
	return step.resp, nil
}

func (f *fakeProvider) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	return nil, nil
}
func (f *fakeProvider) Name() string         { return "fake" }
func (f *fakeProvider) CurrentModel() string { return f.model }
func (f *fakeProvider) SetModel(m string)    { f.model = m }

func textResponse(text string) provider.ChatResponse {
	return provider.ChatResponse{
		Message:      chat.Message{Role: chat.RoleAssistant, Content: text},
		FinishReason: "stop",
	}
}

func toolResponse(calls ...chat.ToolCall) provider.ChatResponse {
	return provider.ChatResponse{
		Message:      chat.Message{Role: chat.RoleAssistant, ToolCalls: calls},
		FinishReason: "tool_calls",
	}
}

func call(id, name, args string) chat.ToolCall {
	return chat.ToolCall{ID: id, Type: "function", Function: chat.ToolCallFunction{Name: name, Arguments: args}}
}

type harness struct {
	agent *Agent
	prov  *fakeProvider
	state *session.State
	root  string
}

func newHarness(t *testing.T, script []scriptedCall, confirm permission.ConfirmFunc) *harness {
	t.Helper()
	root := t.TempDir()
	ws, err := security.NewWorkspace(root)
	if err != nil {
		t.Fatalf("NewWorkspace(%q): %v", root, err)
	}
	st := session.New("sess-test", "grok-code-fast-1", root)
	gate := permission.NewGate(confirm, st.AutoEdit)
	pf := security.NewPreflight(ws)
	reg := tools.NewRegistry(
		tools.NewViewTool(ws, st),
		tools.NewCreateTool(ws, st),
		tools.NewReplaceTool(ws, st),
		tools.NewBashTool(ws, pf, st, 5000, 1<<20),
		tools.NewSearchTool(ws, st),
	)
	prov := &fakeProvider{script: script, model: "grok-code-fast-1"}
	ag := New(Options{
		Provider:  prov,
		Registry:  reg,
		Gate:      gate,
		State:     st,
		Assembler: contextmgr.NewAssembler(root, nil),
		Emitter:   NewEmitter(1024),
		MaxRounds: 8,
	})
	return &harness{agent: ag, prov: prov, state: st, root: root}
}

// drainEvents collects everything buffered on the channel without blocking.
func (h *harness) drainEvents() []Event {
	var out []Event
	for {
		select {
		case ev := <-h.agent.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func approveOnce(asked *int) permission.ConfirmFunc {
	return func(ctx context.Context, req permission.Request) (permission.Response, error) {
		*asked++
		return permission.Response{Decision: permission.DecisionApprove}, nil
	}
}

func TestRunTurn_PlainReply(t *testing.T) {
	h := newHarness(t, []scriptedCall{{resp: textResponse("Hello!")}}, nil)

	outcome := h.agent.RunTurn(context.Background(), "hi")
	if outcome.Status != StatusCompleted {
		t.Fatalf("Status = %q, want %q (err=%v)", outcome.Status, StatusCompleted, outcome.Err)
	}
	if outcome.FinalText != "Hello!" {
		t.Fatalf("FinalText = %q, want %q", outcome.FinalText, "Hello!")
	}
	if outcome.Rounds != 1 {
		t.Fatalf("Rounds = %d, want 1", outcome.Rounds)
	}

	msgs := h.state.Messages
	if len(msgs) != 2 || msgs[0].Role != chat.RoleUser || msgs[1].Role != chat.RoleAssistant {
		t.Fatalf("history = %+v, want user+assistant", msgs)
	}
}

func TestRunTurn_SystemPreludeExcludedFromHistory(t *testing.T) {
	h := newHarness(t, []scriptedCall{{resp: textResponse("ok")}}, nil)

	h.agent.RunTurn(context.Background(), "hi")
	for _, m := range h.state.Messages {
		if m.Role == chat.RoleSystem {
			t.Fatalf("system prelude leaked into session history: %+v", m)
		}
	}
	// 请求以 system 前导开头、以用户消息结尾
	// the outgoing request starts with the prelude and ends with the user turn
	req := h.prov.reqs[0].Messages
	if len(req) < 2 || req[0].Role != chat.RoleSystem {
		t.Fatalf("request should open with the system prelude, got %+v", req)
	}
	last := req[len(req)-1]
	if last.Role != chat.RoleUser || last.Content != "hi" {
		t.Fatalf("last request message = %+v, want the user turn", last)
	}
}

func TestRunTurn_CreateFileRoundTrip(t *testing.T) {
	args := `{"path":"notes.txt","content":"hi"}`
	h := newHarness(t, []scriptedCall{
		{resp: toolResponse(call("call_1", "create_file", args))},
		{resp: textResponse("Done.")},
	}, nil)
	asked := 0
	h.agent.gate = permission.NewGate(approveOnce(&asked), h.state.AutoEdit)

	outcome := h.agent.RunTurn(context.Background(), "create notes.txt containing hi")
	if outcome.Status != StatusCompleted {
		t.Fatalf("Status = %q, want completed (err=%v)", outcome.Status, outcome.Err)
	}
	if outcome.FinalText != "Done." {
		t.Fatalf("FinalText = %q, want %q", outcome.FinalText, "Done.")
	}
	if asked != 1 {
		t.Fatalf("confirmations asked = %d, want 1", asked)
	}

	data, err := os.ReadFile(filepath.Join(h.root, "notes.txt"))
	if err != nil {
		t.Fatalf("notes.txt not created: %v", err)
	}
	if string(data) != "hi" {
		t.Fatalf("notes.txt content = %q, want %q", data, "hi")
	}

	// 历史顺序：user → assistant(tool_calls) → tool → assistant
	// history order: user, assistant with calls, tool result, final assistant
	msgs := h.state.Messages
	if len(msgs) != 4 {
		t.Fatalf("history length = %d, want 4", len(msgs))
	}
	if msgs[2].Role != chat.RoleTool || msgs[2].ToolCallID != "call_1" {
		t.Fatalf("tool result = %+v, want role=tool id=call_1", msgs[2])
	}
	if !strings.HasPrefix(msgs[2].Content, "Created notes.txt") {
		t.Fatalf("tool result content = %q, want Created notes.txt headline", msgs[2].Content)
	}

	// 第二次请求必须带上 tool 结果 / the second request must include the result
	second := h.prov.reqs[1].Messages
	foundResult := false
	for _, m := range second {
		if m.Role == chat.RoleTool && m.ToolCallID == "call_1" {
			foundResult = true
		}
	}
	if !foundResult {
		t.Fatal("second request did not carry the tool result")
	}
}

func TestRunTurn_EventOrdering(t *testing.T) {
	args := `{"path":"notes.txt","content":"hi"}`
	h := newHarness(t, []scriptedCall{
		{resp: toolResponse(call("call_1", "create_file", args))},
		{resp: textResponse("Done.")},
	}, nil)
	asked := 0
	h.agent.gate = permission.NewGate(approveOnce(&asked), h.state.AutoEdit)

	h.agent.RunTurn(context.Background(), "create notes.txt")
	events := h.drainEvents()

	idx := map[EventKind]int{}
	confirmations := 0
	for i, ev := range events {
		if ev.Kind == EventConfirmationRequested {
			confirmations++
		}
		if _, seen := idx[ev.Kind]; !seen {
			idx[ev.Kind] = i
		}
	}
	if confirmations != 1 {
		t.Fatalf("confirmation events = %d, want 1", confirmations)
	}
	if idx[EventConfirmationRequested] > idx[EventToolStarted] {
		t.Fatal("confirmation-requested must precede tool-started")
	}
	if idx[EventToolStarted] > idx[EventToolFinished] {
		t.Fatal("tool-started must precede tool-finished")
	}
	last := events[len(events)-1]
	if last.Kind != EventTurnComplete {
		t.Fatalf("last event = %q, want turn-complete", last.Kind)
	}
	if last.Outcome == nil || last.Outcome.Status != StatusCompleted {
		t.Fatalf("turn-complete outcome = %+v, want completed", last.Outcome)
	}
}

func TestRunTurn_RejectionFeedsBack(t *testing.T) {
	args := `{"path":"notes.txt","content":"hi"}`
	reject := func(ctx context.Context, req permission.Request) (permission.Response, error) {
		return permission.Response{Decision: permission.DecisionReject, Feedback: "use a different name"}, nil
	}
	h := newHarness(t, []scriptedCall{
		{resp: toolResponse(call("call_1", "create_file", args))},
		{resp: textResponse("Understood.")},
	}, reject)

	outcome := h.agent.RunTurn(context.Background(), "create notes.txt")
	if outcome.Status != StatusCompleted {
		t.Fatalf("Status = %q, want completed (err=%v)", outcome.Status, outcome.Err)
	}

	if _, err := os.Stat(filepath.Join(h.root, "notes.txt")); !os.IsNotExist(err) {
		t.Fatal("rejected create_file must not touch the filesystem")
	}

	msgs := h.state.Messages
	if msgs[2].Role != chat.RoleTool || msgs[2].Content != "use a different name" {
		t.Fatalf("declined result = %+v, want feedback text", msgs[2])
	}
}

func TestRunTurn_SandboxViolationIsVisibleResult(t *testing.T) {
	h := newHarness(t, []scriptedCall{
		{resp: toolResponse(call("call_1", "bash", `{"command":"cat ../../etc/passwd"}`))},
		{resp: textResponse("That path is off limits.")},
	}, nil)
	h.state.SetAutoEdit(true) // bypass the gate; the sandbox must still reject

	outcome := h.agent.RunTurn(context.Background(), "show me /etc/passwd")
	if outcome.Status != StatusCompleted {
		t.Fatalf("Status = %q, want completed (err=%v)", outcome.Status, outcome.Err)
	}

	msgs := h.state.Messages
	if msgs[2].Role != chat.RoleTool {
		t.Fatalf("expected tool result, got %+v", msgs[2])
	}
	if !strings.Contains(msgs[2].Content, "Blocked by shell sandbox policy") {
		t.Fatalf("result = %q, want sandbox rejection", msgs[2].Content)
	}
}

func TestRunTurn_MaxRounds(t *testing.T) {
	loop := scriptedCall{resp: toolResponse(call("call_1", "view_file", `{"path":"."}`))}
	h := newHarness(t, []scriptedCall{loop, loop, loop}, nil)
	h.agent.maxRounds = 2

	outcome := h.agent.RunTurn(context.Background(), "loop forever")
	if outcome.Status != StatusMaxRounds {
		t.Fatalf("Status = %q, want %q", outcome.Status, StatusMaxRounds)
	}
	if outcome.Rounds != 2 {
		t.Fatalf("Rounds = %d, want 2", outcome.Rounds)
	}
	if outcome.FinalText != maxRoundsNote {
		t.Fatalf("FinalText = %q, want the round cap note", outcome.FinalText)
	}

	last := h.state.Messages[len(h.state.Messages)-1]
	if last.Role != chat.RoleAssistant || last.Content != maxRoundsNote {
		t.Fatalf("last history message = %+v, want the round cap note", last)
	}
}

func TestRunTurn_CancelMidStreamKeepsPartialText(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t, []scriptedCall{{
		stream: func(cb *provider.StreamCallbacks) {
			cb.OnTextChunk("Working on")
			cancel()
		},
	}}, nil)

	outcome := h.agent.RunTurn(ctx, "do something slow")
	if outcome.Status != StatusCancelled {
		t.Fatalf("Status = %q, want cancelled", outcome.Status)
	}
	if outcome.FinalText != "Working on" {
		t.Fatalf("FinalText = %q, want the partial text", outcome.FinalText)
	}

	last := h.state.Messages[len(h.state.Messages)-1]
	if last.Role != chat.RoleAssistant || last.Content != "Working on" {
		t.Fatalf("partial text not preserved, last = %+v", last)
	}
}

func TestRunTurn_CancelBetweenDispatchesAnswersEveryCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	approveAndCancel := func(_ context.Context, req permission.Request) (permission.Response, error) {
		cancel() // user hits Ctrl+C right after approving the first call
		return permission.Response{Decision: permission.DecisionApprove}, nil
	}
	h := newHarness(t, []scriptedCall{
		{resp: toolResponse(
			call("call_1", "create_file", `{"path":"a.txt","content":"a"}`),
			call("call_2", "create_file", `{"path":"b.txt","content":"b"}`),
		)},
	}, approveAndCancel)

	outcome := h.agent.RunTurn(ctx, "create two files")
	if outcome.Status != StatusCancelled {
		t.Fatalf("Status = %q, want cancelled", outcome.Status)
	}

	// 第一个调用完成并记录，第二个合成取消结果，绝不留孤儿
	// first call finishes and records, second gets a synthesized result
	if _, err := os.Stat(filepath.Join(h.root, "a.txt")); err != nil {
		t.Fatalf("first approved call should have executed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(h.root, "b.txt")); !os.IsNotExist(err) {
		t.Fatal("second call must not execute after cancellation")
	}

	results := map[string]string{}
	for _, m := range h.state.Messages {
		if m.Role == chat.RoleTool {
			results[m.ToolCallID] = m.Content
		}
	}
	if len(results) != 2 {
		t.Fatalf("tool results = %d, want one per call", len(results))
	}
	if !strings.HasPrefix(results["call_1"], "Created a.txt") {
		t.Fatalf("call_1 result = %q, want created", results["call_1"])
	}
	if results["call_2"] != cancelledResult {
		t.Fatalf("call_2 result = %q, want %q", results["call_2"], cancelledResult)
	}
}

func TestRunTurn_EmptyToolCallIDAborts(t *testing.T) {
	h := newHarness(t, []scriptedCall{
		{resp: toolResponse(call("", "view_file", `{"path":"."}`))},
	}, nil)

	outcome := h.agent.RunTurn(context.Background(), "hi")
	if outcome.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", outcome.Status)
	}
	if outcome.Err == nil || !strings.Contains(outcome.Err.Error(), "no id") {
		t.Fatalf("Err = %v, want missing-id defect", outcome.Err)
	}

	// 坏的 assistant 消息不得进入历史 / the bad assistant message must not
	// enter history, otherwise the next request would carry an orphan call
	last := h.state.Messages[len(h.state.Messages)-1]
	if last.Role != chat.RoleUser {
		t.Fatalf("last history message = %+v, want the user turn only", last)
	}
}

func TestRunTurn_ProviderFailureKeepsHistory(t *testing.T) {
	netErr := &provider.NetworkError{Op: "stream", Err: errors.New("connection reset")}
	h := newHarness(t, []scriptedCall{{err: netErr}}, nil)

	outcome := h.agent.RunTurn(context.Background(), "hi")
	if outcome.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", outcome.Status)
	}
	if outcome.Err == nil {
		t.Fatal("failed outcome must carry the error")
	}

	// 用户消息保留，可直接重发 / the user message survives so the turn can
	// be reissued as-is
	if len(h.state.Messages) != 1 || h.state.Messages[0].Role != chat.RoleUser {
		t.Fatalf("history = %+v, want just the user turn", h.state.Messages)
	}

	events := h.drainEvents()
	sawError := false
	for _, ev := range events {
		if ev.Kind == EventError {
			sawError = true
		}
	}
	if !sawError {
		t.Fatal("expected an error event")
	}
}

func TestRunTurn_UnknownToolContinues(t *testing.T) {
	h := newHarness(t, []scriptedCall{
		{resp: toolResponse(call("call_1", "launch_missiles", `{}`))},
		{resp: textResponse("Sorry, no such tool.")},
	}, nil)

	outcome := h.agent.RunTurn(context.Background(), "do it")
	if outcome.Status != StatusCompleted {
		t.Fatalf("Status = %q, want completed (err=%v)", outcome.Status, outcome.Err)
	}
	if got := h.state.Messages[2].Content; !strings.Contains(got, "Unknown tool") {
		t.Fatalf("result = %q, want unknown-tool notice", got)
	}
}

func TestRunTurnWithImages_AttachesParts(t *testing.T) {
	h := newHarness(t, []scriptedCall{{resp: textResponse("nice screenshot")}}, nil)

	img := chat.ImageContent{Type: "image_url", ImageURL: chat.ImageURL{URL: "data:image/png;base64,aGk="}}
	outcome := h.agent.RunTurnWithImages(context.Background(), "what is this?", []chat.ImageContent{img})
	if outcome.Status != StatusCompleted {
		t.Fatalf("Status = %q, want completed", outcome.Status)
	}

	user := h.state.Messages[0]
	if !user.HasImages() {
		t.Fatalf("user message should carry the image, got %+v", user)
	}
	if user.PlainText() != "what is this?\n[image]" {
		t.Fatalf("PlainText() = %q", user.PlainText())
	}
}

func TestEmitter_NonBlocking(t *testing.T) {
	e := NewEmitter(1)
	e.Emit(Event{Kind: EventDeltaReceived, Chunk: "a"})
	// 满了也不能阻塞 / must not block when full
	e.Emit(Event{Kind: EventDeltaReceived, Chunk: "b"})

	ev := <-e.Events()
	if ev.Chunk != "a" {
		t.Fatalf("Chunk = %q, want the first event", ev.Chunk)
	}
	select {
	case ev := <-e.Events():
		t.Fatalf("unexpected buffered event %+v", ev)
	default:
	}

	e.Close()
	e.Close() // idempotent
	e.Emit(Event{Kind: EventDeltaReceived, Chunk: "c"}) // dropped, no panic
}

func TestDispatchSummary(t *testing.T) {
	tests := []struct {
		name string
		args string
		want string
	}{
		{"bash", `{"command":"ls -la"}`, `Bash "ls -la"`},
		{"view_file", `{"path":"main.go"}`, `Read "main.go"`},
		{"view_file", `{"path":"main.go","start_line":3,"end_line":9}`, `Read "main.go" [3-9]`},
		{"create_file", `{"path":"a.txt","content":"hi"}`, `Create "a.txt" (2 bytes)`},
		{"str_replace_editor", `{"path":"a.txt"}`, `Update "a.txt"`},
		{"search", `{"query":"TODO"}`, `Search "TODO"`},
		{"create_todo_list", `{}`, "TodoCreate"},
	}
	for _, tt := range tests {
		if got := dispatchSummary(tt.name, tt.args); got != tt.want {
			t.Errorf("dispatchSummary(%q, %q) = %q, want %q", tt.name, tt.args, got, tt.want)
		}
	}
}

func TestResultSummary(t *testing.T) {
	long := strings.Repeat("x", 300)
	if got := resultSummary("bash", long+"\nsecond line"); strings.Contains(got, "second") {
		t.Fatalf("bash summary should collapse to the first line, got %q", got)
	}
	if got := resultSummary("view_file", "Contents of a.txt:\n1: hi\n2: there"); got != "Contents of a.txt: (2 lines)" {
		t.Fatalf("view summary = %q", got)
	}
	diffy := "Created a.txt\n--- /dev/null\n+++ b/a.txt\n@@ -0,0 +1 @@\n+hi"
	if got := resultSummary("create_file", diffy); got != diffy {
		t.Fatalf("create summary should keep the diff, got %q", got)
	}
}

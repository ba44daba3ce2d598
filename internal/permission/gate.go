package permission

import (
	"context"
	"sync"
)

// Kind classifies a side-effecting tool call for confirmation purposes.
type Kind string

const (
	KindFileMutation   Kind = "file-mutation"
	KindShellExecution Kind = "shell-execution"
)

// Label 返回确认提示里展示的操作类别名称
// Label returns the operation category name shown in confirmation prompts.
func (k Kind) Label() string {
	switch k {
	case KindFileMutation:
		return "file operations"
	case KindShellExecution:
		return "bash commands"
	default:
		return string(k)
	}
}

type Decision string

const (
	DecisionApprove       Decision = "approve"
	DecisionApproveAlways Decision = "approve-always"
	DecisionReject        Decision = "reject"
)

const declinedFallback = "Operation cancelled by user"

// Request describes one pending side effect awaiting a user decision.
type Request struct {
	Kind    Kind
	Tool    string
	CallID  string
	Summary string // one line, e.g. "create_file notes.txt"
	Detail  string // diff preview or the command with a danger note
}

// Response is the user's decision, with optional feedback on rejection that
// is relayed to the model verbatim.
type Response struct {
	Decision Decision
	Feedback string
}

// ConfirmFunc asks the user about one request. It blocks until a decision
// arrives or ctx is cancelled.
type ConfirmFunc func(ctx context.Context, req Request) (Response, error)

// Outcome is what the agent loop acts on. A rejection is not an error: the
// feedback becomes a normal tool result the model can read and adapt to.
type Outcome struct {
	Approved bool
	Feedback string
	Asked    bool
}

// Gate decides whether a side-effecting tool call proceeds. Approvals
// remembered with approve-always are scoped per kind and live only as long
// as the gate; nothing is persisted.
type Gate struct {
	mu       sync.Mutex
	confirm  ConfirmFunc
	autoEdit func() bool
	allowed  map[Kind]bool
}

func NewGate(confirm ConfirmFunc, autoEdit func() bool) *Gate {
	return &Gate{
		confirm:  confirm,
		autoEdit: autoEdit,
		allowed:  map[Kind]bool{},
	}
}

// Confirm resolves one request: auto-edit bypasses asking unconditionally,
// a remembered kind skips the ask step, otherwise the user is consulted.
func (g *Gate) Confirm(ctx context.Context, req Request) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	if g.autoEdit != nil && g.autoEdit() {
		return Outcome{Approved: true}, nil
	}

	g.mu.Lock()
	remembered := g.allowed[req.Kind]
	g.mu.Unlock()
	if remembered {
		return Outcome{Approved: true}, nil
	}

	if g.confirm == nil {
		// 无交互通道（如 -p 单次模式）时按拒绝处理
		// no interactive channel (e.g. one-shot -p mode): treat as rejected
		return Outcome{Feedback: declinedFallback, Asked: true}, nil
	}

	resp, err := g.confirm(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	switch resp.Decision {
	case DecisionApprove:
		return Outcome{Approved: true, Asked: true}, nil
	case DecisionApproveAlways:
		g.mu.Lock()
		g.allowed[req.Kind] = true
		g.mu.Unlock()
		return Outcome{Approved: true, Asked: true}, nil
	default:
		feedback := resp.Feedback
		if feedback == "" {
			feedback = declinedFallback
		}
		return Outcome{Feedback: feedback, Asked: true}, nil
	}
}

// AllowAll marks both kinds remembered-approved. The auto-edit toggle pairs
// it with Reset on disable; approvals from before the toggle do not survive
// the cycle.
func (g *Gate) AllowAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allowed[KindFileMutation] = true
	g.allowed[KindShellExecution] = true
}

// Reset clears remembered approvals.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allowed = map[Kind]bool{}
}

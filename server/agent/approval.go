package agent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/shopmind/shopmind/store"
)

// ApprovalAction resolves a pending tool call.
type ApprovalAction string

const (
	ApprovalAllow ApprovalAction = "allow"
	ApprovalDeny  ApprovalAction = "deny"
)

// ErrApprovalNotFound is returned when resolving a tool call nobody is waiting on.
var ErrApprovalNotFound = errors.New("no pending approval for tool call")

// ParseApprovalAction accepts allow or deny.
func ParseApprovalAction(raw string) (ApprovalAction, error) {
	switch a := ApprovalAction(raw); a {
	case ApprovalAllow, ApprovalDeny:
		return a, nil
	default:
		return "", errors.Errorf("invalid approval action %q: use allow or deny", raw)
	}
}

// PendingApproval is a tool call held until the user allows or denies it.
type PendingApproval struct {
	ThreadID  string         `json:"threadId"`
	ToolCall  store.ToolCall `json:"toolCall"`
	CreatedTs int64          `json:"createdTs"`

	decision chan ApprovalAction
}

// ApprovalGate holds tool calls awaiting a decision. Unanswered calls are denied
// after the timeout.
type ApprovalGate struct {
	mu      sync.Mutex
	pending map[string]*PendingApproval
	timeout time.Duration
}

// NewApprovalGate returns a gate that auto-denies after timeout.
func NewApprovalGate(timeout time.Duration) *ApprovalGate {
	return &ApprovalGate{
		pending: map[string]*PendingApproval{},
		timeout: timeout,
	}
}

// Request registers call, invokes notify, and blocks until the call is resolved,
// the timeout elapses (deny) or ctx is done (error).
func (g *ApprovalGate) Request(ctx context.Context, threadID string, call store.ToolCall, notify func()) (ApprovalAction, error) {
	p := &PendingApproval{
		ThreadID:  threadID,
		ToolCall:  call,
		CreatedTs: time.Now().Unix(),
		decision:  make(chan ApprovalAction, 1),
	}
	g.mu.Lock()
	g.pending[call.ID] = p
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.pending, call.ID)
		g.mu.Unlock()
	}()

	if notify != nil {
		notify()
	}

	var timeout <-chan time.Time
	if g.timeout > 0 {
		timer := time.NewTimer(g.timeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case action := <-p.decision:
		return action, nil
	case <-timeout:
		return ApprovalDeny, nil
	case <-ctx.Done():
		return ApprovalDeny, ctx.Err()
	}
}

// Resolve delivers the decision for a pending tool call.
func (g *ApprovalGate) Resolve(toolCallID string, action ApprovalAction) error {
	g.mu.Lock()
	p, ok := g.pending[toolCallID]
	if ok {
		delete(g.pending, toolCallID)
	}
	g.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrApprovalNotFound, "tool call %s", toolCallID)
	}
	p.decision <- action
	return nil
}

// Pending lists the calls awaiting a decision on a thread, oldest first.
func (g *ApprovalGate) Pending(threadID string) []PendingApproval {
	g.mu.Lock()
	defer g.mu.Unlock()
	list := []PendingApproval{}
	for _, p := range g.pending {
		if p.ThreadID == threadID {
			list = append(list, PendingApproval{ThreadID: p.ThreadID, ToolCall: p.ToolCall, CreatedTs: p.CreatedTs})
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedTs != list[j].CreatedTs {
			return list[i].CreatedTs < list[j].CreatedTs
		}
		return list[i].ToolCall.ID < list[j].ToolCall.ID
	})
	return list
}

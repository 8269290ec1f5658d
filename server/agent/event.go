package agent

import (
	"github.com/shopmind/shopmind/store"
)

// EventType names a turn event streamed to the caller.
type EventType string

const (
	EventMessage          EventType = "message"
	EventToken            EventType = "token"
	EventApprovalRequired EventType = "approval_required"
	EventLimitReached     EventType = "limit_reached"
	EventDone             EventType = "done"
	EventError            EventType = "error"
)

// Event is one step of a running turn.
type Event struct {
	Type     EventType       `json:"type"`
	ThreadID string          `json:"threadId"`
	Message  *store.Message  `json:"message,omitempty"`
	ToolCall *store.ToolCall `json:"toolCall,omitempty"`
	Content  string          `json:"content,omitempty"`
}

// EventSink receives turn events. It is called from the goroutine running the turn.
type EventSink func(Event)

func (s EventSink) emit(e Event) {
	if s != nil {
		s(e)
	}
}

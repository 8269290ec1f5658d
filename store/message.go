package store

import (
	"encoding/json"
)

// MessageType is the kind of a conversation turn.
type MessageType string

const (
	MessageTypeHuman MessageType = "human"
	MessageTypeAI    MessageType = "ai"
	MessageTypeTool  MessageType = "tool"
	MessageTypeError MessageType = "error"
)

// ToolCall is a model request to invoke a named tool.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ArgsJSON returns the call arguments as a JSON object string.
func (c ToolCall) ArgsJSON() string {
	if c.Args == nil {
		return "{}"
	}
	b, err := json.Marshal(c.Args)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// MessageFlags are the user-applied social annotations of a message.
type MessageFlags struct {
	IsLiked      bool `json:"is_liked"`
	IsDisliked   bool `json:"is_disliked"`
	IsFavorited  bool `json:"is_favorited"`
	IsBookmarked bool `json:"is_bookmarked"`
	IsFlagged    bool `json:"is_flagged"`
	IsArchived   bool `json:"is_archived"`
}

// Message is one turn of a thread as stored in a checkpoint.
//
// Index is the position of the message inside its thread. It is the join key for
// message metadata and is never reassigned once persisted.
type Message struct {
	ID         string      `json:"id"`
	Type       MessageType `json:"type"`
	Content    string      `json:"content"`
	Index      int         `json:"index"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
	Name       string      `json:"name,omitempty"`
	Model      string      `json:"model,omitempty"`
	CreatedTs  int64       `json:"created_ts,omitempty"`
	MessageFlags
}

// HasToolCalls reports whether m is an ai message requesting tools.
func (m *Message) HasToolCalls() bool {
	return m.Type == MessageTypeAI && len(m.ToolCalls) > 0
}

package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is a persisted conversation message.
type Message struct {
	// Identity
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	TenantID string `json:"tenant_id"`

	// Content
	Role    Role   `json:"role"`
	Content string `json:"content"`

	CreatedAt time.Time `json:"created_at"`

	// Log sequence, assigned on append.
	Sequence uint64 `json:"sequence,omitempty"`
}

// Turn converts a stored message into a history entry.
func (m Message) Turn() ConversationTurn {
	return ConversationTurn{Role: m.Role, Content: m.Content, Timestamp: m.CreatedAt}
}

// SendMessageRequest is the request to run a turn on a thread.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages     []Message `json:"messages"`
	HasMore      bool      `json:"has_more"`
	LastSequence uint64    `json:"last_sequence"`
}

// TitleRequest asks for a short thread title.
type TitleRequest struct {
	Content  string `json:"content"`
	ThreadID string `json:"thread_id,omitempty"`
}

// TitleResponse carries a generated title.
type TitleResponse struct {
	Title    string `json:"title"`
	ThreadID string `json:"thread_id,omitempty"`
}

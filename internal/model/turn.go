package model

import (
	"encoding/json"
	"time"
)

// ToolSpec describes a tool to the model. It is built once at startup and never mutated.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a request from the model to invoke a tool.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResult is the structured outcome of one tool call.
type ToolResult struct {
	ID         string          `json:"id,omitempty"`
	Name       string          `json:"name"`
	Success    bool            `json:"success"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Cached     bool            `json:"cached"`
	Attempts   int             `json:"attempts"`
	DurationMs int64           `json:"execution_time_ms"`
	Artifacts  []Artifact      `json:"artifacts,omitempty"`
}

// Content renders the result for feeding back into a model conversation.
func (r ToolResult) Content() string {
	if !r.Success {
		return "error: " + r.Error
	}
	if len(r.Result) == 0 {
		return "ok"
	}
	return string(r.Result)
}

// ConversationTurn is the in-memory form of conversation history handed to the LLM client.
type ConversationTurn struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// UserTurn builds a user history entry.
func UserTurn(content string) ConversationTurn {
	return ConversationTurn{Role: RoleUser, Content: content, Timestamp: time.Now()}
}

// AssistantTurn builds an assistant history entry.
func AssistantTurn(content string, calls []ToolCall) ConversationTurn {
	return ConversationTurn{Role: RoleAssistant, Content: content, ToolCalls: calls, Timestamp: time.Now()}
}

// ToolTurn carries the results answering the preceding assistant tool calls.
func ToolTurn(results []ToolResult) ConversationTurn {
	return ConversationTurn{Role: RoleTool, ToolResults: results, Timestamp: time.Now()}
}

package model

import (
	"encoding/json"
	"time"
)

// EventType discriminates the agent events emitted during a turn.
type EventType string

const (
	EventTypeText       EventType = "text"
	EventTypeToolCall   EventType = "tool_call"
	EventTypeToolResult EventType = "tool_result"
	EventTypeError      EventType = "error"
	EventTypePhase      EventType = "phase"
	EventTypeDeliver    EventType = "deliver"
)

// Phase is a stage of the phased agentic workflow.
type Phase string

const (
	PhasePlan    Phase = "plan"
	PhaseAnalyze Phase = "analyze"
	PhaseExecute Phase = "execute"
	PhaseDeliver Phase = "deliver"
)

// Phases lists the phased workflow stages in execution order.
var Phases = []Phase{PhasePlan, PhaseAnalyze, PhaseExecute, PhaseDeliver}

// PhaseStatus marks the boundaries of a phase.
type PhaseStatus string

const (
	PhaseStart PhaseStatus = "start"
	PhaseEnd   PhaseStatus = "end"
)

// Artifact is a file produced during agentic execution.
type Artifact struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// Event is one observable increment of agent activity. Only the fields that
// belong to Type are meaningful; MarshalJSON omits the rest.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"ts"`

	// text, error
	Content string `json:"content,omitempty"`

	// tool_call, tool_result
	ID      string          `json:"id,omitempty"`
	Name    string          `json:"name,omitempty"`
	Args    map[string]any  `json:"args,omitempty"`
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Cached  bool            `json:"cached,omitempty"`

	// phase
	Phase  Phase       `json:"phase,omitempty"`
	Status PhaseStatus `json:"status,omitempty"`

	// deliver
	Artifacts []Artifact `json:"artifacts,omitempty"`
	Summary   string     `json:"summary,omitempty"`
}

// NewText creates a text event.
func NewText(content string) Event {
	return Event{Type: EventTypeText, Content: content, Timestamp: time.Now()}
}

// NewError creates an error event.
func NewError(content string) Event {
	return Event{Type: EventTypeError, Content: content, Timestamp: time.Now()}
}

// NewToolCall creates a tool call event.
func NewToolCall(call ToolCall) Event {
	return Event{Type: EventTypeToolCall, ID: call.ID, Name: call.Name, Args: call.Args, Timestamp: time.Now()}
}

// NewToolResult creates a tool result event.
func NewToolResult(res ToolResult) Event {
	return Event{
		Type:      EventTypeToolResult,
		ID:        res.ID,
		Name:      res.Name,
		Success:   res.Success,
		Result:    res.Result,
		Error:     res.Error,
		Cached:    res.Cached,
		Timestamp: time.Now(),
	}
}

// NewPhase creates a phase boundary event.
func NewPhase(phase Phase, status PhaseStatus) Event {
	return Event{Type: EventTypePhase, Phase: phase, Status: status, Timestamp: time.Now()}
}

// NewDeliver creates a delivery event.
func NewDeliver(artifacts []Artifact, summary string) Event {
	return Event{Type: EventTypeDeliver, Artifacts: artifacts, Summary: summary, Timestamp: time.Now()}
}

// IsTerminal reports whether the event can close a turn.
func (e Event) IsTerminal() bool {
	return e.Type == EventTypeText || e.Type == EventTypeDeliver || e.Type == EventTypeError
}

// MarshalJSON writes the wire shape for the event's type.
func (e Event) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"type": e.Type,
		"ts":   e.Timestamp,
	}

	switch e.Type {
	case EventTypeText, EventTypeError:
		out["content"] = e.Content
	case EventTypeToolCall:
		out["id"] = e.ID
		out["name"] = e.Name
		args := e.Args
		if args == nil {
			args = map[string]any{}
		}
		out["args"] = args
	case EventTypeToolResult:
		out["id"] = e.ID
		out["name"] = e.Name
		out["success"] = e.Success
		out["cached"] = e.Cached
		if len(e.Result) > 0 {
			out["result"] = e.Result
		}
		if e.Error != "" {
			out["error"] = e.Error
		}
	case EventTypePhase:
		out["phase"] = e.Phase
		out["status"] = e.Status
	case EventTypeDeliver:
		artifacts := e.Artifacts
		if artifacts == nil {
			artifacts = []Artifact{}
		}
		out["artifacts"] = artifacts
		out["summary"] = e.Summary
	}

	return json.Marshal(out)
}

package model

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of an async job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next keeps the lifecycle monotonic.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobRunning || next == JobCancelled
	case JobRunning:
		return next == JobCompleted || next == JobFailed || next == JobCancelled
	}
	return false
}

// JobType selects the worker handler.
type JobType string

const (
	JobTypeTool JobType = "tool"
	JobTypeTurn JobType = "turn"
)

// Job priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Job is an asynchronously executed tool call or turn.
type Job struct {
	ID         string            `json:"id"`
	Type       JobType           `json:"type"`
	Parameters map[string]any    `json:"parameters"`
	Priority   string            `json:"priority"`
	Status     JobStatus         `json:"status"`
	Result     json.RawMessage   `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// JobEventType classifies entries on a job's event timeline.
type JobEventType string

const (
	JobEventCreated JobEventType = "created"
	JobEventStatus  JobEventType = "status_update"
	JobEventAgent   JobEventType = "agent_event"
)

// JobEvent is one entry on a job's timeline.
type JobEvent struct {
	JobID     string       `json:"job_id"`
	Type      JobEventType `json:"type"`
	Status    JobStatus    `json:"status,omitempty"`
	Message   string       `json:"message,omitempty"`
	Error     string       `json:"error,omitempty"`
	Event     *Event       `json:"event,omitempty"`
	Sequence  uint64       `json:"sequence,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// IsTerminal reports whether the event closes the job's timeline.
func (e JobEvent) IsTerminal() bool {
	return e.Type == JobEventStatus && e.Status.IsTerminal()
}

// CreateJobRequest is the request to submit a job.
type CreateJobRequest struct {
	Type       JobType           `json:"type"`
	Parameters map[string]any    `json:"parameters"`
	Priority   string            `json:"priority,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// CreateJobResponse returns the new job id.
type CreateJobResponse struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
}

// Package model defines the data structures shared across the agent platform.
package model

import (
	"time"
)

// Thread is a conversation owned by one user within a tenant.
type Thread struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Deleted   bool      `json:"deleted,omitempty"`
}

// CreateThreadRequest is the request to create a new thread.
type CreateThreadRequest struct {
	Title string `json:"title"`
}

// UpdateThreadRequest is the request to rename a thread.
type UpdateThreadRequest struct {
	Title string `json:"title"`
}

// ListThreadsResponse is the response for listing threads.
type ListThreadsResponse struct {
	Threads []Thread `json:"threads"`
	Total   int      `json:"total"`
	HasMore bool     `json:"has_more"`
}

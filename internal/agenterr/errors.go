// Package agenterr defines the error taxonomy shared by tools, the executor,
// the LLM client and the orchestrator.
package agenterr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinels for errors.Is checks.
var (
	ErrValidation  = errors.New("validation failed")
	ErrTimeout     = errors.New("timed out")
	ErrProvider    = errors.New("provider error")
	ErrExecution   = errors.New("execution failed")
	ErrTurnTimeout = errors.New("execution timeout")
	ErrPolicy      = errors.New("blocked by policy")
	ErrNotFound    = errors.New("not found")
)

// ValidationError reports malformed or missing tool arguments. Never retried.
type ValidationError struct {
	Tool   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Tool == "" {
		return "invalid arguments: " + e.Reason
	}
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid is a shorthand for building a ValidationError.
func Invalid(tool, format string, args ...any) error {
	return &ValidationError{Tool: tool, Reason: fmt.Sprintf(format, args...)}
}

// TimeoutError reports a tool or LLM call that exceeded its budget.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// ProviderError wraps a failure returned by the LLM backend.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s API error: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() []error { return []error{ErrProvider, e.Err} }

// ExecutionError reports that a tool's underlying operation failed.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() []error { return []error{ErrExecution, e.Err} }

// Failed is a shorthand for building an ExecutionError from a message.
func Failed(tool, format string, args ...any) error {
	return &ExecutionError{Tool: tool, Err: fmt.Errorf(format, args...)}
}

// TurnTimeoutError reports that the per-turn wall-clock budget elapsed.
type TurnTimeoutError struct {
	Elapsed time.Duration
	Budget  time.Duration
}

func (e *TurnTimeoutError) Error() string {
	return fmt.Sprintf("execution timeout: turn exceeded %s", e.Budget)
}

func (e *TurnTimeoutError) Unwrap() error { return ErrTurnTimeout }

// PolicyError reports a tool call denied by the tool policy.
type PolicyError struct {
	Tool   string
	Reason string
}

func (e *PolicyError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s blocked by policy", e.Tool)
	}
	return fmt.Sprintf("%s blocked by policy: %s", e.Tool, e.Reason)
}

func (e *PolicyError) Unwrap() error { return ErrPolicy }

// Retryable reports whether an attempt that failed with err may be repeated.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrValidation), errors.Is(err, ErrPolicy), errors.Is(err, ErrNotFound):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
}

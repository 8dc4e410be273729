package executor

import (
	"context"
	"math"
	"time"

	"github.com/capitalize-ai/agent-platform/internal/tools"
)

// Policy configures timeout and retry behavior for one tool.
type Policy struct {
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// MaxRetries is the number of attempts after the first. Zero marks the
	// tool as non-idempotent: it is never retried or cached.
	MaxRetries int
	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration
	// Multiplier scales the delay after each retry.
	Multiplier float64
	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// DefaultPolicy applies to tools without an explicit entry.
var DefaultPolicy = Policy{
	Timeout:    15 * time.Second,
	MaxRetries: 0,
	BaseDelay:  500 * time.Millisecond,
	Multiplier: 2,
	MaxDelay:   5 * time.Second,
}

// AllowsRetries reports whether calls to the named tool may ever be retried.
// Shell commands have arbitrary side effects and run at most once.
func AllowsRetries(name string) bool {
	return name != tools.ShellName
}

// DefaultPolicies returns the per-tool policies of the standard catalog.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		tools.WebSearchName: {Timeout: 10 * time.Second, MaxRetries: 2, BaseDelay: 500 * time.Millisecond, Multiplier: 2, MaxDelay: 4 * time.Second},
		tools.WebScrapeName: {Timeout: 20 * time.Second, MaxRetries: 1, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 4 * time.Second},
		tools.FileName:      {Timeout: 3 * time.Second, MaxRetries: 2, BaseDelay: 200 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second},
		tools.ShellName:     {Timeout: 30 * time.Second, MaxRetries: 0},
		tools.TaskListName:  {Timeout: 2 * time.Second, MaxRetries: 1, BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second},
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

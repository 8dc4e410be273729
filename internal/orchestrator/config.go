package orchestrator

import (
	"fmt"
	"time"
)

// Mode selects how agentic turns run.
type Mode string

const (
	// ModePhased runs plan, analyze, execute and deliver as discrete phases.
	ModePhased Mode = "phased"
	// ModeTransparent streams a single tool-calling loop and executes tool
	// calls as soon as they arrive.
	ModeTransparent Mode = "transparent"
	// ModeInstant answers every message with one simple completion.
	ModeInstant Mode = "instant"
)

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModePhased, ModeTransparent, ModeInstant:
		return m, nil
	case "":
		return ModePhased, nil
	}
	return "", fmt.Errorf("unknown orchestration mode %q", s)
}

// Config is the per-instance orchestrator configuration.
type Config struct {
	// MaxToolHops caps the tool calls issued in one turn.
	MaxToolHops int
	// MaxExecutionTime is the wall-clock budget of one turn.
	MaxExecutionTime time.Duration
	Mode             Mode

	// TrivialWordLimit routes messages with at most this many words to the
	// instant path.
	TrivialWordLimit int
	// QuestionWordLimit routes short factual questions up to this many words
	// to the instant path.
	QuestionWordLimit int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxToolHops:       5,
		MaxExecutionTime:  60 * time.Second,
		Mode:              ModePhased,
		TrivialWordLimit:  3,
		QuestionWordLimit: 8,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxToolHops < 0 {
		return fmt.Errorf("max tool hops must not be negative, got %d", c.MaxToolHops)
	}
	if c.MaxExecutionTime <= 0 {
		return fmt.Errorf("max execution time must be positive, got %s", c.MaxExecutionTime)
	}
	if c.TrivialWordLimit < 0 || c.QuestionWordLimit < 0 {
		return fmt.Errorf("word limits must not be negative, got %d and %d", c.TrivialWordLimit, c.QuestionWordLimit)
	}
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	return nil
}

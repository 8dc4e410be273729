// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/capitalize-ai/agent-platform/internal/agenterr"
	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

// IncrementType discriminates stream increments.
type IncrementType string

const (
	IncrementText     IncrementType = "text"
	IncrementToolCall IncrementType = "tool_call"
	IncrementError    IncrementType = "error"
)

// Increment is one item of a model turn stream.
type Increment struct {
	Type     IncrementType
	Text     string
	ToolCall model.ToolCall
	Err      error
}

// TextIncrement creates a text increment.
func TextIncrement(s string) Increment {
	return Increment{Type: IncrementText, Text: s}
}

// ToolCallIncrement creates a tool call increment.
func ToolCallIncrement(call model.ToolCall) Increment {
	return Increment{Type: IncrementToolCall, ToolCall: call}
}

// ErrorIncrement creates an error increment.
func ErrorIncrement(err error) Increment {
	return Increment{Type: IncrementError, Err: err}
}

// Request is one model turn.
type Request struct {
	System    string
	Message   string
	History   []model.ConversationTurn
	Tools     []model.ToolSpec
	MaxTokens int

	// NoToolCalls keeps Tools declared, so earlier tool rounds in History
	// stay valid, while telling the provider not to call any of them.
	NoToolCalls bool
}

// Client is the interface for LLM providers.
type Client interface {
	// StreamWithTools streams one model turn. The sequence ends after the
	// provider finishes or after a single error increment.
	StreamWithTools(ctx context.Context, req Request) iter.Seq[Increment]

	// ChatSimple returns one complete text response without tools.
	ChatSimple(ctx context.Context, prompt string, history []model.ConversationTurn) (string, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// ErrRateLimited marks a provider rejection caused by rate limiting.
var ErrRateLimited = errors.New("rate limited")

// Config configures a provider client.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, cfg Config, log *logger.Logger) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(cfg, log)
	case ProviderOpenAI:
		return NewOpenAIClient(cfg, log)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}

// streamFrom runs produce on its own goroutine and hands its increments to
// the consumer one at a time. Stopping iteration cancels produce. A non-nil
// error from produce becomes the final increment.
func streamFrom(ctx context.Context, provider string, produce func(ctx context.Context, emit func(Increment) bool) error) iter.Seq[Increment] {
	return func(yield func(Increment) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		ch := make(chan Increment)
		go func() {
			defer close(ch)

			emit := func(inc Increment) bool {
				select {
				case ch <- inc:
					return true
				case <-ctx.Done():
					return false
				}
			}

			err := func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("provider panic: %v", r)
					}
				}()
				return produce(ctx, emit)
			}()
			if err != nil {
				emit(ErrorIncrement(asProviderError(provider, err)))
			}
		}()

		for inc := range ch {
			if !yield(inc) {
				cancel()
				for range ch {
				}
				return
			}
			if inc.Type == IncrementError {
				cancel()
				for range ch {
				}
				return
			}
		}
	}
}

func asProviderError(provider string, err error) error {
	var perr *agenterr.ProviderError
	if errors.As(err, &perr) {
		return err
	}
	var terr *agenterr.TimeoutError
	if errors.As(err, &terr) {
		return err
	}
	return &agenterr.ProviderError{Provider: provider, Err: err}
}

// CollectText drains a stream and returns the concatenated text, the tool
// calls in arrival order, and the first error increment.
func CollectText(seq iter.Seq[Increment]) (string, []model.ToolCall, error) {
	var (
		text  []byte
		calls []model.ToolCall
	)
	for inc := range seq {
		switch inc.Type {
		case IncrementText:
			text = append(text, inc.Text...)
		case IncrementToolCall:
			calls = append(calls, inc.ToolCall)
		case IncrementError:
			return string(text), calls, inc.Err
		}
	}
	return string(text), calls, nil
}

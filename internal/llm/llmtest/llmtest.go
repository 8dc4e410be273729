// Package llmtest provides a scripted LLM client for tests.
package llmtest

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/capitalize-ai/agent-platform/internal/llm"
	"github.com/capitalize-ai/agent-platform/internal/model"
)

// Turn is the scripted answer to one StreamWithTools call.
type Turn struct {
	Increments []llm.Increment
	// Delay is waited before each increment.
	Delay time.Duration
	// Hang blocks until the context is done after the increments.
	Hang bool
}

// Text builds a turn that streams the given chunks.
func Text(chunks ...string) Turn {
	t := Turn{}
	for _, c := range chunks {
		t.Increments = append(t.Increments, llm.TextIncrement(c))
	}
	return t
}

// Calls builds a turn requesting the given tool calls.
func Calls(calls ...model.ToolCall) Turn {
	t := Turn{}
	for _, c := range calls {
		t.Increments = append(t.Increments, llm.ToolCallIncrement(c))
	}
	return t
}

// Fail builds a turn that ends with an error increment.
func Fail(err error) Turn {
	return Turn{Increments: []llm.Increment{llm.ErrorIncrement(err)}}
}

// Call is a shorthand for building a tool call.
func Call(id, name string, args map[string]any) model.ToolCall {
	return model.ToolCall{ID: id, Name: name, Args: args}
}

// Scripted replays turns in order. When Respond is set it decides every
// turn instead; once the script is exhausted Fallback is used.
type Scripted struct {
	Respond  func(n int, req llm.Request) Turn
	Simple   func(ctx context.Context, prompt string) (string, error)
	Fallback Turn

	mu       sync.Mutex
	turns    []Turn
	requests []llm.Request
	prompts  []string
}

// New creates a client replaying turns.
func New(turns ...Turn) *Scripted {
	return &Scripted{turns: turns, Fallback: Text("done")}
}

func (s *Scripted) Name() string { return "scripted" }

func (s *Scripted) StreamWithTools(ctx context.Context, req llm.Request) iter.Seq[llm.Increment] {
	s.mu.Lock()
	n := len(s.requests)
	s.requests = append(s.requests, req)
	var turn Turn
	switch {
	case s.Respond != nil:
		turn = s.Respond(n, req)
	case len(s.turns) > 0:
		turn = s.turns[0]
		s.turns = s.turns[1:]
	default:
		turn = s.Fallback
	}
	s.mu.Unlock()

	return func(yield func(llm.Increment) bool) {
		for _, inc := range turn.Increments {
			if turn.Delay > 0 {
				select {
				case <-time.After(turn.Delay):
				case <-ctx.Done():
					yield(llm.ErrorIncrement(ctx.Err()))
					return
				}
			}
			if !yield(inc) || inc.Type == llm.IncrementError {
				return
			}
		}
		if turn.Hang {
			<-ctx.Done()
			yield(llm.ErrorIncrement(ctx.Err()))
		}
	}
}

func (s *Scripted) ChatSimple(ctx context.Context, prompt string, _ []model.ConversationTurn) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	fn := s.Simple
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if fn != nil {
		return fn(ctx, prompt)
	}
	return "Hello! How can I help?", nil
}

// Requests returns every StreamWithTools request in call order.
func (s *Scripted) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.requests...)
}

// Prompts returns every ChatSimple prompt in call order.
func (s *Scripted) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

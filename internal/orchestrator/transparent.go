package orchestrator

import (
	"strings"
	"sync"

	"github.com/capitalize-ai/agent-platform/internal/llm"
	"github.com/capitalize-ai/agent-platform/internal/model"
)

const transparentSystemPrompt = `You are an autonomous agent working inside a sandboxed workspace.
Think out loud briefly, call tools as soon as you need them and finish with a direct answer.`

// runTransparent streams model rounds without discrete phases. Tool calls
// start executing as soon as they arrive while the stream continues; each
// round ends after every started call has reported back.
func (t *turn) runTransparent() {
	t.conv = append(cloneHistory(t.history, 8), model.UserTurn(t.message))

	for {
		if t.checkDeadline() {
			return
		}
		// After the hop cap the tools stay declared so earlier tool rounds
		// remain valid history, but the model is told not to call them.
		req := llm.Request{
			System:      transparentSystemPrompt,
			History:     t.conv,
			Tools:       t.o.tools.Specs(),
			NoToolCalls: t.hops >= t.o.cfg.MaxToolHops,
		}

		text, calls, results, err := t.transparentRound(req)
		if t.done() {
			return
		}
		if err != nil {
			t.fail("stream", err)
			return
		}
		if len(calls) == 0 {
			if text == "" {
				t.emit(model.NewText(t.summary()))
			}
			break
		}
		t.conv = append(t.conv, model.AssistantTurn(text, calls), model.ToolTurn(results))
	}

	if !t.checkDeadline() && len(t.artifacts) > 0 {
		t.emit(model.NewDeliver(t.artifacts, t.deliverSummary()))
	}
}

// transparentRound consumes one model stream. Results are emitted as soon as
// their call completes, even while the stream is idle, and returned in call
// order.
func (t *turn) transparentRound(req llm.Request) (string, []model.ToolCall, []model.ToolResult, error) {
	remaining := max(t.o.cfg.MaxToolHops-t.hops, 1)
	done := make(chan model.ToolResult, remaining)

	var (
		text      strings.Builder
		calls     []model.ToolCall
		streamErr error
		pending   int
	)
	byID := make(map[string]model.ToolResult)

	stream := make(chan llm.Increment)
	stop := make(chan struct{})
	go func() {
		defer close(stream)
		for inc := range t.o.client.StreamWithTools(t.ctx, req) {
			select {
			case stream <- inc:
			case <-stop:
				return
			}
		}
	}()
	stopStream := sync.OnceFunc(func() { close(stop) })

	handle := func(inc llm.Increment) {
		switch inc.Type {
		case llm.IncrementText:
			text.WriteString(inc.Text)
			t.emit(model.NewText(inc.Text))
		case llm.IncrementToolCall:
			admitted := t.admit([]model.ToolCall{inc.ToolCall})
			if len(admitted) == 0 {
				return
			}
			call := admitted[0]
			if !t.emit(model.NewToolCall(call)) {
				return
			}
			calls = append(calls, call)
			pending++
			go func() {
				res := t.o.tools.ExecuteOne(t.ctx, call.Name, call.Args)
				res.ID = call.ID
				done <- res
			}()
		case llm.IncrementError:
			streamErr = inc.Err
		}
	}

	// Every started call is joined. The turn context bounds how long this takes.
	incs := stream
	for incs != nil || pending > 0 {
		select {
		case inc, ok := <-incs:
			if !ok {
				incs = nil
				continue
			}
			handle(inc)
			if t.done() {
				stopStream()
				incs = nil
			}
		case res := <-done:
			pending--
			byID[res.ID] = res
			t.record(res)
			t.emit(model.NewToolResult(res))
		}
	}
	stopStream()
	for range stream {
	}

	results := make([]model.ToolResult, len(calls))
	for i, call := range calls {
		results[i] = byID[call.ID]
	}
	return text.String(), calls, results, streamErr
}

package orchestrator

import (
	"fmt"
	"strings"

	"github.com/capitalize-ai/agent-platform/internal/llm"
	"github.com/capitalize-ai/agent-platform/internal/model"
)

const executeSystemPrompt = `You are an autonomous agent working inside a sandboxed workspace.
Use the available tools to carry out the user's request. Call web_search for research and
file to read or write files. When nothing is left to do, reply without calling tools.`

const deliverSystemPrompt = `You are an autonomous agent. Summarize what was done for the user's request
using the tool results above. Mention any files that were written.`

func planPrompt(message string) string {
	return fmt.Sprintf("Analyze this request and create a short step-by-step plan naming the tools to use.\n\nRequest: %s", message)
}

func analyzePrompt(message, plan string) string {
	return fmt.Sprintf("Request: %s\n\nPlan:\n%s\n\nList the information that must be gathered and the exact searches or file operations needed.", message, plan)
}

// runPhased runs plan, analyze, execute and deliver in order. A failing
// phase becomes an error event and the next phase still runs.
func (t *turn) runPhased() {
	t.conv = append(cloneHistory(t.history, 8), model.UserTurn(t.message))

	var plan, analysis string
	for _, phase := range model.Phases {
		if t.checkDeadline() {
			return
		}
		if !t.emit(model.NewPhase(phase, model.PhaseStart)) {
			return
		}

		err := t.guard(func() error {
			switch phase {
			case model.PhasePlan:
				text, err := t.o.client.ChatSimple(t.ctx, planPrompt(t.message), t.history)
				if err != nil {
					return err
				}
				plan = text
				t.emit(model.NewText(text))
			case model.PhaseAnalyze:
				text, err := t.o.client.ChatSimple(t.ctx, analyzePrompt(t.message, plan), t.history)
				if err != nil {
					return err
				}
				analysis = text
				t.emit(model.NewText(text))
			case model.PhaseExecute:
				return t.execute(plan, analysis)
			case model.PhaseDeliver:
				t.deliver()
			}
			return nil
		})
		if err != nil {
			t.fail(string(phase)+" phase", err)
		}

		if t.checkDeadline() {
			return
		}
		if !t.emit(model.NewPhase(phase, model.PhaseEnd)) {
			return
		}
	}
}

func (t *turn) guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// execute asks the model for tool calls, runs each batch in parallel and
// feeds the results back until the model stops calling tools or the hop
// limit is reached.
func (t *turn) execute(plan, analysis string) error {
	system := executeSystemPrompt
	if plan != "" || analysis != "" {
		system += "\n\nPlan:\n" + plan + "\n\nAnalysis:\n" + analysis
	}

	for !t.checkDeadline() && t.hops < t.o.cfg.MaxToolHops {
		var text strings.Builder
		var calls []model.ToolCall
		var streamErr error
		for inc := range t.o.client.StreamWithTools(t.ctx, llm.Request{
			System:  system,
			History: t.conv,
			Tools:   t.o.tools.Specs(),
		}) {
			switch inc.Type {
			case llm.IncrementText:
				text.WriteString(inc.Text)
				if !t.emit(model.NewText(inc.Text)) {
					return nil
				}
			case llm.IncrementToolCall:
				calls = append(calls, inc.ToolCall)
			case llm.IncrementError:
				streamErr = inc.Err
			}
		}
		if streamErr != nil {
			return streamErr
		}

		calls = t.admit(calls)
		if len(calls) == 0 {
			return nil
		}
		for _, call := range calls {
			if !t.emit(model.NewToolCall(call)) {
				return nil
			}
		}

		results := t.o.tools.ExecuteMany(t.ctx, calls)
		for i := range results {
			results[i].ID = calls[i].ID
			t.record(results[i])
			if !t.emit(model.NewToolResult(results[i])) {
				return nil
			}
		}
		t.conv = append(t.conv, model.AssistantTurn(text.String(), calls), model.ToolTurn(results))
	}
	return nil
}

// deliver synthesizes the final answer. It always ends with a text event,
// falling back to a local summary when the model fails.
func (t *turn) deliver() {
	var text strings.Builder
	for inc := range t.o.client.StreamWithTools(t.ctx, llm.Request{
		System:      deliverSystemPrompt,
		History:     t.conv,
		Message:     "Deliver the final answer for: " + t.message,
		Tools:       t.o.tools.Specs(),
		NoToolCalls: true,
	}) {
		switch inc.Type {
		case llm.IncrementText:
			text.WriteString(inc.Text)
			if !t.emit(model.NewText(inc.Text)) {
				return
			}
		case llm.IncrementError:
			t.fail("deliver phase", inc.Err)
		}
	}
	if t.done() {
		return
	}
	if text.Len() == 0 {
		t.emit(model.NewText(t.summary()))
	}
	if len(t.artifacts) > 0 {
		t.emit(model.NewDeliver(t.artifacts, t.deliverSummary()))
	}
}

// Package policy evaluates tool calls against a Rego policy before they run.
package policy

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/open-policy-agent/opa/rego"

	"github.com/capitalize-ai/agent-platform/internal/agenterr"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine prepares the policy. The module must define the set
// data.tool_policy.deny of denial reasons.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.tool_policy.deny"),
		rego.Module("tool_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// NewEngineFromFile loads the policy from path, or DefaultPolicy when path is empty.
func NewEngineFromFile(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	return NewEngine(ctx, string(data))
}

// Evaluate returns the sorted denial reasons for a call. An empty result
// means the call is allowed.
func (e *Engine) Evaluate(ctx context.Context, tool string, args map[string]any) ([]string, error) {
	if args == nil {
		args = map[string]any{}
	}
	input := map[string]any{
		"tool": tool,
		"args": args,
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}

	set, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected policy result %T", results[0].Expressions[0].Value)
	}

	reasons := make([]string, 0, len(set))
	for _, v := range set {
		reasons = append(reasons, fmt.Sprint(v))
	}
	sort.Strings(reasons)
	return reasons, nil
}

// Check returns a *agenterr.PolicyError when the call is denied.
func (e *Engine) Check(ctx context.Context, tool string, args map[string]any) error {
	reasons, err := e.Evaluate(ctx, tool, args)
	if err != nil {
		return err
	}
	if len(reasons) > 0 {
		return &agenterr.PolicyError{Tool: tool, Reason: reasons[0]}
	}
	return nil
}

// DefaultPolicy blocks destructive shell commands and cloud metadata scraping.
const DefaultPolicy = `
package tool_policy

import rego.v1

blocked_commands := [
	"mkfs",
	"shutdown",
	"reboot",
	":(){ :|:& };:",
	"dd if=/dev/zero of=/dev/",
	"> /dev/sda",
]

deny contains msg if {
	input.tool == "shell"
	input.args.action == "execute_command"
	some pattern in blocked_commands
	contains(input.args.command, pattern)
	msg := sprintf("command contains blocked pattern %q", [pattern])
}

deny contains "command removes the filesystem root" if {
	input.tool == "shell"
	input.args.action == "execute_command"
	regex.match(` + "`" + `rm\s+-[a-zA-Z]*[rf][a-zA-Z]*\s+/(\*|\s|$)` + "`" + `, input.args.command)
}

deny contains "scraping instance metadata endpoints is not allowed" if {
	input.tool == "web_scrape"
	contains(input.args.url, "169.254.169.254")
}
`

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/capitalize-ai/agent-platform/internal/agenterr"
	"github.com/capitalize-ai/agent-platform/internal/model"
)

// ShellName is the catalog name of the shell tool.
const ShellName = "shell"

// Shell actions.
const (
	ShellCreateSession  = "create_session"
	ShellExecute        = "execute_command"
	ShellDestroySession = "destroy_session"
	ShellListSessions   = "list_sessions"
)

const (
	defaultCommandTimeout = 30
	maxCommandTimeout     = 300
)

type shellArgs struct {
	Action    string `json:"action" jsonschema:"enum=create_session,enum=execute_command,enum=destroy_session,enum=list_sessions" jsonschema_description:"The shell action to perform"`
	SessionID string `json:"session_id,omitempty" jsonschema:"maxLength=64,pattern=^[A-Za-z0-9_.-]+$" jsonschema_description:"Session identifier chosen by the caller (required except for list_sessions)"`
	Command   string `json:"command,omitempty" jsonschema_description:"Command to run (required for execute_command)"`
	Timeout   int    `json:"timeout,omitempty" jsonschema:"minimum=1,maximum=300,default=30" jsonschema_description:"Command timeout in seconds"`
	WorkDir   string `json:"workdir,omitempty" jsonschema_description:"Working directory for a new session, relative to the workspace"`
}

// CommandOutput is returned by execute_command.
type CommandOutput struct {
	SessionID string `json:"session_id"`
	Command   string `json:"command"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  int    `json:"exit_code"`
}

// ShellTool runs commands in explicitly created sessions.
type ShellTool struct {
	sandbox  Sandbox
	sessions *SessionRegistry
	spec     model.ToolSpec
}

// NewShellTool creates the shell tool on top of a shared session registry.
func NewShellTool(sandbox Sandbox, sessions *SessionRegistry) *ShellTool {
	return &ShellTool{
		sandbox:  sandbox,
		sessions: sessions,
		spec: newSpec[shellArgs](ShellName,
			"Run shell commands in the workspace. Create a session with a session_id first, run commands in it, and destroy it when done."),
	}
}

func (t *ShellTool) Spec() model.ToolSpec { return t.spec }

// Sessions exposes the registry for maintenance jobs.
func (t *ShellTool) Sessions() *SessionRegistry { return t.sessions }

func (t *ShellTool) Execute(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[shellArgs](ShellName, raw)
	if err != nil {
		return nil, agenterr.Invalid(ShellName, "%v", err)
	}
	if args.Action != ShellListSessions && args.SessionID == "" {
		return nil, agenterr.Invalid(ShellName, "session_id is required for %s", args.Action)
	}

	switch args.Action {
	case ShellCreateSession:
		info, err := t.sessions.Create(args.SessionID, args.WorkDir)
		if err != nil {
			return nil, agenterr.Invalid(ShellName, "%v", err)
		}
		return info, nil

	case ShellExecute:
		return t.run(ctx, args)

	case ShellDestroySession:
		info, err := t.sessions.Destroy(args.SessionID)
		if err != nil {
			return nil, agenterr.Invalid(ShellName, "%v", err)
		}
		return info, nil

	case ShellListSessions:
		return map[string]any{"sessions": t.sessions.List()}, nil
	}

	return nil, agenterr.Invalid(ShellName, "unknown action %q", args.Action)
}

func (t *ShellTool) run(ctx context.Context, args shellArgs) (any, error) {
	if strings.TrimSpace(args.Command) == "" {
		return nil, agenterr.Invalid(ShellName, "command is required for execute_command")
	}
	session, err := t.sessions.Get(args.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, agenterr.Invalid(ShellName, "%v (create it first)", err)
		}
		return nil, err
	}

	timeout := args.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	if timeout > maxCommandTimeout {
		timeout = maxCommandTimeout
	}

	session.run.Lock()
	res := t.sandbox.ExecuteCommand(ctx, session.WorkDir, args.Command, time.Duration(timeout)*time.Second)
	session.run.Unlock()
	session.record(args.Command, res.ExitCode, t.sessions.now())

	if !res.Success {
		detail := strings.TrimSpace(res.Stderr)
		if detail == "" {
			detail = res.Error
		} else {
			detail = fmt.Sprintf("%s: %s", res.Error, truncate(detail, 2000))
		}
		return nil, &agenterr.ExecutionError{Tool: ShellName, Err: backendError(detail)}
	}

	return CommandOutput{
		SessionID: args.SessionID,
		Command:   args.Command,
		Stdout:    res.Stdout,
		Stderr:    res.Stderr,
		ExitCode:  res.ExitCode,
	}, nil
}

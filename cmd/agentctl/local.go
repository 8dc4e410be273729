package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/capitalize-ai/agent-platform/internal/app"
	"github.com/capitalize-ai/agent-platform/internal/model"
)

type ToolsCmd struct {
	JSON bool `help:"Print full specs as JSON."`
}

func (c *ToolsCmd) Run(g *Globals) error {
	a, err := app.NewTools(g.ctx, g.cfg, g.log)
	if err != nil {
		return err
	}
	defer a.Close()

	specs := a.Executor.Specs()
	if c.JSON {
		return printJSON(specs)
	}
	for _, s := range specs {
		desc, _, _ := strings.Cut(s.Description, "\n")
		fmt.Printf("%-12s %s\n", s.Name, desc)
	}
	return nil
}

type ExecCmd struct {
	Tool string `arg:"" help:"Tool name."`
	Args string `arg:"" optional:"" default:"{}" help:"Arguments as a JSON object."`
}

func (c *ExecCmd) Run(g *Globals) error {
	var args map[string]any
	if err := json.Unmarshal([]byte(c.Args), &args); err != nil {
		return fmt.Errorf("arguments must be a JSON object: %w", err)
	}

	a, err := app.NewTools(g.ctx, g.cfg, g.log)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, ok := a.Executor.Registry().Get(c.Tool); !ok {
		return fmt.Errorf("unknown tool %q", c.Tool)
	}
	res := a.Executor.ExecuteOne(g.ctx, c.Tool, args)
	if err := printJSON(res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%s failed", c.Tool)
	}
	return nil
}

type ChatCmd struct {
	Message []string `arg:"" help:"Message to send."`
	Mode    string   `help:"Override ORCHESTRATOR_MODE (instant, transparent or phased)."`
	Events  bool     `help:"Print every event as JSON instead of the answer text."`
}

func (c *ChatCmd) Run(g *Globals) error {
	if c.Mode != "" {
		g.cfg.OrchestratorMode = c.Mode
	}
	a, err := app.NewAgent(g.ctx, g.cfg, g.log, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	failed := false
	for ev := range a.Orchestrator.ProcessMessage(g.ctx, strings.Join(c.Message, " "), nil) {
		if c.Events {
			if err := printJSON(ev); err != nil {
				return err
			}
			continue
		}
		switch ev.Type {
		case model.EventTypeText:
			fmt.Print(ev.Content)
		case model.EventTypeToolCall:
			fmt.Fprintf(os.Stderr, "> %s\n", ev.Name)
		case model.EventTypeToolResult:
			if !ev.Success {
				fmt.Fprintf(os.Stderr, "! %s: %s\n", ev.Name, ev.Error)
			}
		case model.EventTypePhase:
			if ev.Status == model.PhaseStart {
				fmt.Fprintf(os.Stderr, "[%s]\n", ev.Phase)
			}
		case model.EventTypeError:
			failed = true
			fmt.Fprintln(os.Stderr, "error:", ev.Content)
		}
	}
	if !c.Events {
		fmt.Println()
	}
	if failed {
		return fmt.Errorf("turn ended with errors")
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

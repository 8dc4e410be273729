// Command agentctl runs tools and agent turns locally and manages jobs on
// a running API server.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/capitalize-ai/agent-platform/internal/config"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

// Globals are shared by every command.
type Globals struct {
	Verbose bool   `short:"v" help:"Log to stderr."`
	API     string `env:"AGENT_API_URL" default:"http://localhost:8080" help:"API server base URL."`
	Token   string `env:"AGENT_TOKEN" help:"Bearer token for the API server."`
	Secret  string `env:"JWT_SECRET" help:"Signing secret used to mint a token when --token is empty."`
	Tenant  string `env:"AGENT_TENANT" default:"default" help:"Tenant of a minted token."`
	User    string `env:"AGENT_USER" default:"agentctl" help:"User of a minted token."`

	ctx context.Context
	cfg *config.Config
	log *logger.Logger
}

type CLI struct {
	Globals

	Tools ToolsCmd `cmd:"" help:"List the tool catalog."`
	Exec  ExecCmd  `cmd:"" help:"Execute one tool in the local workspace."`
	Chat  ChatCmd  `cmd:"" help:"Run an agent turn locally and print its events."`
	Jobs  JobsCmd  `cmd:"" help:"Create and follow jobs on an API server."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("agentctl"),
		kong.Description("Agent platform command line."),
		kong.UsageOnError(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli.ctx = ctx
	cli.cfg = config.Load()
	cli.log = logger.NewNop()
	if cli.Verbose {
		log, err := logger.New("debug", "console")
		kctx.FatalIfErrorf(err)
		cli.log = log
	}
	defer cli.log.Sync()

	err := kctx.Run(&cli.Globals)
	kctx.FatalIfErrorf(err)
}

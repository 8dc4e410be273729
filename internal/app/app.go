// Package app assembles the platform from configuration. The API server,
// the job worker and agentctl share it.
package app

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/internal/config"
	"github.com/capitalize-ai/agent-platform/internal/executor"
	"github.com/capitalize-ai/agent-platform/internal/handler"
	"github.com/capitalize-ai/agent-platform/internal/jobs"
	"github.com/capitalize-ai/agent-platform/internal/llm"
	natsclient "github.com/capitalize-ai/agent-platform/internal/nats"
	"github.com/capitalize-ai/agent-platform/internal/orchestrator"
	"github.com/capitalize-ai/agent-platform/internal/policy"
	redisclient "github.com/capitalize-ai/agent-platform/internal/redis"
	"github.com/capitalize-ai/agent-platform/internal/service"
	"github.com/capitalize-ai/agent-platform/internal/store"
	"github.com/capitalize-ai/agent-platform/internal/tools"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

// App holds the wired components.
type App struct {
	Config *config.Config
	Log    *logger.Logger

	Sandbox      *tools.LocalSandbox
	Sessions     *tools.SessionRegistry
	Executor     *executor.Executor
	LLM          llm.Client
	Orchestrator *orchestrator.Orchestrator
	Threads      *service.ThreadService
	Chat         *service.ChatService
	Jobs         *jobs.Service
	JobBus       jobs.Bus
	Hub          *handler.Hub

	memCache    *executor.MemoryCache
	nats        *natsclient.Client
	redis       *redisclient.Client
	threadStore *store.SQLiteThreadStore
}

// Options override parts of the wiring. Tests use them to substitute
// the model provider.
type Options struct {
	LLM llm.Client
}

// New connects to the configured backends and builds every component.
// NATS and Redis are optional: without them the message log, job bus, job
// store and tool cache live in process memory.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (_ *App, err error) {
	a, err := NewAgent(ctx, cfg, log, opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var (
		messages service.MessageLog
		jobStore jobs.Store
	)
	if cfg.NATSURL != "" {
		a.nats, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		streams := natsclient.NewStreamManager(a.nats)
		if err := streams.EnsureStream(ctx); err != nil {
			return nil, err
		}
		bus := natsclient.NewJobBus(a.nats, cfg.JobAckWait)
		if err := bus.EnsureStreams(ctx); err != nil {
			return nil, err
		}
		messages, a.JobBus = streams, bus
	} else {
		log.Warn("NATS_URL not set, keeping messages and job queue in memory")
		messages, a.JobBus = service.NewMemoryMessageLog(), jobs.NewMemoryBus(1024)
	}

	if a.redis != nil {
		jobStore = redisclient.NewJobStore(a.redis, cfg.JobTTL)
	} else {
		jobStore = jobs.NewMemoryStore()
	}

	a.threadStore, err = store.NewSQLiteThreadStore(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	a.Threads = service.NewThreadService(a.threadStore, messages, log)
	a.Chat = service.NewChatService(a.Threads, a.Orchestrator, a.LLM, cfg.HistoryMessages, log)
	a.Jobs = jobs.NewService(jobStore, a.JobBus, log.With(zap.String("component", "jobs")))
	a.Hub = handler.NewHub(log)
	return a, nil
}

// NewTools builds the sandbox, tool catalog and executor only.
func NewTools(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}
	if err := a.buildTools(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// NewAgent builds the tools, the model client and the orchestrator without
// connecting to any storage backend.
func NewAgent(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (_ *App, err error) {
	a, err := NewTools(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.LLM = opts.LLM
	if a.LLM == nil {
		a.LLM, err = llm.NewClient(llm.Provider(cfg.DefaultLLM), llm.Config{
			APIKey:    cfg.APIKey(),
			BaseURL:   cfg.LLMBaseURL,
			Model:     cfg.LLMModel,
			MaxTokens: cfg.LLMMaxTokens,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
	}
	if cfg.LLMRequestsPerMinute > 0 {
		a.LLM = llm.NewRateLimiter(cfg.LLMRequestsPerMinute).Wrap(a.LLM)
	}

	mode, err := orchestrator.ParseMode(cfg.OrchestratorMode)
	if err != nil {
		return nil, err
	}
	orchCfg := orchestrator.DefaultConfig()
	orchCfg.Mode = mode
	orchCfg.MaxToolHops = cfg.MaxToolHops
	orchCfg.MaxExecutionTime = cfg.MaxExecutionTime
	a.Orchestrator, err = orchestrator.New(a.LLM, a.Executor, orchCfg, log.With(zap.String("component", "orchestrator")))
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) buildTools(ctx context.Context) error {
	cfg, log := a.Config, a.Log

	var err error
	a.Sandbox, err = tools.NewLocalSandbox(cfg.WorkspaceDir, log)
	if err != nil {
		return err
	}

	var scraper tools.Scraper = tools.NewReadabilityScraper(log)
	if cfg.FirecrawlAPIKey != "" {
		scraper = tools.NewFirecrawlScraper(cfg.FirecrawlAPIKey, cfg.FirecrawlBaseURL, log)
	}
	a.Sessions = tools.NewSessionRegistry()
	registry, err := tools.NewCatalog(tools.Backends{
		Sandbox:  a.Sandbox,
		Searcher: tools.NewTavilySearcher(cfg.TavilyAPIKey, cfg.TavilyBaseURL, log),
		Scraper:  scraper,
		Sessions: a.Sessions,
	})
	if err != nil {
		return err
	}

	policies, err := config.LoadToolPolicies(cfg.ToolsConfigPath)
	if err != nil {
		return err
	}
	gate, err := policy.NewEngineFromFile(ctx, cfg.PolicyFile)
	if err != nil {
		return err
	}

	var cache executor.Cache
	if cfg.RedisURL != "" {
		a.redis, err = redisclient.Connect(ctx, redisclient.Config{URL: cfg.RedisURL}, log)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		cache = redisclient.NewToolCache(a.redis)
	} else {
		a.memCache = executor.NewMemoryCache()
		cache = a.memCache
	}

	a.Executor = executor.New(registry, executor.Config{
		Policies: policies,
		CacheTTL: cfg.ToolCacheTTL,
	}, log.With(zap.String("component", "executor")),
		executor.WithCache(cache),
		executor.WithGate(gate),
	)
	return nil
}

// Worker builds a job worker over the app's queue.
func (a *App) Worker() *jobs.Worker {
	return jobs.NewWorker(a.Jobs, a.JobBus, a.Executor, a.Orchestrator, a.Config.JobWorkers, a.Log.With(zap.String("component", "worker")))
}

// StartMaintenance schedules idle shell session reaping and, for the
// in-memory tool cache, eviction of expired entries. Stop the returned
// scheduler on shutdown.
func (a *App) StartMaintenance() (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(a.Config.MaintenanceSpec, a.maintain)
	if err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule %q: %w", a.Config.MaintenanceSpec, err)
	}
	c.Start()
	return c, nil
}

func (a *App) maintain() {
	if reaped := a.Sessions.ReapIdle(a.Config.SessionIdleTTL); len(reaped) > 0 {
		a.Log.Info("reaped idle shell sessions", zap.Strings("session_ids", reaped))
	}
	if a.memCache != nil {
		if n := a.memCache.Purge(); n > 0 {
			a.Log.Debug("purged expired cache entries", zap.Int("entries", n))
		}
	}
}

// ReadyChecks returns the dependency checks behind /ready.
func (a *App) ReadyChecks() map[string]handler.Check {
	checks := map[string]handler.Check{
		"sqlite": a.threadStore.Ping,
	}
	if a.nats != nil {
		checks["nats"] = a.nats.Ping
	}
	if a.redis != nil {
		checks["redis"] = a.redis.Ping
	}
	return checks
}

// Close releases backend connections.
func (a *App) Close() {
	if a.threadStore != nil {
		a.threadStore.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.nats != nil {
		a.nats.Close()
	}
}

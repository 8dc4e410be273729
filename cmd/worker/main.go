// Package main is the entry point for a standalone job worker. It consumes
// the NATS job queue, so NATS_URL must be set.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/internal/app"
	"github.com/capitalize-ai/agent-platform/internal/config"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
	"github.com/capitalize-ai/agent-platform/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if cfg.NATSURL == "" {
		log.Fatal("NATS_URL is required for a standalone worker")
	}
	if cfg.RedisURL == "" {
		log.Warn("REDIS_URL not set, job records are not shared with the API")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "agent-platform-worker", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		log.Fatal("failed to initialize", zap.Error(err))
	}
	defer a.Close()

	maintenance, err := a.StartMaintenance()
	if err != nil {
		log.Fatal("failed to schedule maintenance", zap.Error(err))
	}
	defer maintenance.Stop()

	if err := a.Worker().Run(ctx); err != nil {
		log.Error("worker failed", zap.Error(err))
	}
}

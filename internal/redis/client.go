// Package redis provides the Redis-backed shared tool cache and job store.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

// Config holds Redis connection configuration.
type Config struct {
	URL string
}

// Client wraps a Redis connection.
type Client struct {
	rdb    *redis.Client
	logger *logger.Logger
}

// Connect parses the URL, connects and pings the server.
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info("connected to redis", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return &Client{rdb: rdb, logger: log}, nil
}

// NewClient wraps an existing connection.
func NewClient(rdb *redis.Client, log *logger.Logger) *Client {
	return &Client{rdb: rdb, logger: log}
}

// Redis returns the underlying client.
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

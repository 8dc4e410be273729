package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/internal/executor"
)

// CachePrefix namespaces tool cache keys.
const CachePrefix = "tool_cache:"

const deleteBatch = 100

var _ executor.Cache = (*ToolCache)(nil)

// ToolCache shares tool results between processes. Expiry is left to
// Redis key TTLs.
type ToolCache struct {
	client *Client
}

// NewToolCache creates a cache on the client.
func NewToolCache(client *Client) *ToolCache {
	return &ToolCache{client: client}
}

func (c *ToolCache) Get(ctx context.Context, key string) (executor.Entry, bool, error) {
	data, err := c.client.rdb.Get(ctx, CachePrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return executor.Entry{}, false, nil
	}
	if err != nil {
		return executor.Entry{}, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var entry executor.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return executor.Entry{}, false, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return entry, true, nil
}

func (c *ToolCache) Set(ctx context.Context, key string, entry executor.Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := c.client.rdb.Set(ctx, CachePrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Clear scans for the tool's keys, or every cache key when tool is empty,
// and deletes them in batches.
func (c *ToolCache) Clear(ctx context.Context, tool string) (int, error) {
	pattern := CachePrefix + "*"
	if tool != "" {
		pattern = CachePrefix + tool + ":*"
	}

	var (
		batch   []string
		removed int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.client.rdb.Del(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("failed to delete cache entries: %w", err)
		}
		removed += int(n)
		batch = batch[:0]
		return nil
	}

	iter := c.client.rdb.Scan(ctx, 0, pattern, deleteBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= deleteBatch {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan cache keys: %w", err)
	}
	if err := flush(); err != nil {
		return removed, err
	}

	c.client.logger.Debug("tool cache cleared", zap.String("tool", tool), zap.Int("removed", removed))
	return removed, nil
}

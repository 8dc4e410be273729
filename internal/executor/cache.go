package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/capitalize-ai/agent-platform/internal/model"
)

// Entry is a cached successful tool result.
type Entry struct {
	Result    json.RawMessage  `json:"result"`
	Artifacts []model.Artifact `json:"artifacts,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Cache stores results of idempotent tool calls. Implementations must be
// safe for concurrent use.
type Cache interface {
	// Get returns the entry for key. Expired entries are reported as misses.
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Set stores the entry for ttl.
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	// Clear removes the entries of one tool, or every entry when tool is
	// empty, and returns how many were removed.
	Clear(ctx context.Context, tool string) (int, error)
}

// CacheKey hashes the tool name together with the normalized arguments.
// Keys are prefixed with the tool name so entries can be cleared per tool.
func CacheKey(tool string, args map[string]any) (string, error) {
	normalized, err := normalizeArgs(args)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(tool + "\x00" + normalized))
	return tool + ":" + hex.EncodeToString(sum[:]), nil
}

// normalizeArgs renders args as canonical JSON: object keys sorted and
// numbers in their shortest form.
func normalizeArgs(args map[string]any) (string, error) {
	if args == nil {
		return "{}", nil
	}
	first, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to marshal arguments: %w", err)
	}
	var generic any
	if err := json.Unmarshal(first, &generic); err != nil {
		return "", fmt.Errorf("failed to normalize arguments: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("failed to normalize arguments: %w", err)
	}
	return string(canonical), nil
}

// MemoryCache is an in-process Cache with lazy TTL eviction.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Entry, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return Entry{}, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		if cur, still := c.entries[key]; still && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return Entry{}, false, nil
	}
	return e.entry, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{entry: entry, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Clear(_ context.Context, tool string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tool == "" {
		n := len(c.entries)
		c.entries = make(map[string]memoryEntry)
		return n, nil
	}

	prefix := tool + ":"
	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n, nil
}

// Purge drops expired entries and returns how many were removed.
func (c *MemoryCache) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Package executor runs tool calls with per-tool timeouts, retries with
// exponential backoff and result caching for idempotent calls.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/internal/agenterr"
	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/internal/tools"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
	"github.com/capitalize-ai/agent-platform/pkg/metrics"
)

// Gate decides whether a call may run at all.
type Gate interface {
	Check(ctx context.Context, tool string, args map[string]any) error
}

// Config holds executor settings.
type Config struct {
	Policies map[string]Policy
	CacheTTL time.Duration
}

// Stats are cumulative executor counters.
type Stats struct {
	Executions int64 `json:"executions"`
	CacheHits  int64 `json:"cache_hits"`
	Retries    int64 `json:"retries"`
	Failures   int64 `json:"failures"`
	Timeouts   int64 `json:"timeouts"`
	Denied     int64 `json:"denied"`
}

// Option configures an Executor.
type Option func(*Executor)

// WithCache replaces the default in-memory cache.
func WithCache(c Cache) Option {
	return func(e *Executor) { e.cache = c }
}

// WithGate installs a policy gate evaluated before every call.
func WithGate(g Gate) Option {
	return func(e *Executor) { e.gate = g }
}

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(e *Executor) { e.sleep = fn }
}

// Executor runs tool calls. It never panics or returns an error to the
// caller; every outcome is a model.ToolResult.
type Executor struct {
	registry *tools.Registry
	cache    Cache
	gate     Gate
	policies map[string]Policy
	cacheTTL time.Duration
	sleep    SleepFunc
	log      *logger.Logger
	tracer   trace.Tracer

	executions atomic.Int64
	cacheHits  atomic.Int64
	retries    atomic.Int64
	failures   atomic.Int64
	timeouts   atomic.Int64
	denied     atomic.Int64
}

// New creates an executor over the registry.
func New(registry *tools.Registry, cfg Config, log *logger.Logger, opts ...Option) *Executor {
	policies := DefaultPolicies()
	for name, p := range cfg.Policies {
		policies[name] = p
	}
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 15 * time.Minute
	}

	e := &Executor{
		registry: registry,
		cache:    NewMemoryCache(),
		policies: policies,
		cacheTTL: ttl,
		sleep:    sleepContext,
		log:      log,
		tracer:   otel.Tracer("agent-platform/executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the tool registry.
func (e *Executor) Registry() *tools.Registry {
	return e.registry
}

// Specs returns the specs of every registered tool.
func (e *Executor) Specs() []model.ToolSpec {
	return e.registry.Specs()
}

// Policy returns the effective policy for a tool.
func (e *Executor) Policy(name string) Policy {
	if p, ok := e.policies[name]; ok {
		return p
	}
	return DefaultPolicy
}

// Stats returns a snapshot of the counters.
func (e *Executor) Stats() Stats {
	return Stats{
		Executions: e.executions.Load(),
		CacheHits:  e.cacheHits.Load(),
		Retries:    e.retries.Load(),
		Failures:   e.failures.Load(),
		Timeouts:   e.timeouts.Load(),
		Denied:     e.denied.Load(),
	}
}

// ClearCache drops cached results of one tool, or all when tool is empty.
func (e *Executor) ClearCache(ctx context.Context, tool string) (int, error) {
	return e.cache.Clear(ctx, tool)
}

// ExecuteMany runs all calls concurrently. Result i always answers calls[i].
func (e *Executor) ExecuteMany(ctx context.Context, calls []model.ToolCall) []model.ToolResult {
	results := make([]model.ToolResult, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call model.ToolCall) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = failure(call.Name, fmt.Errorf("executor panic: %v", r), 0)
					results[i].ID = call.ID
				}
			}()
			res := e.ExecuteOne(ctx, call.Name, call.Args)
			res.ID = call.ID
			results[i] = res
		}(i, call)
	}
	wg.Wait()

	return results
}

// ExecuteOne runs a single call through the cache, timeout and retry pipeline.
func (e *Executor) ExecuteOne(ctx context.Context, name string, args map[string]any) model.ToolResult {
	start := time.Now()
	e.executions.Add(1)

	ctx, span := e.tracer.Start(ctx, "tool."+name, trace.WithAttributes(attribute.String("tool.name", name)))
	defer span.End()

	res := e.execute(ctx, name, args)
	res.DurationMs = time.Since(start).Milliseconds()

	status := "success"
	switch {
	case res.Cached:
		status = "cached"
	case !res.Success:
		status = "failure"
		e.failures.Add(1)
		span.SetStatus(codes.Error, res.Error)
	}
	span.SetAttributes(
		attribute.Bool("tool.cached", res.Cached),
		attribute.Int("tool.attempts", res.Attempts),
	)
	metrics.RecordToolExecution(name, status, time.Since(start))

	e.log.Debug("tool executed",
		zap.String("tool", name),
		zap.String("status", status),
		zap.Int("attempts", res.Attempts),
		zap.Duration("duration", time.Since(start)),
	)
	return res
}

func (e *Executor) execute(ctx context.Context, name string, args map[string]any) model.ToolResult {
	tool, ok := e.registry.Get(name)
	if !ok {
		return failure(name, &agenterr.ValidationError{Tool: name, Reason: "unknown tool"}, 0)
	}

	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return failure(name, agenterr.Invalid(name, "arguments are not serializable: %v", err), 0)
	}
	if err := e.registry.Validate(name, raw); err != nil {
		return failure(name, err, 0)
	}

	if e.gate != nil {
		if err := e.gate.Check(ctx, name, args); err != nil {
			e.denied.Add(1)
			e.log.Warn("tool call denied", zap.String("tool", name), zap.Error(err))
			return failure(name, err, 0)
		}
	}

	policy := e.Policy(name)
	classifier, classified := tool.(tools.Classifier)
	idempotent := policy.MaxRetries > 0 && (!classified || classifier.Idempotent(raw))

	var key string
	if idempotent {
		key, err = CacheKey(name, args)
		if err != nil {
			return failure(name, agenterr.Invalid(name, "%v", err), 0)
		}
		entry, hit, err := e.cache.Get(ctx, key)
		if err != nil {
			e.log.Warn("tool cache lookup failed", zap.String("tool", name), zap.Error(err))
		}
		metrics.RecordCacheLookup(name, hit)
		if hit {
			e.cacheHits.Add(1)
			return model.ToolResult{
				Name:      name,
				Success:   true,
				Result:    entry.Result,
				Cached:    true,
				Artifacts: entry.Artifacts,
			}
		}
	}

	maxAttempts := 1
	if idempotent {
		maxAttempts += policy.MaxRetries
	}

	var (
		out      any
		lastErr  error
		attempts int
	)
	for attempts = 1; ; attempts++ {
		out, lastErr = e.attempt(ctx, tool, name, raw, policy.Timeout)
		if lastErr == nil {
			break
		}
		var terr *agenterr.TimeoutError
		if errors.As(lastErr, &terr) {
			e.timeouts.Add(1)
		}
		if attempts >= maxAttempts || !agenterr.Retryable(lastErr) || ctx.Err() != nil {
			break
		}

		delay := policy.Delay(attempts)
		e.retries.Add(1)
		metrics.RecordToolRetry(name)
		e.log.Info("retrying tool call",
			zap.String("tool", name),
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)
		if err := e.sleep(ctx, delay); err != nil {
			lastErr = fmt.Errorf("retry aborted: %w", err)
			break
		}
	}
	if lastErr != nil {
		return failure(name, lastErr, attempts)
	}

	result, err := json.Marshal(out)
	if err != nil {
		return failure(name, &agenterr.ExecutionError{Tool: name, Err: fmt.Errorf("result is not serializable: %w", err)}, attempts)
	}

	var artifacts []model.Artifact
	if p, ok := out.(tools.ArtifactProducer); ok {
		artifacts = p.Artifacts()
	}

	if idempotent {
		entry := Entry{Result: result, Artifacts: artifacts, CreatedAt: time.Now()}
		if err := e.cache.Set(ctx, key, entry, e.cacheTTL); err != nil {
			e.log.Warn("tool cache store failed", zap.String("tool", name), zap.Error(err))
		}
	} else if classified {
		// A successful side-effecting call invalidates earlier reads of the same tool.
		if _, err := e.cache.Clear(ctx, name); err != nil {
			e.log.Warn("tool cache invalidation failed", zap.String("tool", name), zap.Error(err))
		}
	}

	return model.ToolResult{
		Name:      name,
		Success:   true,
		Result:    result,
		Attempts:  attempts,
		Artifacts: artifacts,
	}
}

// attempt runs the tool once under timeout. A tool that ignores its
// context is abandoned when the timeout fires.
func (e *Executor) attempt(ctx context.Context, tool tools.Tool, name string, raw json.RawMessage, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = DefaultPolicy.Timeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		out any
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &agenterr.ExecutionError{Tool: name, Err: fmt.Errorf("panic: %v", r)}}
			}
		}()
		out, err := tool.Execute(actx, raw)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			return nil, &agenterr.TimeoutError{Op: name, Timeout: timeout}
		}
		return o.out, o.err
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, &agenterr.TimeoutError{Op: name, Timeout: timeout}
	}
}

func failure(name string, err error, attempts int) model.ToolResult {
	return model.ToolResult{
		Name:     name,
		Success:  false,
		Error:    err.Error(),
		Attempts: attempts,
	}
}

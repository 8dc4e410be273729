package executor

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/capitalize-ai/agent-platform/internal/agenterr"
	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/internal/tools"
	"github.com/capitalize-ai/agent-platform/internal/tools/toolstest"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordedSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordedSleep) get() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func newExecutor(t *testing.T, policies map[string]Policy, ts ...tools.Tool) (*Executor, *recordedSleep) {
	t.Helper()
	rs := &recordedSleep{}
	reg, err := tools.NewRegistry(ts...)
	require.NoError(t, err)
	return New(reg, Config{Policies: policies, CacheTTL: time.Minute}, logger.NewNop(), WithSleep(rs.sleep)), rs
}

func idempotentPolicy(retries int) Policy {
	return Policy{Timeout: time.Second, MaxRetries: retries, BaseDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
}

func TestExecuteManyPreservesOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	slow := &toolstest.Func{
		Name: "slow",
		Fn: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in struct {
				Delay int  `json:"delay"`
				Fail  bool `json:"fail"`
			}
			_ = json.Unmarshal(args, &in)
			select {
			case <-time.After(time.Duration(in.Delay) * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if in.Fail {
				return nil, errors.New("injected failure")
			}
			return in.Delay, nil
		},
	}
	exec, _ := newExecutor(t, map[string]Policy{"slow": {Timeout: time.Second}}, slow)

	properties.Property("result i answers call i", prop.ForAll(
		func(delays []int, failMask []bool) bool {
			calls := make([]model.ToolCall, len(delays))
			for i, d := range delays {
				fail := i < len(failMask) && failMask[i]
				calls[i] = model.ToolCall{
					ID:   "call_" + strconv.Itoa(i),
					Name: "slow",
					Args: map[string]any{"delay": d, "fail": fail},
				}
			}

			results := exec.ExecuteMany(context.Background(), calls)
			if len(results) != len(calls) {
				return false
			}
			for i, res := range results {
				if res.ID != calls[i].ID || res.Name != "slow" {
					return false
				}
				fail := i < len(failMask) && failMask[i]
				if res.Success == fail {
					return false
				}
				if res.Success && string(res.Result) != strconv.Itoa(delays[i]) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(8, gen.IntRange(0, 5)),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}

func TestExecuteManyIsolatesFailures(t *testing.T) {
	ok := &toolstest.Func{Name: "ok"}
	panicky := &toolstest.Func{Name: "panicky", Fn: func(context.Context, json.RawMessage) (any, error) {
		panic("kaboom")
	}}
	exec, _ := newExecutor(t, nil, ok, panicky)

	results := exec.ExecuteMany(context.Background(), []model.ToolCall{
		{ID: "a", Name: "panicky"},
		{ID: "b", Name: "ok"},
		{ID: "c", Name: "missing"},
	})

	require.Len(t, results, 3)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "kaboom")
	assert.True(t, results[1].Success)
	assert.Equal(t, "b", results[1].ID)
	assert.False(t, results[2].Success)
	assert.Contains(t, results[2].Error, "unknown tool")
}

func TestIdempotentCallIsServedFromCache(t *testing.T) {
	search := &toolstest.Func{Name: "search", Fn: func(_ context.Context, args json.RawMessage) (any, error) {
		return map[string]any{"hits": 3}, nil
	}}
	exec, _ := newExecutor(t, map[string]Policy{"search": idempotentPolicy(2)}, search)
	ctx := context.Background()

	first := exec.ExecuteOne(ctx, "search", map[string]any{"query": "gold", "n": 5})
	second := exec.ExecuteOne(ctx, "search", map[string]any{"n": 5.0, "query": "gold"})

	require.True(t, first.Success)
	assert.False(t, first.Cached)
	require.True(t, second.Success)
	assert.True(t, second.Cached)
	assert.JSONEq(t, string(first.Result), string(second.Result))
	assert.Equal(t, 1, search.Calls())
	assert.EqualValues(t, 1, exec.Stats().CacheHits)

	third := exec.ExecuteOne(ctx, "search", map[string]any{"query": "silver", "n": 5})
	assert.False(t, third.Cached)
	assert.Equal(t, 2, search.Calls())
}

func TestNonIdempotentCallIsNeverCached(t *testing.T) {
	shell := &toolstest.Func{Name: "shell"}
	exec, _ := newExecutor(t, map[string]Policy{"shell": {Timeout: time.Second}}, shell)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := exec.ExecuteOne(ctx, "shell", map[string]any{"command": "date"})
		require.True(t, res.Success)
		assert.False(t, res.Cached)
	}
	assert.Equal(t, 3, shell.Calls())
}

func TestRetriesUseExponentialBackoff(t *testing.T) {
	const retries = 3
	flaky := &toolstest.Func{Name: "flaky"}
	flaky.Fn = func(context.Context, json.RawMessage) (any, error) {
		if flaky.Calls() <= retries {
			return nil, agenterr.Failed("flaky", "backend unavailable")
		}
		return "ok", nil
	}
	exec, rs := newExecutor(t, map[string]Policy{"flaky": idempotentPolicy(retries)}, flaky)

	res := exec.ExecuteOne(context.Background(), "flaky", map[string]any{"q": "x"})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, retries+1, flaky.Calls())
	assert.Equal(t, retries+1, res.Attempts)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}, rs.get())
	assert.EqualValues(t, retries, exec.Stats().Retries)
}

func TestRetriesExhausted(t *testing.T) {
	down := &toolstest.Func{Name: "down", Fn: func(context.Context, json.RawMessage) (any, error) {
		return nil, agenterr.Failed("down", "still down")
	}}
	exec, rs := newExecutor(t, map[string]Policy{"down": idempotentPolicy(2)}, down)

	res := exec.ExecuteOne(context.Background(), "down", nil)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "still down")
	assert.Equal(t, 3, down.Calls())
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, rs.get(), 2)
}

func TestValidationErrorsAreNotRetried(t *testing.T) {
	strict := &toolstest.Func{
		Name: "strict",
		Params: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
			"required":   []any{"query"},
		},
	}
	exec, rs := newExecutor(t, map[string]Policy{"strict": idempotentPolicy(3)}, strict)

	res := exec.ExecuteOne(context.Background(), "strict", map[string]any{"q": 1})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid arguments")
	assert.Equal(t, 0, strict.Calls())
	assert.Empty(t, rs.get())

	rejecting := &toolstest.Func{Name: "rejecting", Fn: func(context.Context, json.RawMessage) (any, error) {
		return nil, agenterr.Invalid("rejecting", "bad path")
	}}
	exec, rs = newExecutor(t, map[string]Policy{"rejecting": idempotentPolicy(3)}, rejecting)
	res = exec.ExecuteOne(context.Background(), "rejecting", nil)
	assert.False(t, res.Success)
	assert.Equal(t, 1, rejecting.Calls())
	assert.Empty(t, rs.get())
}

func TestAttemptTimeout(t *testing.T) {
	hang := &toolstest.Func{Name: "hang", Fn: func(ctx context.Context, _ json.RawMessage) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	exec, _ := newExecutor(t, map[string]Policy{
		"hang": {Timeout: 20 * time.Millisecond, MaxRetries: 1, BaseDelay: time.Millisecond, Multiplier: 2},
	}, hang)

	res := exec.ExecuteOne(context.Background(), "hang", nil)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out after 20ms")
	assert.Equal(t, 2, res.Attempts)
	assert.EqualValues(t, 2, exec.Stats().Timeouts)
}

func TestCallerCancellationStopsRetries(t *testing.T) {
	hang := &toolstest.Func{Name: "hang", Fn: func(ctx context.Context, _ json.RawMessage) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	exec, _ := newExecutor(t, map[string]Policy{"hang": idempotentPolicy(5)}, hang)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	res := exec.ExecuteOne(ctx, "hang", nil)
	assert.False(t, res.Success)
	assert.Equal(t, 1, hang.Calls())
}

func TestSideEffectingCallInvalidatesCache(t *testing.T) {
	content := "v1"
	var mu sync.Mutex
	file := &toolstest.Func{
		Name: "file",
		IdempotentFn: func(args json.RawMessage) bool {
			var in struct{ Operation string }
			_ = json.Unmarshal(args, &in)
			return in.Operation == "read"
		},
		Fn: func(_ context.Context, args json.RawMessage) (any, error) {
			var in struct{ Operation, Content string }
			_ = json.Unmarshal(args, &in)
			mu.Lock()
			defer mu.Unlock()
			if in.Operation == "write" {
				content = in.Content
				return "written", nil
			}
			return content, nil
		},
	}
	exec, _ := newExecutor(t, map[string]Policy{"file": idempotentPolicy(2)}, file)
	ctx := context.Background()
	read := map[string]any{"Operation": "read"}

	assert.JSONEq(t, `"v1"`, string(exec.ExecuteOne(ctx, "file", read).Result))
	assert.True(t, exec.ExecuteOne(ctx, "file", read).Cached)

	w := exec.ExecuteOne(ctx, "file", map[string]any{"Operation": "write", "Content": "v2"})
	require.True(t, w.Success)
	assert.False(t, w.Cached)

	again := exec.ExecuteOne(ctx, "file", read)
	assert.False(t, again.Cached)
	assert.JSONEq(t, `"v2"`, string(again.Result))
	assert.Equal(t, 3, file.Calls())
}

type denyGate struct{ tool string }

func (g denyGate) Check(_ context.Context, tool string, _ map[string]any) error {
	if tool == g.tool {
		return &agenterr.PolicyError{Tool: tool, Reason: "disabled"}
	}
	return nil
}

func TestGateBlocksCalls(t *testing.T) {
	shell := &toolstest.Func{Name: "shell"}
	reg := toolstest.Registry(shell)
	exec := New(reg, Config{}, logger.NewNop(), WithGate(denyGate{tool: "shell"}))

	res := exec.ExecuteOne(context.Background(), "shell", map[string]any{"command": "ls"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "blocked by policy")
	assert.Equal(t, 0, shell.Calls())
	assert.EqualValues(t, 1, exec.Stats().Denied)
}

type artifactResult struct{ Path string }

func (r artifactResult) Artifacts() []model.Artifact {
	return []model.Artifact{{Path: r.Path, Size: 4, Type: "text/plain"}}
}

func TestArtifactsAreReported(t *testing.T) {
	writer := &toolstest.Func{Name: "writer", Fn: func(context.Context, json.RawMessage) (any, error) {
		return artifactResult{Path: "gold.txt"}, nil
	}}
	exec, _ := newExecutor(t, nil, writer)

	res := exec.ExecuteOne(context.Background(), "writer", nil)
	require.True(t, res.Success)
	require.Len(t, res.Artifacts, 1)
	assert.Equal(t, "gold.txt", res.Artifacts[0].Path)
}

func TestClearCache(t *testing.T) {
	a := &toolstest.Func{Name: "a"}
	b := &toolstest.Func{Name: "b"}
	exec, _ := newExecutor(t, map[string]Policy{"a": idempotentPolicy(1), "b": idempotentPolicy(1)}, a, b)
	ctx := context.Background()

	exec.ExecuteOne(ctx, "a", map[string]any{"x": 1})
	exec.ExecuteOne(ctx, "a", map[string]any{"x": 2})
	exec.ExecuteOne(ctx, "b", map[string]any{"x": 1})

	n, err := exec.ClearCache(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, exec.ExecuteOne(ctx, "b", map[string]any{"x": 1}).Cached)

	n, err = exec.ClearCache(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCacheKeyNormalization(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("numeric representation does not change the key", prop.ForAll(
		func(keys []string, values []int) bool {
			asInt := map[string]any{}
			asFloat := map[string]any{}
			for i, k := range keys {
				v := 0
				if i < len(values) {
					v = values[i]
				}
				asInt[k] = v
				asFloat[k] = float64(v)
			}
			k1, err1 := CacheKey("tool", asInt)
			k2, err2 := CacheKey("tool", asFloat)
			return err1 == nil && err2 == nil && k1 == k2
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.IntRange(-1000, 1000)),
	))

	properties.Property("tool name is part of the key", prop.ForAll(
		func(a, b string) bool {
			if a == b {
				return true
			}
			k1, _ := CacheKey(a, map[string]any{"q": 1})
			k2, _ := CacheKey(b, map[string]any{"q": 1})
			return k1 != k2
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)

	nested1, err := CacheKey("t", map[string]any{"b": []any{1, "x"}, "a": map[string]any{"z": true, "y": nil}})
	require.NoError(t, err)
	nested2, err := CacheKey("t", map[string]any{"a": map[string]any{"y": nil, "z": true}, "b": []any{1.0, "x"}})
	require.NoError(t, err)
	assert.Equal(t, nested1, nested2)
	assert.Regexp(t, `^t:[0-9a-f]{64}$`, nested1)

	empty, err := CacheKey("t", nil)
	require.NoError(t, err)
	emptyMap, err := CacheKey("t", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, empty, emptyMap)
}

func TestMemoryCacheExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a:1", Entry{Result: json.RawMessage(`1`)}, time.Minute))
	require.NoError(t, c.Set(ctx, "a:2", Entry{Result: json.RawMessage(`2`)}, time.Hour))
	require.NoError(t, c.Set(ctx, "b:1", Entry{Result: json.RawMessage(`3`)}, 0))
	assert.Equal(t, 2, c.Len(), "zero ttl is not stored")

	_, hit, err := c.Get(ctx, "a:1")
	require.NoError(t, err)
	assert.True(t, hit)

	now = now.Add(2 * time.Minute)
	_, hit, _ = c.Get(ctx, "a:1")
	assert.False(t, hit)
	assert.Equal(t, 1, c.Len(), "expired entry evicted on read")

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 0, c.Len())
}

func TestPolicyDelay(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 350 * time.Millisecond}
	var got []time.Duration
	for i := 1; i <= 4; i++ {
		got = append(got, p.Delay(i))
	}
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 350 * time.Millisecond, 350 * time.Millisecond}, got)
	assert.Zero(t, Policy{}.Delay(1))
}

func TestDefaultPoliciesClassifyCatalog(t *testing.T) {
	p := DefaultPolicies()
	assert.Zero(t, p[tools.ShellName].MaxRetries, "shell is never retried")
	for _, name := range []string{tools.WebSearchName, tools.WebScrapeName, tools.FileName, tools.TaskListName} {
		assert.Positive(t, p[name].MaxRetries, name)
	}
	assert.Less(t, p[tools.FileName].Timeout, p[tools.WebSearchName].Timeout)
	assert.Equal(t, DefaultPolicy, New(toolstest.Registry(), Config{}, logger.NewNop()).Policy("unknown"))
}

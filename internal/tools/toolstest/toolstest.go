// Package toolstest provides fake tools and backends for tests.
package toolstest

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/internal/tools"
)

// Func is a tool backed by a function. Calls are counted.
type Func struct {
	Name         string
	Description  string
	Params       map[string]any
	Fn           func(ctx context.Context, args json.RawMessage) (any, error)
	IdempotentFn func(args json.RawMessage) bool

	calls atomic.Int64
	mu    sync.Mutex
	args  []json.RawMessage
}

var (
	_ tools.Tool       = (*Func)(nil)
	_ tools.Classifier = (*Func)(nil)
)

func (f *Func) Spec() model.ToolSpec {
	params := f.Params
	if params == nil {
		params = map[string]any{"type": "object"}
	}
	return model.ToolSpec{Name: f.Name, Description: f.Description, Parameters: params}
}

func (f *Func) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.args = append(f.args, append(json.RawMessage(nil), args...))
	f.mu.Unlock()

	if f.Fn == nil {
		return map[string]any{"ok": true}, nil
	}
	return f.Fn(ctx, args)
}

func (f *Func) Idempotent(args json.RawMessage) bool {
	if f.IdempotentFn == nil {
		return true
	}
	return f.IdempotentFn(args)
}

// Calls returns how many times Execute ran.
func (f *Func) Calls() int {
	return int(f.calls.Load())
}

// Args returns the raw arguments of every call in order.
func (f *Func) Args() []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]json.RawMessage(nil), f.args...)
}

// Registry builds a registry or panics.
func Registry(ts ...tools.Tool) *tools.Registry {
	r, err := tools.NewRegistry(ts...)
	if err != nil {
		panic(err)
	}
	return r
}

// SearcherFunc adapts a function to tools.Searcher.
type SearcherFunc func(ctx context.Context, req tools.SearchRequest) tools.SearchResponse

func (f SearcherFunc) Search(ctx context.Context, req tools.SearchRequest) tools.SearchResponse {
	return f(ctx, req)
}

// ScraperFunc adapts a function to tools.Scraper.
type ScraperFunc func(ctx context.Context, req tools.ScrapeRequest) tools.ScrapeResponse

func (f ScraperFunc) Scrape(ctx context.Context, req tools.ScrapeRequest) tools.ScrapeResponse {
	return f(ctx, req)
}

// StaticSearcher returns one canned hit for every query.
func StaticSearcher(title, content string) SearcherFunc {
	return func(_ context.Context, req tools.SearchRequest) tools.SearchResponse {
		return tools.SearchResponse{
			Success: true,
			Query:   req.Query,
			Results: []tools.SearchHit{{Title: title, URL: "https://example.com", Content: content, Score: 0.9}},
		}
	}
}

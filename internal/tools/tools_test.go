package tools_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agent-platform/internal/agenterr"
	"github.com/capitalize-ai/agent-platform/internal/tools"
	"github.com/capitalize-ai/agent-platform/internal/tools/toolstest"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

func newSandbox(t *testing.T) *tools.LocalSandbox {
	t.Helper()
	sb, err := tools.NewLocalSandbox(t.TempDir(), logger.NewNop())
	require.NoError(t, err)
	return sb
}

func newCatalog(t *testing.T) (*tools.Registry, *tools.LocalSandbox) {
	t.Helper()
	sb := newSandbox(t)
	reg, err := tools.NewCatalog(tools.Backends{
		Sandbox:  sb,
		Searcher: toolstest.StaticSearcher("Gold price", "Gold trades at $2,400/oz"),
		Scraper: toolstest.ScraperFunc(func(_ context.Context, req tools.ScrapeRequest) tools.ScrapeResponse {
			return tools.ScrapeResponse{Success: true, URL: req.URL, Content: "page"}
		}),
	})
	require.NoError(t, err)
	return reg, sb
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestCatalogSpecs(t *testing.T) {
	reg, _ := newCatalog(t)

	assert.Equal(t, []string{"web_search", "web_scrape", "file", "shell", "task_list"}, reg.Names())

	for _, spec := range reg.Specs() {
		assert.NotEmpty(t, spec.Description, spec.Name)
		assert.Equal(t, "object", spec.Parameters["type"], spec.Name)
		assert.NotContains(t, spec.Parameters, "$schema", spec.Name)
	}

	file, ok := reg.Get("file")
	require.True(t, ok)
	params := file.Spec().Parameters
	assert.ElementsMatch(t, []any{"operation"}, params["required"])
	props := params["properties"].(map[string]any)
	assert.Contains(t, props, "path")
	assert.Contains(t, props, "content")
	op := props["operation"].(map[string]any)
	assert.ElementsMatch(t, []any{"read", "write", "list"}, op["enum"])
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := tools.NewRegistry(&toolstest.Func{Name: "x"}, &toolstest.Func{Name: "x"})
	assert.Error(t, err)
}

func TestRegistryValidate(t *testing.T) {
	reg, _ := newCatalog(t)

	cases := []struct {
		name string
		tool string
		args string
		ok   bool
	}{
		{"valid search", "web_search", `{"query":"gold price"}`, true},
		{"missing query", "web_search", `{}`, false},
		{"num_results out of range", "web_search", `{"query":"q","num_results":500}`, false},
		{"bad depth", "web_search", `{"query":"q","search_depth":"deep"}`, false},
		{"unknown field", "web_search", `{"query":"q","foo":1}`, false},
		{"bad file operation", "file", `{"operation":"delete","path":"a"}`, false},
		{"file write", "file", `{"operation":"write","path":"a.txt","content":"x"}`, true},
		{"wrong type", "shell", `{"action":"list_sessions","timeout":"soon"}`, false},
		{"not an object", "task_list", `["view_tasks"]`, false},
		{"unknown tool", "browser", `{}`, false},
		{"empty args default to object", "shell", ``, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := reg.Validate(tc.tool, json.RawMessage(tc.args))
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verr *agenterr.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestFileToolWriteReadList(t *testing.T) {
	reg, _ := newCatalog(t)
	file, _ := reg.Get("file")
	ctx := context.Background()

	out, err := file.Execute(ctx, raw(t, map[string]any{"operation": "write", "path": "reports/gold.txt", "content": "2400"}))
	require.NoError(t, err)
	producer, ok := out.(tools.ArtifactProducer)
	require.True(t, ok)
	arts := producer.Artifacts()
	require.Len(t, arts, 1)
	assert.Equal(t, "reports/gold.txt", arts[0].Path)
	assert.EqualValues(t, 4, arts[0].Size)
	assert.Equal(t, "text/plain", arts[0].Type)

	out, err = file.Execute(ctx, raw(t, map[string]any{"operation": "read", "path": "/workspace/reports/gold.txt"}))
	require.NoError(t, err)
	assert.Equal(t, "2400", out.(tools.FileResult).Content)

	out, err = file.Execute(ctx, raw(t, map[string]any{"operation": "list", "recursive": true}))
	require.NoError(t, err)
	listing := out.(tools.ListResult)
	require.Len(t, listing.Files, 2)
	assert.Equal(t, "reports", listing.Files[0].Name)
	assert.True(t, listing.Files[0].IsDirectory)
	assert.Equal(t, "reports/gold.txt", listing.Files[1].Name)
}

func TestFileToolErrors(t *testing.T) {
	reg, _ := newCatalog(t)
	file, _ := reg.Get("file")
	ctx := context.Background()

	_, err := file.Execute(ctx, raw(t, map[string]any{"operation": "read", "path": "../etc/passwd"}))
	assert.ErrorIs(t, err, agenterr.ErrValidation)

	_, err = file.Execute(ctx, raw(t, map[string]any{"operation": "write", "path": "a.txt"}))
	assert.ErrorIs(t, err, agenterr.ErrValidation)

	_, err = file.Execute(ctx, raw(t, map[string]any{"operation": "read", "path": "missing.txt"}))
	assert.ErrorIs(t, err, agenterr.ErrExecution)
	assert.Contains(t, err.Error(), "file not found")
}

func TestFileToolClassifier(t *testing.T) {
	reg, _ := newCatalog(t)
	file, _ := reg.Get("file")
	c, ok := file.(tools.Classifier)
	require.True(t, ok)

	assert.True(t, c.Idempotent(json.RawMessage(`{"operation":"read","path":"a"}`)))
	assert.True(t, c.Idempotent(json.RawMessage(`{"operation":"list"}`)))
	assert.False(t, c.Idempotent(json.RawMessage(`{"operation":"write","path":"a","content":""}`)))
	assert.False(t, c.Idempotent(json.RawMessage(`not json`)))
}

func TestShellSessions(t *testing.T) {
	reg, _ := newCatalog(t)
	shell, _ := reg.Get("shell")
	ctx := context.Background()

	_, err := shell.Execute(ctx, raw(t, map[string]any{"action": "execute_command", "session_id": "s1", "command": "echo hi"}))
	assert.ErrorIs(t, err, agenterr.ErrValidation, "unknown session")

	_, err = shell.Execute(ctx, raw(t, map[string]any{"action": "create_session", "session_id": "s1", "workdir": "proj"}))
	require.NoError(t, err)

	_, err = shell.Execute(ctx, raw(t, map[string]any{"action": "create_session", "session_id": "s1"}))
	assert.ErrorIs(t, err, agenterr.ErrValidation, "duplicate session")

	out, err := shell.Execute(ctx, raw(t, map[string]any{"action": "execute_command", "session_id": "s1", "command": "echo hi > f.txt && pwd && cat f.txt"}))
	require.NoError(t, err)
	res := out.(tools.CommandOutput)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Stdout, "proj")
	assert.Contains(t, res.Stdout, "hi")

	_, err = shell.Execute(ctx, raw(t, map[string]any{"action": "execute_command", "session_id": "s1", "command": "echo oops >&2; exit 3"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, agenterr.ErrExecution)
	assert.Contains(t, err.Error(), "code 3")
	assert.Contains(t, err.Error(), "oops")

	out, err = shell.Execute(ctx, raw(t, map[string]any{"action": "list_sessions"}))
	require.NoError(t, err)
	sessions := out.(map[string]any)["sessions"].([]tools.SessionInfo)
	require.Len(t, sessions, 1)
	assert.Equal(t, 2, sessions[0].Commands)

	_, err = shell.Execute(ctx, raw(t, map[string]any{"action": "destroy_session", "session_id": "s1"}))
	require.NoError(t, err)
	_, err = shell.Execute(ctx, raw(t, map[string]any{"action": "destroy_session", "session_id": "s1"}))
	assert.ErrorIs(t, err, agenterr.ErrValidation)
}

func TestShellIsNeverClassifiedIdempotent(t *testing.T) {
	reg, _ := newCatalog(t)
	shell, _ := reg.Get("shell")
	_, ok := shell.(tools.Classifier)
	assert.False(t, ok)
}

func TestTaskList(t *testing.T) {
	tl := tools.NewTaskList()
	ctx := context.Background()

	assert.True(t, tl.Idempotent(json.RawMessage(`{"action":"view_tasks"}`)))
	assert.False(t, tl.Idempotent(json.RawMessage(`{"action":"create_tasks"}`)))

	_, err := tl.Execute(ctx, raw(t, map[string]any{"action": "create_tasks", "tasks": []any{map[string]any{"title": "a"}}}))
	assert.ErrorIs(t, err, agenterr.ErrValidation, "section required")

	out, err := tl.Execute(ctx, raw(t, map[string]any{
		"action":     "create_tasks",
		"session_id": "s1",
		"section":    "Research",
		"tasks": []any{
			map[string]any{"title": "Find gold price", "priority": "high"},
			map[string]any{"title": "Save report"},
		},
	}))
	require.NoError(t, err)
	view := out.(tools.TaskBoardView)
	require.Len(t, view.Changed, 2)
	assert.Equal(t, 2, view.Summary.Pending)
	assert.Equal(t, "high", view.Sections[0].Tasks[0].Priority)
	assert.Equal(t, "medium", view.Sections[0].Tasks[1].Priority)

	out, err = tl.Execute(ctx, raw(t, map[string]any{
		"action":     "update_tasks",
		"session_id": "s1",
		"tasks":      []any{map[string]any{"id": view.Changed[0], "status": "completed"}},
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, out.(tools.TaskBoardView).Summary.Completed)

	_, err = tl.Execute(ctx, raw(t, map[string]any{
		"action":     "update_tasks",
		"session_id": "s1",
		"tasks":      []any{map[string]any{"id": "task_missing", "status": "completed"}},
	}))
	assert.ErrorIs(t, err, agenterr.ErrValidation)

	out, err = tl.Execute(ctx, raw(t, map[string]any{
		"action":     "delete_tasks",
		"session_id": "s1",
		"tasks":      []any{map[string]any{"id": view.Changed[1]}},
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, out.(tools.TaskBoardView).Summary.Total)

	out, err = tl.Execute(ctx, raw(t, map[string]any{"action": "view_tasks"}))
	require.NoError(t, err)
	assert.Equal(t, 0, out.(tools.TaskBoardView).Summary.Total, "boards are per session")

	out, err = tl.Execute(ctx, raw(t, map[string]any{"action": "clear_all", "session_id": "s1"}))
	require.NoError(t, err)
	assert.Empty(t, out.(tools.TaskBoardView).Sections)
}

func TestWebSearchTool(t *testing.T) {
	var got tools.SearchRequest
	search := tools.NewWebSearch(toolstest.SearcherFunc(func(_ context.Context, req tools.SearchRequest) tools.SearchResponse {
		got = req
		if req.Query == "fail" {
			return tools.SearchResponse{Error: "quota exceeded"}
		}
		return tools.SearchResponse{Success: true, Query: req.Query}
	}))

	_, err := search.Execute(context.Background(), raw(t, map[string]any{"query": "gold price", "search_domain": []string{"kitco.com"}}))
	require.NoError(t, err)
	assert.Equal(t, "advanced", got.SearchDepth)
	assert.Equal(t, 10, got.MaxResults)
	assert.True(t, got.IncludeAnswer)
	assert.Equal(t, []string{"kitco.com"}, got.Domains)

	_, err = search.Execute(context.Background(), raw(t, map[string]any{"query": "fail"}))
	assert.ErrorIs(t, err, agenterr.ErrExecution)
	assert.Contains(t, err.Error(), "quota exceeded")

	_, err = search.Execute(context.Background(), raw(t, map[string]any{"query": "   "}))
	assert.ErrorIs(t, err, agenterr.ErrValidation)
}

func TestWebScrapeTool(t *testing.T) {
	scrape := tools.NewWebScrape(toolstest.ScraperFunc(func(_ context.Context, req tools.ScrapeRequest) tools.ScrapeResponse {
		return tools.ScrapeResponse{Success: true, URL: req.URL, Content: strings.Join(req.Formats, ",")}
	}))

	out, err := scrape.Execute(context.Background(), raw(t, map[string]any{"url": "https://example.com/a"}))
	require.NoError(t, err)
	assert.Equal(t, "markdown", out.(tools.ScrapeResponse).Content)

	_, err = scrape.Execute(context.Background(), raw(t, map[string]any{"url": "ftp://example.com"}))
	assert.ErrorIs(t, err, agenterr.ErrValidation)

	_, err = scrape.Execute(context.Background(), raw(t, map[string]any{"url": "https://example.com", "formats": []string{"pdf"}}))
	assert.ErrorIs(t, err, agenterr.ErrValidation)
}

func TestTavilySearcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["query"] == "nothing" {
			_, _ = io.WriteString(w, `{"results":[]}`)
			return
		}
		if body["query"] == "boom" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "advanced", body["search_depth"])
		_, _ = io.WriteString(w, `{"answer":"about $2400","results":[{"title":"Gold","url":"https://kitco.com","content":"spot","score":0.8}]}`)
	}))
	defer srv.Close()

	s := tools.NewTavilySearcher("key", srv.URL, logger.NewNop())
	ctx := context.Background()

	resp := s.Search(ctx, tools.SearchRequest{Query: "gold", SearchDepth: "advanced", MaxResults: 5})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "about $2400", resp.Answer)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "https://kitco.com", resp.Results[0].URL)

	resp = s.Search(ctx, tools.SearchRequest{Query: "nothing"})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "no results")

	resp = s.Search(ctx, tools.SearchRequest{Query: "boom"})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "502")

	resp = tools.NewTavilySearcher("", srv.URL, logger.NewNop()).Search(ctx, tools.SearchRequest{Query: "gold"})
	assert.False(t, resp.Success)
}

func TestFirecrawlScraper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/scrape", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["onlyMainContent"])
		_, _ = io.WriteString(w, `{"success":true,"data":{"markdown":"# Gold\n\nspot price","html":"<h1>Gold</h1>","metadata":{"title":"Gold","statusCode":200}}}`)
	}))
	defer srv.Close()

	s := tools.NewFirecrawlScraper("key", srv.URL, logger.NewNop())
	resp := s.Scrape(context.Background(), tools.ScrapeRequest{URL: "https://kitco.com", OnlyMainContent: true, MaxLength: 6})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "Gold", resp.Title)
	assert.Equal(t, "# Gold", resp.Content)
	assert.Empty(t, resp.HTML)
}

func TestReadabilityScraper(t *testing.T) {
	page := `<html><head><title>Gold Report</title></head><body>
<nav>Home | About</nav>
<article><h1>Gold Report</h1>
<p>Gold prices climbed today as investors looked for safety amid volatile markets. Spot gold traded near record highs during the session.</p>
<p>Analysts expect continued demand from central banks through the rest of the year, keeping prices well supported.</p>
</article></body></html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, page)
	}))
	defer srv.Close()

	s := tools.NewReadabilityScraper(logger.NewNop())
	ctx := context.Background()

	resp := s.Scrape(ctx, tools.ScrapeRequest{URL: srv.URL + "/report", OnlyMainContent: true})
	require.True(t, resp.Success, resp.Error)
	assert.Contains(t, resp.Content, "Gold prices climbed today")

	resp = s.Scrape(ctx, tools.ScrapeRequest{URL: srv.URL + "/report", OnlyMainContent: false, Formats: []string{"markdown", "html"}})
	require.True(t, resp.Success, resp.Error)
	assert.Contains(t, resp.Content, "central banks")
	assert.Contains(t, resp.HTML, "<article>")

	resp = s.Scrape(ctx, tools.ScrapeRequest{URL: srv.URL + "/missing"})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "404")
}

package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/capitalize-ai/agent-platform/internal/agenterr"
	"github.com/capitalize-ai/agent-platform/internal/model"
)

// WebSearchName is the catalog name of the search tool.
const WebSearchName = "web_search"

type webSearchArgs struct {
	Query         string   `json:"query" jsonschema:"minLength=1" jsonschema_description:"The search query"`
	NumResults    int      `json:"num_results,omitempty" jsonschema:"minimum=1,maximum=50,default=10" jsonschema_description:"Number of results to return"`
	SearchDepth   string   `json:"search_depth,omitempty" jsonschema:"enum=basic,enum=advanced,default=advanced" jsonschema_description:"Search depth"`
	IncludeAnswer *bool    `json:"include_answer,omitempty" jsonschema_description:"Include a generated answer summarizing the results"`
	SearchDomain  []string `json:"search_domain,omitempty" jsonschema_description:"Restrict results to these domains"`
}

// WebSearch searches the web through a Searcher backend.
type WebSearch struct {
	backend Searcher
	spec    model.ToolSpec
}

// NewWebSearch creates the web_search tool.
func NewWebSearch(backend Searcher) *WebSearch {
	return &WebSearch{
		backend: backend,
		spec: newSpec[webSearchArgs](WebSearchName,
			"Search the web for current information. Returns titles, URLs, content snippets and an optional answer."),
	}
}

func (t *WebSearch) Spec() model.ToolSpec { return t.spec }

func (t *WebSearch) Execute(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[webSearchArgs](WebSearchName, raw)
	if err != nil {
		return nil, agenterr.Invalid(WebSearchName, "%v", err)
	}
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return nil, agenterr.Invalid(WebSearchName, "query is required")
	}

	req := SearchRequest{
		Query:         query,
		SearchDepth:   args.SearchDepth,
		MaxResults:    args.NumResults,
		IncludeAnswer: true,
		Domains:       args.SearchDomain,
	}
	if req.SearchDepth == "" {
		req.SearchDepth = "advanced"
	}
	if req.MaxResults == 0 {
		req.MaxResults = 10
	}
	if args.IncludeAnswer != nil {
		req.IncludeAnswer = *args.IncludeAnswer
	}

	resp := t.backend.Search(ctx, req)
	if !resp.Success {
		return nil, &agenterr.ExecutionError{Tool: WebSearchName, Err: backendError(resp.Error)}
	}
	return resp, nil
}

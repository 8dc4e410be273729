package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

const defaultTavilyURL = "https://api.tavily.com"

// TavilySearcher implements Searcher on the Tavily search API.
type TavilySearcher struct {
	apiKey  string
	baseURL string
	client  *http.Client
	log     *logger.Logger
}

// NewTavilySearcher creates a searcher. baseURL may be empty.
func NewTavilySearcher(apiKey, baseURL string, log *logger.Logger) *TavilySearcher {
	if baseURL == "" {
		baseURL = defaultTavilyURL
	}
	return &TavilySearcher{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

type tavilyRequest struct {
	APIKey         string   `json:"api_key"`
	Query          string   `json:"query"`
	SearchDepth    string   `json:"search_depth"`
	MaxResults     int      `json:"max_results"`
	IncludeAnswer  bool     `json:"include_answer"`
	IncludeDomains []string `json:"include_domains,omitempty"`
}

type tavilyResponse struct {
	Answer  string      `json:"answer"`
	Results []SearchHit `json:"results"`
}

// Search performs one search request.
func (s *TavilySearcher) Search(ctx context.Context, req SearchRequest) SearchResponse {
	fail := func(format string, args ...any) SearchResponse {
		msg := fmt.Sprintf(format, args...)
		s.log.Warn("tavily search failed", zap.String("query", req.Query), zap.String("error", msg))
		return SearchResponse{Query: req.Query, Results: []SearchHit{}, Error: msg}
	}

	if s.apiKey == "" {
		return fail("search API key not configured")
	}

	body, err := json.Marshal(tavilyRequest{
		APIKey:         s.apiKey,
		Query:          req.Query,
		SearchDepth:    req.SearchDepth,
		MaxResults:     req.MaxResults,
		IncludeAnswer:  req.IncludeAnswer,
		IncludeDomains: req.Domains,
	})
	if err != nil {
		return fail("failed to encode request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return fail("failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fail("search request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fail("failed to read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fail("search API error: %s", resp.Status)
	}

	var parsed tavilyResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fail("failed to parse response: %v", err)
	}

	if len(parsed.Results) == 0 && parsed.Answer == "" {
		return fail("no results found for query: %q", req.Query)
	}

	s.log.Debug("tavily search completed",
		zap.String("query", req.Query),
		zap.Int("results", len(parsed.Results)),
	)
	return SearchResponse{
		Success: true,
		Query:   req.Query,
		Results: parsed.Results,
		Answer:  parsed.Answer,
	}
}

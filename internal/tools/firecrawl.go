package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

const defaultFirecrawlURL = "https://api.firecrawl.dev"

// FirecrawlScraper implements Scraper on the Firecrawl scrape API.
type FirecrawlScraper struct {
	apiKey  string
	baseURL string
	client  *http.Client
	log     *logger.Logger
}

// NewFirecrawlScraper creates a scraper. baseURL may be empty.
func NewFirecrawlScraper(apiKey, baseURL string, log *logger.Logger) *FirecrawlScraper {
	if baseURL == "" {
		baseURL = defaultFirecrawlURL
	}
	return &FirecrawlScraper{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

type firecrawlRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
}

type firecrawlResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		Markdown string         `json:"markdown"`
		HTML     string         `json:"html"`
		Metadata map[string]any `json:"metadata"`
	} `json:"data"`
}

// Scrape fetches one page through Firecrawl.
func (s *FirecrawlScraper) Scrape(ctx context.Context, req ScrapeRequest) ScrapeResponse {
	fail := func(format string, args ...any) ScrapeResponse {
		msg := fmt.Sprintf(format, args...)
		s.log.Warn("firecrawl scrape failed", zap.String("url", req.URL), zap.String("error", msg))
		return ScrapeResponse{URL: req.URL, Error: msg}
	}

	formats := req.Formats
	if len(formats) == 0 {
		formats = []string{"markdown"}
	}
	body, err := json.Marshal(firecrawlRequest{URL: req.URL, Formats: formats, OnlyMainContent: req.OnlyMainContent})
	if err != nil {
		return fail("failed to encode request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/scrape", bytes.NewReader(body))
	if err != nil {
		return fail("failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fail("scrape request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fail("failed to read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fail("scrape API error: %s", resp.Status)
	}

	var parsed firecrawlResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fail("failed to parse response: %v", err)
	}
	if !parsed.Success && parsed.Error != "" {
		return fail("%s", parsed.Error)
	}

	meta := make(map[string]string, len(parsed.Data.Metadata))
	for k, v := range parsed.Data.Metadata {
		if str, ok := v.(string); ok {
			meta[k] = str
		}
	}

	out := ScrapeResponse{
		Success:  true,
		URL:      req.URL,
		Title:    meta["title"],
		Content:  truncate(parsed.Data.Markdown, req.MaxLength),
		Metadata: meta,
	}
	if slices.Contains(formats, "html") {
		out.HTML = truncate(parsed.Data.HTML, req.MaxLength)
	}

	s.log.Debug("firecrawl scrape completed", zap.String("url", req.URL), zap.Int("content_length", len(out.Content)))
	return out
}

package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	htmltomd "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

// ReadabilityScraper implements Scraper by fetching pages directly. Main
// content is extracted with readability; full pages are converted to markdown.
type ReadabilityScraper struct {
	client *http.Client
	log    *logger.Logger
}

// NewReadabilityScraper creates a direct-fetch scraper.
func NewReadabilityScraper(log *logger.Logger) *ReadabilityScraper {
	return &ReadabilityScraper{
		client: &http.Client{Timeout: 20 * time.Second},
		log:    log,
	}
}

// Scrape fetches req.URL and extracts its content.
func (s *ReadabilityScraper) Scrape(ctx context.Context, req ScrapeRequest) ScrapeResponse {
	fail := func(format string, args ...any) ScrapeResponse {
		msg := fmt.Sprintf(format, args...)
		s.log.Warn("page fetch failed", zap.String("url", req.URL), zap.String("error", msg))
		return ScrapeResponse{URL: req.URL, Error: msg}
	}

	parsedURL, err := url.Parse(req.URL)
	if err != nil || (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") {
		return fail("invalid URL: %s", req.URL)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return fail("failed to create request: %v", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fail("failed to fetch URL: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fail("HTTP error: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fail("failed to read response: %v", err)
	}
	page := string(body)

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "application/xhtml") {
		return ScrapeResponse{
			Success:  true,
			URL:      req.URL,
			Content:  truncate(page, req.MaxLength),
			Metadata: map[string]string{"content_type": contentType},
		}
	}

	article, err := readability.FromReader(strings.NewReader(page), parsedURL)
	if err != nil {
		return fail("failed to parse page: %v", err)
	}

	meta := map[string]string{"content_type": contentType}
	if article.Byline != "" {
		meta["author"] = article.Byline
	}
	if article.SiteName != "" {
		meta["site_name"] = article.SiteName
	}
	if article.Title != "" {
		meta["title"] = article.Title
	}

	content := strings.TrimSpace(article.TextContent)
	if !req.OnlyMainContent || content == "" {
		markdown, mdErr := htmltomd.ConvertString(page)
		if mdErr != nil {
			s.log.Warn("markdown conversion failed", zap.String("url", req.URL), zap.Error(mdErr))
		} else {
			content = markdown
		}
	}

	out := ScrapeResponse{
		Success:  true,
		URL:      req.URL,
		Title:    article.Title,
		Content:  truncate(content, req.MaxLength),
		Metadata: meta,
	}
	if slices.Contains(req.Formats, "html") {
		out.HTML = truncate(page, req.MaxLength)
	}

	s.log.Debug("page fetch completed", zap.String("url", req.URL), zap.Int("content_length", len(out.Content)))
	return out
}

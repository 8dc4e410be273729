package tools

import (
	"context"
	"time"
	"unicode/utf8"
)

// Backend contracts. Implementations report operational failures through
// the Success and Error fields instead of returning Go errors.

// CommandResult is the outcome of a sandboxed command.
type CommandResult struct {
	Success  bool   `json:"success"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

// FileResult is the outcome of a sandbox read or write.
type FileResult struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Size    int64  `json:"size"`
	Error   string `json:"error,omitempty"`
}

// FileInfo describes one entry of a directory listing.
type FileInfo struct {
	Name        string `json:"name"`
	IsDirectory bool   `json:"is_directory"`
	Size        int64  `json:"size"`
}

// ListResult is the outcome of a sandbox directory listing.
type ListResult struct {
	Success bool       `json:"success"`
	Path    string     `json:"path"`
	Files   []FileInfo `json:"files"`
	Error   string     `json:"error,omitempty"`
}

// Sandbox is the isolated environment where file and shell side effects happen.
type Sandbox interface {
	ExecuteCommand(ctx context.Context, workDir, command string, timeout time.Duration) CommandResult
	ReadFile(ctx context.Context, path string) FileResult
	WriteFile(ctx context.Context, path, content string) FileResult
	ListFiles(ctx context.Context, dir string, recursive bool) ListResult
}

// SearchRequest is a web search query.
type SearchRequest struct {
	Query         string   `json:"query"`
	SearchDepth   string   `json:"search_depth"`
	MaxResults    int      `json:"max_results"`
	IncludeAnswer bool     `json:"include_answer"`
	Domains       []string `json:"include_domains,omitempty"`
}

// SearchHit is one web search result.
type SearchHit struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// SearchResponse is the outcome of a web search.
type SearchResponse struct {
	Success bool        `json:"success"`
	Query   string      `json:"query"`
	Results []SearchHit `json:"results"`
	Answer  string      `json:"answer,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Searcher runs web searches.
type Searcher interface {
	Search(ctx context.Context, req SearchRequest) SearchResponse
}

// ScrapeRequest asks for the content of one page.
type ScrapeRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"only_main_content"`
	MaxLength       int      `json:"max_length"`
}

// ScrapeResponse is the extracted content of a page.
type ScrapeResponse struct {
	Success  bool              `json:"success"`
	URL      string            `json:"url"`
	Title    string            `json:"title,omitempty"`
	Content  string            `json:"content,omitempty"`
	HTML     string            `json:"html,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Scraper fetches and extracts web pages.
type Scraper interface {
	Scrape(ctx context.Context, req ScrapeRequest) ScrapeResponse
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

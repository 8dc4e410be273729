package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"

	"github.com/capitalize-ai/agent-platform/internal/agenterr"
	"github.com/capitalize-ai/agent-platform/internal/model"
)

// WebScrapeName is the catalog name of the scrape tool.
const WebScrapeName = "web_scrape"

type webScrapeArgs struct {
	URL             string   `json:"url" jsonschema:"format=uri" jsonschema_description:"The page to scrape"`
	Formats         []string `json:"formats,omitempty" jsonschema_description:"Output formats: markdown and/or html"`
	OnlyMainContent *bool    `json:"only_main_content,omitempty" jsonschema_description:"Strip navigation, headers and footers"`
	MaxLength       int      `json:"max_length,omitempty" jsonschema:"minimum=100,maximum=100000,default=4000" jsonschema_description:"Maximum characters of content to return"`
}

// WebScrape extracts page content through a Scraper backend.
type WebScrape struct {
	backend Scraper
	spec    model.ToolSpec
}

// NewWebScrape creates the web_scrape tool.
func NewWebScrape(backend Scraper) *WebScrape {
	return &WebScrape{
		backend: backend,
		spec: newSpec[webScrapeArgs](WebScrapeName,
			"Fetch a web page and extract its readable content as markdown."),
	}
}

func (t *WebScrape) Spec() model.ToolSpec { return t.spec }

func (t *WebScrape) Execute(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[webScrapeArgs](WebScrapeName, raw)
	if err != nil {
		return nil, agenterr.Invalid(WebScrapeName, "%v", err)
	}
	u, err := url.Parse(args.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, agenterr.Invalid(WebScrapeName, "a valid http(s) URL is required")
	}
	for _, f := range args.Formats {
		if f != "markdown" && f != "html" {
			return nil, agenterr.Invalid(WebScrapeName, "unsupported format %q", f)
		}
	}

	req := ScrapeRequest{
		URL:             u.String(),
		Formats:         args.Formats,
		OnlyMainContent: true,
		MaxLength:       args.MaxLength,
	}
	if len(req.Formats) == 0 {
		req.Formats = []string{"markdown"}
	}
	if args.OnlyMainContent != nil {
		req.OnlyMainContent = *args.OnlyMainContent
	}
	if req.MaxLength == 0 {
		req.MaxLength = 4000
	}

	resp := t.backend.Scrape(ctx, req)
	if !resp.Success {
		return nil, &agenterr.ExecutionError{Tool: WebScrapeName, Err: backendError(resp.Error)}
	}
	return resp, nil
}

func backendError(msg string) error {
	if msg == "" {
		msg = "backend reported failure"
	}
	return errors.New(msg)
}

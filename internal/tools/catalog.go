package tools

// Backends are the external collaborators the catalog is built on.
type Backends struct {
	Sandbox  Sandbox
	Searcher Searcher
	Scraper  Scraper
	Sessions *SessionRegistry
}

// NewCatalog builds the registry holding the standard tool catalog.
func NewCatalog(b Backends) (*Registry, error) {
	sessions := b.Sessions
	if sessions == nil {
		sessions = NewSessionRegistry()
	}
	return NewRegistry(
		NewWebSearch(b.Searcher),
		NewWebScrape(b.Scraper),
		NewFileTool(b.Sandbox),
		NewShellTool(b.Sandbox, sessions),
		NewTaskList(),
	)
}

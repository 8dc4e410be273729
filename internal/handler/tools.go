package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/internal/executor"
	"github.com/capitalize-ai/agent-platform/internal/orchestrator"
	"github.com/capitalize-ai/agent-platform/internal/tools"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

// ExecuteToolRequest is the body of POST /api/v1/tools/execute.
type ExecuteToolRequest struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolHandler exposes the tool catalog and direct execution.
type ToolHandler struct {
	executor *executor.Executor
	logger   *logger.Logger
}

// NewToolHandler creates a new tool handler.
func NewToolHandler(exec *executor.Executor, log *logger.Logger) *ToolHandler {
	return &ToolHandler{executor: exec, logger: log}
}

// List handles GET /api/v1/tools
func (h *ToolHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": h.executor.Specs()})
}

// Execute handles POST /api/v1/tools/execute
// Tool failures are reported in the result body with status 200.
func (h *ToolHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteToolRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if _, ok := h.executor.Registry().Get(req.Name); !ok {
		writeError(w, http.StatusNotFound, "unknown tool: "+req.Name)
		return
	}
	if req.Args == nil {
		req.Args = map[string]any{}
	}

	writeJSON(w, http.StatusOK, h.executor.ExecuteOne(r.Context(), req.Name, req.Args))
}

// ClearCache handles DELETE /api/v1/tools/cache
// ?tool=name limits clearing to one tool.
func (h *ToolHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	tool := r.URL.Query().Get("tool")
	n, err := h.executor.ClearCache(r.Context(), tool)
	if err != nil {
		h.logger.Error("failed to clear tool cache", zap.String("tool", tool), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to clear cache")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tool": tool, "cleared": n})
}

// StatsHandler reports runtime counters.
type StatsHandler struct {
	executor     *executor.Executor
	orchestrator *orchestrator.Orchestrator
	sessions     *tools.SessionRegistry
	hub          *Hub
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(exec *executor.Executor, orch *orchestrator.Orchestrator, sessions *tools.SessionRegistry, hub *Hub) *StatsHandler {
	return &StatsHandler{executor: exec, orchestrator: orch, sessions: sessions, hub: hub}
}

// Stats handles GET /api/v1/stats
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tools":          h.executor.Stats(),
		"orchestrator":   h.orchestrator.Stats(),
		"shell_sessions": h.sessions.Len(),
		"websocket": map[string]int{
			"connections": h.hub.ConnectionCount(),
			"threads":     h.hub.ThreadCount(),
		},
		"timestamp": time.Now().UTC(),
	})
}

package handler

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/internal/middleware"
	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/internal/service"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
	"github.com/capitalize-ai/agent-platform/pkg/metrics"
)

// ChatHandler runs agent turns over SSE and generates thread titles.
type ChatHandler struct {
	threads *service.ThreadService
	chat    *service.ChatService
	logger  *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(threads *service.ThreadService, chat *service.ChatService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		threads: threads,
		chat:    chat,
		logger:  log,
	}
}

// Stream handles POST /api/v1/threads/{id}/stream
// It runs one turn and streams every event, then a done event.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	thread, ok := lookupThread(w, r, h.threads)
	if !ok {
		return
	}

	var req model.SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		return
	}

	metrics.IncrementConnections("sse")
	defer metrics.DecrementConnections("sse")

	ctx := r.Context()
	count := 0
	for ev := range h.chat.RunTurn(ctx, thread, req.Content) {
		if err := sse.send(string(ev.Type), ev); err != nil {
			logger.FromContext(ctx).Info("SSE client disconnected", zap.String("thread_id", thread.ID), zap.Error(err))
			return
		}
		count++
	}
	if ctx.Err() != nil {
		return
	}

	sse.send("done", map[string]any{"thread_id": thread.ID, "events": count})
}

// Title handles POST /api/v1/chat/title
func (h *ChatHandler) Title(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.TitleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	title, err := h.chat.GenerateTitle(ctx, req.Content)
	if err != nil {
		h.logger.Warn("failed to generate title", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to generate title")
		return
	}

	resp := model.TitleResponse{Title: title, ThreadID: req.ThreadID}
	if threadID := strings.TrimSpace(req.ThreadID); threadID != "" {
		if err := middleware.ValidateThreadID(threadID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if _, err := h.threads.Update(ctx, middleware.GetTenantID(ctx), middleware.GetUserID(ctx), threadID, &model.UpdateThreadRequest{Title: title}); err != nil {
			writeServiceError(w, err, "failed to rename thread")
			return
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

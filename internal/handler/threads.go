// Package handler provides HTTP, SSE and WebSocket handlers for the API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/internal/middleware"
	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/internal/service"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

// ThreadHandler handles thread endpoints.
type ThreadHandler struct {
	service *service.ThreadService
	logger  *logger.Logger
}

// NewThreadHandler creates a new thread handler.
func NewThreadHandler(svc *service.ThreadService, log *logger.Logger) *ThreadHandler {
	return &ThreadHandler{
		service: svc,
		logger:  log,
	}
}

// Create handles POST /api/v1/threads
func (h *ThreadHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	userID := middleware.GetUserID(ctx)

	var req model.CreateThreadRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	thread, err := h.service.Create(ctx, tenantID, userID, &req)
	if err != nil {
		h.logger.Error("failed to create thread", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create thread")
		return
	}

	writeJSON(w, http.StatusCreated, thread)
}

// List handles GET /api/v1/threads
func (h *ThreadHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := h.service.List(ctx,
		middleware.GetTenantID(ctx),
		middleware.GetUserID(ctx),
		queryInt(r, "limit", 20),
		queryInt(r, "offset", 0),
	)
	if err != nil {
		h.logger.Error("failed to list threads", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list threads")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/threads/{id}
func (h *ThreadHandler) Get(w http.ResponseWriter, r *http.Request) {
	thread, ok := h.thread(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

// Update handles PUT /api/v1/threads/{id}
func (h *ThreadHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	threadID := chi.URLParam(r, "id")
	if err := middleware.ValidateThreadID(threadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.UpdateThreadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	thread, err := h.service.Update(ctx, middleware.GetTenantID(ctx), middleware.GetUserID(ctx), threadID, &req)
	if err != nil {
		writeServiceError(w, err, "failed to update thread")
		return
	}

	writeJSON(w, http.StatusOK, thread)
}

// Delete handles DELETE /api/v1/threads/{id}
func (h *ThreadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	threadID := chi.URLParam(r, "id")
	if err := middleware.ValidateThreadID(threadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.Delete(ctx, middleware.GetTenantID(ctx), middleware.GetUserID(ctx), threadID); err != nil {
		writeServiceError(w, err, "failed to delete thread")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Messages handles GET /api/v1/threads/{id}/messages
// Supports ?after_sequence=N&limit=M for paging.
func (h *ThreadHandler) Messages(w http.ResponseWriter, r *http.Request) {
	thread, ok := h.thread(w, r)
	if !ok {
		return
	}

	after := uint64(max(queryInt(r, "after_sequence", 0), 0))
	resp, err := h.service.Messages(r.Context(), thread, after, queryInt(r, "limit", 50))
	if err != nil {
		h.logger.Error("failed to get messages", zap.String("thread_id", thread.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// thread resolves the {id} URL parameter to a thread the caller owns.
func (h *ThreadHandler) thread(w http.ResponseWriter, r *http.Request) (*model.Thread, bool) {
	return lookupThread(w, r, h.service)
}

func lookupThread(w http.ResponseWriter, r *http.Request, svc *service.ThreadService) (*model.Thread, bool) {
	ctx := r.Context()
	threadID := chi.URLParam(r, "id")
	if err := middleware.ValidateThreadID(threadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	thread, err := svc.Get(ctx, middleware.GetTenantID(ctx), middleware.GetUserID(ctx), threadID)
	if err != nil {
		writeServiceError(w, err, "failed to load thread")
		return nil, false
	}
	return thread, true
}

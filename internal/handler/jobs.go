package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/internal/jobs"
	"github.com/capitalize-ai/agent-platform/internal/middleware"
	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
	"github.com/capitalize-ai/agent-platform/pkg/metrics"
)

const keepAliveInterval = 15 * time.Second

// JobHandler handles asynchronous job endpoints.
type JobHandler struct {
	service *jobs.Service
	logger  *logger.Logger
}

// NewJobHandler creates a new job handler.
func NewJobHandler(svc *jobs.Service, log *logger.Logger) *JobHandler {
	return &JobHandler{service: svc, logger: log}
}

// Create handles POST /api/v1/jobs
func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.CreateJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	switch req.Type {
	case model.JobTypeTool, model.JobTypeTurn:
	default:
		writeError(w, http.StatusBadRequest, "type must be tool or turn")
		return
	}

	metadata := map[string]string{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["tenant_id"] = middleware.GetTenantID(ctx)
	metadata["user_id"] = middleware.GetUserID(ctx)

	job, err := h.service.CreateJob(ctx, req.Type, req.Parameters, req.Priority, metadata)
	if err != nil {
		h.logger.Warn("failed to create job", zap.Error(err))
		writeServiceError(w, err, "failed to create job")
		return
	}

	writeJSON(w, http.StatusAccepted, model.CreateJobResponse{JobID: job.ID, Status: job.Status})
}

// Get handles GET /api/v1/jobs/{id}
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, ok := h.job(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Cancel handles DELETE /api/v1/jobs/{id}
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.job(w, r); !ok {
		return
	}
	job, err := h.service.CancelJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "failed to cancel job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Events handles GET /api/v1/jobs/{id}/events
// It replays the job timeline over SSE and ends after the terminal status.
func (h *JobHandler) Events(w http.ResponseWriter, r *http.Request) {
	job, ok := h.job(w, r)
	if !ok {
		return
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		return
	}
	metrics.IncrementConnections("sse")
	defer metrics.DecrementConnections("sse")

	ctx := r.Context()
	events := make(chan model.JobEvent)
	errc := make(chan error, 1)
	go func() {
		defer close(events)
		for ev, err := range h.service.StreamJobEvents(ctx, job.ID) {
			if err != nil {
				errc <- err
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				select {
				case err := <-errc:
					h.logger.Warn("job event stream failed", zap.String("job_id", job.ID), zap.Error(err))
					sse.send("error", map[string]string{"error": "event stream failed"})
				default:
				}
				return
			}
			if err := sse.send(string(ev.Type), ev); err != nil {
				return
			}
		case <-keepAlive.C:
			if err := sse.comment("keepalive"); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// job loads the {id} job and hides jobs of other tenants.
func (h *JobHandler) job(w http.ResponseWriter, r *http.Request) (model.Job, bool) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateJobID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return model.Job{}, false
	}

	job, err := h.service.GetJob(ctx, id)
	if err != nil {
		writeServiceError(w, err, "failed to load job")
		return model.Job{}, false
	}
	if tenant := job.Metadata["tenant_id"]; tenant != "" && tenant != middleware.GetTenantID(ctx) {
		writeError(w, http.StatusNotFound, jobs.ErrNotFound.Error())
		return model.Job{}, false
	}
	return job, true
}

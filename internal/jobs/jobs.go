// Package jobs runs tool calls and agent turns asynchronously. Jobs are
// persisted in a Store, queued and observed through a Bus, and executed by
// a Worker.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/internal/agenterr"
	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
	"github.com/capitalize-ai/agent-platform/pkg/metrics"
)

var (
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = fmt.Errorf("job %w", agenterr.ErrNotFound)
	// ErrInvalidTransition is returned when a status change would move a job
	// backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Store persists job records.
type Store interface {
	Create(ctx context.Context, job model.Job) error
	Get(ctx context.Context, id string) (model.Job, error)
	// Update applies fn to the stored job atomically. fn may return an error
	// to abort without writing.
	Update(ctx context.Context, id string, fn func(*model.Job) error) (model.Job, error)
}

// Bus queues jobs for workers and carries each job's event timeline.
type Bus interface {
	Enqueue(ctx context.Context, job model.Job) error
	// Consume hands queued job ids to handle until ctx is done. A job is
	// acknowledged once handle returns.
	Consume(ctx context.Context, handle func(ctx context.Context, jobID string)) error
	Publish(ctx context.Context, ev model.JobEvent) error
	// Events replays a job's timeline from the beginning and then follows
	// it live until ctx is done.
	Events(ctx context.Context, jobID string) iter.Seq2[model.JobEvent, error]
}

// Service is the job API used by handlers and workers.
type Service struct {
	store Store
	bus   Bus
	log   *logger.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewService creates a job service.
func NewService(store Store, bus Bus, log *logger.Logger) *Service {
	return &Service{
		store:   store,
		bus:     bus,
		log:     log,
		running: make(map[string]context.CancelFunc),
	}
}

// CreateJob persists a pending job and queues it.
func (s *Service) CreateJob(ctx context.Context, typ model.JobType, params map[string]any, priority string, metadata map[string]string) (model.Job, error) {
	if err := validateParams(typ, params); err != nil {
		return model.Job{}, err
	}
	switch priority {
	case "":
		priority = model.PriorityNormal
	case model.PriorityLow, model.PriorityNormal, model.PriorityHigh:
	default:
		return model.Job{}, agenterr.Invalid("", "unknown priority %q", priority)
	}

	now := time.Now().UTC()
	job := model.Job{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Type:       typ,
		Parameters: params,
		Priority:   priority,
		Status:     model.JobPending,
		Metadata:   metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return model.Job{}, fmt.Errorf("failed to store job: %w", err)
	}
	if err := s.bus.Publish(ctx, model.JobEvent{
		JobID:     job.ID,
		Type:      model.JobEventCreated,
		Status:    model.JobPending,
		Timestamp: now,
	}); err != nil {
		return model.Job{}, fmt.Errorf("failed to publish job event: %w", err)
	}
	if err := s.bus.Enqueue(ctx, job); err != nil {
		return model.Job{}, fmt.Errorf("failed to enqueue job: %w", err)
	}

	metrics.RecordJobTransition(string(typ), string(model.JobPending))
	s.log.Info("job created",
		zap.String("job_id", job.ID),
		zap.String("type", string(typ)),
		zap.String("priority", priority),
	)
	return job, nil
}

// GetJob returns the job record.
func (s *Service) GetJob(ctx context.Context, id string) (model.Job, error) {
	return s.store.Get(ctx, id)
}

// CancelJob cancels a pending or running job. A running job's context is
// cancelled when it runs in this process.
func (s *Service) CancelJob(ctx context.Context, id string) (model.Job, error) {
	job, err := s.Transition(ctx, id, model.JobCancelled, nil, "cancelled by request")
	if err != nil {
		return model.Job{}, err
	}

	s.mu.Lock()
	cancel := s.running[id]
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return job, nil
}

// Transition moves a job to status and publishes the change. Moving out of
// a terminal state or backwards fails with ErrInvalidTransition.
func (s *Service) Transition(ctx context.Context, id string, status model.JobStatus, result json.RawMessage, errMsg string) (model.Job, error) {
	job, err := s.store.Update(ctx, id, func(j *model.Job) error {
		if !j.Status.CanTransition(status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, status)
		}
		now := time.Now().UTC()
		j.Status = status
		j.UpdatedAt = now
		switch {
		case status == model.JobRunning:
			j.StartedAt = &now
		case status.IsTerminal():
			j.FinishedAt = &now
			j.Result = result
			j.Error = errMsg
		}
		return nil
	})
	if err != nil {
		return model.Job{}, err
	}

	ev := model.JobEvent{
		JobID:     id,
		Type:      model.JobEventStatus,
		Status:    status,
		Timestamp: job.UpdatedAt,
	}
	if status == model.JobFailed || status == model.JobCancelled {
		ev.Error = errMsg
	}
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.log.Error("failed to publish job status", zap.String("job_id", id), zap.Error(err))
	}

	metrics.RecordJobTransition(string(job.Type), string(status))
	s.log.Info("job transitioned", zap.String("job_id", id), zap.String("status", string(status)))
	return job, nil
}

// PublishEvent appends an agent event to the job's timeline.
func (s *Service) PublishEvent(ctx context.Context, id string, ev model.Event) error {
	return s.bus.Publish(ctx, model.JobEvent{
		JobID:     id,
		Type:      model.JobEventAgent,
		Event:     &ev,
		Timestamp: ev.Timestamp,
	})
}

// StreamJobEvents yields the job's timeline from the beginning and stops
// after the event announcing a terminal status.
func (s *Service) StreamJobEvents(ctx context.Context, id string) iter.Seq2[model.JobEvent, error] {
	return func(yield func(model.JobEvent, error) bool) {
		if _, err := s.store.Get(ctx, id); err != nil {
			yield(model.JobEvent{}, err)
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		for ev, err := range s.bus.Events(ctx, id) {
			if err != nil {
				yield(model.JobEvent{}, err)
				return
			}
			if !yield(ev, nil) || ev.IsTerminal() {
				return
			}
		}
	}
}

// track registers the cancel function of a job running in this process.
func (s *Service) track(id string, cancel context.CancelFunc) func() {
	s.mu.Lock()
	s.running[id] = cancel
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.running, id)
		s.mu.Unlock()
	}
}

func validateParams(typ model.JobType, params map[string]any) error {
	switch typ {
	case model.JobTypeTool:
		if name, _ := params["tool"].(string); name == "" {
			return agenterr.Invalid("", "tool jobs require a tool name")
		}
		if args, ok := params["args"]; ok && args != nil {
			if _, ok := args.(map[string]any); !ok {
				return agenterr.Invalid("", "tool job args must be an object")
			}
		}
	case model.JobTypeTurn:
		if msg, _ := params["message"].(string); msg == "" {
			return agenterr.Invalid("", "turn jobs require a message")
		}
	default:
		return agenterr.Invalid("", "unknown job type %q", typ)
	}
	return nil
}

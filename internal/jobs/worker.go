package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

// ToolRunner executes a single tool call. *executor.Executor implements it.
type ToolRunner interface {
	ExecuteOne(ctx context.Context, name string, args map[string]any) model.ToolResult
}

// TurnRunner runs an agent turn. *orchestrator.Orchestrator implements it.
type TurnRunner interface {
	ProcessMessage(ctx context.Context, message string, history []model.ConversationTurn) iter.Seq[model.Event]
}

// TurnResult is the stored result of a turn job.
type TurnResult struct {
	Text      string           `json:"text"`
	Artifacts []model.Artifact `json:"artifacts,omitempty"`
	Events    int              `json:"events"`
}

// Worker pulls jobs from the bus and executes them.
type Worker struct {
	svc         *Service
	bus         Bus
	tools       ToolRunner
	turns       TurnRunner
	concurrency int
	log         *logger.Logger
}

// NewWorker creates a worker running at most concurrency jobs at once.
func NewWorker(svc *Service, bus Bus, tools ToolRunner, turns TurnRunner, concurrency int, log *logger.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		svc:         svc,
		bus:         bus,
		tools:       tools,
		turns:       turns,
		concurrency: concurrency,
		log:         log,
	}
}

// Run consumes jobs until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("job worker started", zap.Int("concurrency", w.concurrency))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for range w.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.bus.Consume(ctx, w.handle); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	w.log.Info("job worker stopped")
	return errors.Join(errs...)
}

func (w *Worker) handle(ctx context.Context, id string) {
	log := w.log.With(zap.String("job_id", id))

	job, err := w.svc.GetJob(ctx, id)
	if err != nil {
		log.Error("failed to load job", zap.Error(err))
		return
	}
	if job.Status != model.JobPending {
		log.Info("skipping job", zap.String("status", string(job.Status)))
		return
	}
	if _, err := w.svc.Transition(ctx, id, model.JobRunning, nil, ""); err != nil {
		log.Warn("failed to start job", zap.Error(err))
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	untrack := w.svc.track(id, cancel)
	result, runErr := w.run(runCtx, job)
	untrack()
	cancel()

	// Final transitions outlive worker shutdown.
	final := context.WithoutCancel(ctx)
	switch {
	case ctx.Err() != nil:
		_, err = w.svc.Transition(final, id, model.JobFailed, result, "worker stopped")
	case runCtx.Err() != nil && errors.Is(runErr, context.Canceled):
		// Cancelled through CancelJob; the status is already terminal.
		log.Info("job cancelled")
		return
	case runErr != nil:
		_, err = w.svc.Transition(final, id, model.JobFailed, result, runErr.Error())
	default:
		_, err = w.svc.Transition(final, id, model.JobCompleted, result, "")
	}
	if err != nil && !errors.Is(err, ErrInvalidTransition) {
		log.Error("failed to finish job", zap.Error(err))
	}
}

func (w *Worker) run(ctx context.Context, job model.Job) (json.RawMessage, error) {
	switch job.Type {
	case model.JobTypeTool:
		return w.runTool(ctx, job)
	case model.JobTypeTurn:
		return w.runTurn(ctx, job)
	}
	return nil, fmt.Errorf("unknown job type %q", job.Type)
}

func (w *Worker) runTool(ctx context.Context, job model.Job) (json.RawMessage, error) {
	name, _ := job.Parameters["tool"].(string)
	args, _ := job.Parameters["args"].(map[string]any)
	if args == nil {
		args = map[string]any{}
	}

	call := model.ToolCall{ID: "call_" + uuid.NewString(), Name: name, Args: args}
	w.publish(ctx, job.ID, model.NewToolCall(call))

	res := w.tools.ExecuteOne(ctx, name, args)
	res.ID = call.ID
	w.publish(ctx, job.ID, model.NewToolResult(res))

	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool result: %w", err)
	}
	if ctx.Err() != nil {
		return data, ctx.Err()
	}
	if !res.Success {
		return data, errors.New(res.Error)
	}
	return data, nil
}

func (w *Worker) runTurn(ctx context.Context, job model.Job) (json.RawMessage, error) {
	message, _ := job.Parameters["message"].(string)

	var (
		text strings.Builder
		res  TurnResult
		last model.Event
	)
	for ev := range w.turns.ProcessMessage(ctx, message, nil) {
		res.Events++
		last = ev
		switch ev.Type {
		case model.EventTypeText:
			text.WriteString(ev.Content)
		case model.EventTypeDeliver:
			res.Artifacts = ev.Artifacts
		}
		w.publish(ctx, job.ID, ev)
	}
	res.Text = text.String()

	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal turn result: %w", err)
	}
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return data, ctx.Err()
	}
	if last.Type == model.EventTypeError {
		return data, errors.New(last.Content)
	}
	return data, nil
}

func (w *Worker) publish(ctx context.Context, jobID string, ev model.Event) {
	if err := w.svc.PublishEvent(context.WithoutCancel(ctx), jobID, ev); err != nil {
		w.log.Warn("failed to publish job event", zap.String("job_id", jobID), zap.Error(err))
	}
}

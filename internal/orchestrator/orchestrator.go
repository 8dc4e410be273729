// Package orchestrator routes each user message to an instant reply or an
// agentic workflow and turns the interaction between the model and the tool
// executor into one ordered event stream.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/internal/agenterr"
	"github.com/capitalize-ai/agent-platform/internal/llm"
	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
	"github.com/capitalize-ai/agent-platform/pkg/metrics"
)

// ToolRunner executes tool calls. *executor.Executor implements it.
type ToolRunner interface {
	ExecuteOne(ctx context.Context, name string, args map[string]any) model.ToolResult
	ExecuteMany(ctx context.Context, calls []model.ToolCall) []model.ToolResult
	Specs() []model.ToolSpec
}

// Stats are cumulative orchestrator counters.
type Stats struct {
	InstantTurns int64 `json:"instant_turns"`
	AgenticTurns int64 `json:"agentic_turns"`
	ToolHops     int64 `json:"tool_hops"`
	Timeouts     int64 `json:"timeouts"`
	Mode         Mode  `json:"mode"`
	MaxToolHops  int   `json:"max_tool_hops"`
}

// Orchestrator drives turns. It is safe for concurrent use; every call to
// ProcessMessage runs an independent turn.
type Orchestrator struct {
	client     llm.Client
	tools      ToolRunner
	cfg        Config
	classifier Classifier
	log        *logger.Logger
	tracer     trace.Tracer

	instant  atomic.Int64
	agentic  atomic.Int64
	hops     atomic.Int64
	timeouts atomic.Int64
}

// New creates an orchestrator. The configuration is copied and never changes
// afterwards.
func New(client llm.Client, tools ToolRunner, cfg Config, log *logger.Logger) (*Orchestrator, error) {
	defaults := DefaultConfig()
	if cfg.Mode == "" {
		cfg.Mode = defaults.Mode
	}
	if cfg.TrivialWordLimit == 0 {
		cfg.TrivialWordLimit = defaults.TrivialWordLimit
	}
	if cfg.QuestionWordLimit == 0 {
		cfg.QuestionWordLimit = defaults.QuestionWordLimit
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator config: %w", err)
	}
	return &Orchestrator{
		client:     client,
		tools:      tools,
		cfg:        cfg,
		classifier: NewClassifier(cfg),
		log:        log,
		tracer:     otel.Tracer("agent-platform/orchestrator"),
	}, nil
}

// Config returns the configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Stats returns a snapshot of the counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		InstantTurns: o.instant.Load(),
		AgenticTurns: o.agentic.Load(),
		ToolHops:     o.hops.Load(),
		Timeouts:     o.timeouts.Load(),
		Mode:         o.cfg.Mode,
		MaxToolHops:  o.cfg.MaxToolHops,
	}
}

// Route reports the path a message would take.
func (o *Orchestrator) Route(message string) Route {
	return o.classifier.Route(o.cfg.Mode, message)
}

// ProcessMessage runs one turn. The turn starts when iteration starts and
// is cancelled when the consumer stops pulling. A turn that outlives its
// budget ends with exactly one error event.
func (o *Orchestrator) ProcessMessage(ctx context.Context, message string, history []model.ConversationTurn) iter.Seq[model.Event] {
	return func(yield func(model.Event) bool) {
		route := o.Route(message)

		ctx, span := o.tracer.Start(ctx, "orchestrator.turn", trace.WithAttributes(
			attribute.String("turn.route", string(route)),
			attribute.String("turn.mode", string(o.cfg.Mode)),
		))
		defer span.End()

		ctx, cancel := context.WithTimeout(ctx, o.cfg.MaxExecutionTime)
		defer cancel()

		t := &turn{
			o:       o,
			ctx:     ctx,
			cancel:  cancel,
			start:   time.Now(),
			message: message,
			history: history,
			yield:   yield,
			ids:     make(map[string]struct{}),
		}

		switch {
		case strings.TrimSpace(message) == "":
			t.emit(model.NewError(agenterr.Invalid("", "message is empty").Error()))
		case route == RouteInstant:
			o.instant.Add(1)
			t.runInstant()
		case o.cfg.Mode == ModeTransparent:
			o.agentic.Add(1)
			t.runTransparent()
		default:
			o.agentic.Add(1)
			t.runPhased()
		}

		o.hops.Add(int64(t.hops))
		outcome := t.outcome()
		if outcome == "timeout" {
			o.timeouts.Add(1)
		}
		span.SetAttributes(attribute.Int("turn.hops", t.hops), attribute.String("turn.outcome", outcome))
		metrics.RecordTurn(string(route), outcome, time.Since(t.start), t.hops)
		o.log.Info("turn finished",
			zap.String("route", string(route)),
			zap.String("mode", string(o.cfg.Mode)),
			zap.String("outcome", outcome),
			zap.Int("hops", t.hops),
			zap.Duration("duration", time.Since(t.start)),
		)
	}
}

// turn is the state of one ProcessMessage call. It is only touched by the
// goroutine iterating the event sequence.
type turn struct {
	o       *Orchestrator
	ctx     context.Context
	cancel  context.CancelFunc
	start   time.Time
	message string
	history []model.ConversationTurn
	yield   func(model.Event) bool

	stopped  bool
	timedOut bool
	failed   bool
	hops     int
	ids      map[string]struct{}

	conv      []model.ConversationTurn
	results   []model.ToolResult
	artifacts []model.Artifact
}

func (t *turn) emit(ev model.Event) bool {
	if t.stopped || t.timedOut {
		return false
	}
	if ev.Type == model.EventTypeError {
		t.failed = true
	}
	if !t.yield(ev) {
		t.stopped = true
		t.cancel()
		return false
	}
	return true
}

func (t *turn) done() bool {
	return t.stopped || t.timedOut
}

func (t *turn) expired() bool {
	return time.Since(t.start) >= t.o.cfg.MaxExecutionTime || errors.Is(t.ctx.Err(), context.DeadlineExceeded)
}

// checkDeadline ends the turn with a timeout error once the budget is spent.
func (t *turn) checkDeadline() bool {
	if t.done() {
		return true
	}
	if !t.expired() {
		return false
	}
	t.timeout()
	return true
}

func (t *turn) timeout() {
	if t.done() {
		return
	}
	err := &agenterr.TurnTimeoutError{Elapsed: time.Since(t.start), Budget: t.o.cfg.MaxExecutionTime}
	t.emit(model.NewError(err.Error()))
	t.timedOut = true
	t.cancel()
}

// fail converts an error caught at a phase or round boundary into an event.
// When the turn budget is gone the timeout error is emitted instead.
func (t *turn) fail(scope string, err error) {
	if t.done() {
		return
	}
	if t.expired() {
		t.timeout()
		return
	}
	if errors.Is(err, context.Canceled) && t.ctx.Err() != nil {
		t.stopped = true
		return
	}
	t.o.log.Warn("turn step failed", zap.String("scope", scope), zap.Error(err))
	t.emit(model.NewError(fmt.Sprintf("Error in %s: %v", scope, err)))
}

func (t *turn) outcome() string {
	switch {
	case t.timedOut:
		return "timeout"
	case t.stopped:
		return "cancelled"
	case t.failed:
		return "error"
	}
	return "success"
}

func (t *turn) runInstant() {
	text, err := t.o.client.ChatSimple(t.ctx, t.message, t.history)
	if err != nil {
		t.fail("instant reply", err)
		return
	}
	t.emit(model.NewText(text))
}

// admit assigns turn-unique ids and drops calls beyond the hop limit.
func (t *turn) admit(calls []model.ToolCall) []model.ToolCall {
	remaining := t.o.cfg.MaxToolHops - t.hops
	if remaining <= 0 {
		if len(calls) > 0 {
			t.o.log.Info("tool hop limit reached, dropping calls", zap.Int("dropped", len(calls)))
		}
		return nil
	}
	if len(calls) > remaining {
		t.o.log.Info("tool hop limit reached, dropping calls", zap.Int("dropped", len(calls)-remaining))
		calls = calls[:remaining]
	}

	admitted := make([]model.ToolCall, len(calls))
	for i, call := range calls {
		if _, dup := t.ids[call.ID]; call.ID == "" || dup {
			call.ID = "call_" + uuid.NewString()
		}
		if call.Args == nil {
			call.Args = map[string]any{}
		}
		t.ids[call.ID] = struct{}{}
		admitted[i] = call
	}
	t.hops += len(admitted)
	return admitted
}

func (t *turn) record(res model.ToolResult) {
	t.results = append(t.results, res)
	for _, a := range res.Artifacts {
		replaced := false
		for i := range t.artifacts {
			if t.artifacts[i].Path == a.Path {
				t.artifacts[i] = a
				replaced = true
				break
			}
		}
		if !replaced {
			t.artifacts = append(t.artifacts, a)
		}
	}
}

// summary describes what the turn gathered without another model call.
func (t *turn) summary() string {
	if len(t.results) == 0 {
		return "I could not gather any additional information for this request."
	}
	failed := 0
	for _, r := range t.results {
		if !r.Success {
			failed++
		}
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Completed %d tool call(s)", len(t.results))
	if failed > 0 {
		fmt.Fprintf(&sb, ", %d failed", failed)
	}
	sb.WriteString(".")
	for _, a := range t.artifacts {
		fmt.Fprintf(&sb, "\n- %s (%d bytes)", a.Path, a.Size)
	}
	return sb.String()
}

func (t *turn) deliverSummary() string {
	return fmt.Sprintf("Created %d file(s)", len(t.artifacts))
}

func cloneHistory(history []model.ConversationTurn, extra int) []model.ConversationTurn {
	out := make([]model.ConversationTurn, len(history), len(history)+extra)
	copy(out, history)
	return out
}

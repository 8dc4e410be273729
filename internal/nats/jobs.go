package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/internal/jobs"
	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/pkg/metrics"
)

const (
	// JobsStream is the work-queue stream holding queued job ids.
	JobsStream = "JOBS"
	// JobEventsStream holds every job's event timeline.
	JobEventsStream = "JOB_EVENTS"

	jobQueueSubject  = "jobs.queue"
	jobEventsPrefix  = "jobs.events"
	jobWorkerDurable = "job-workers"
)

var _ jobs.Bus = (*JobBus)(nil)

// JobBus implements jobs.Bus on JetStream. The queue is a work-queue stream
// consumed through one durable pull consumer shared by all workers; each
// job's timeline lives under its own subject.
type JobBus struct {
	client  *Client
	ackWait time.Duration
}

// NewJobBus creates a bus. ackWait bounds how long a worker may hold a job
// before it is redelivered.
func NewJobBus(client *Client, ackWait time.Duration) *JobBus {
	if ackWait <= 0 {
		ackWait = 10 * time.Minute
	}
	return &JobBus{client: client, ackWait: ackWait}
}

// JobEventSubject returns the subject of a job's timeline.
func JobEventSubject(jobID string) string {
	return fmt.Sprintf("%s.%s", jobEventsPrefix, jobID)
}

// EnsureStreams creates the job streams when missing.
func (b *JobBus) EnsureStreams(ctx context.Context) error {
	js := b.client.JetStream()

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        JobsStream,
		Subjects:    []string{jobQueueSubject},
		Retention:   jetstream.WorkQueuePolicy,
		Storage:     jetstream.FileStorage,
		Duplicates:  5 * time.Minute,
		Description: "Queued jobs",
	}); err != nil {
		return fmt.Errorf("failed to create jobs stream: %w", err)
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        JobEventsStream,
		Subjects:    []string{jobEventsPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Description: "Job event timelines",
	}); err != nil {
		return fmt.Errorf("failed to create job events stream: %w", err)
	}
	return nil
}

type queuedJob struct {
	ID       string `json:"id"`
	Priority string `json:"priority"`
}

func (b *JobBus) Enqueue(ctx context.Context, job model.Job) error {
	data, err := json.Marshal(queuedJob{ID: job.ID, Priority: job.Priority})
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if _, err := b.client.JetStream().Publish(ctx, jobQueueSubject, data, jetstream.WithMsgID(job.ID)); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Consume pulls one job at a time and acknowledges it after handle
// returns. Run it from several goroutines for parallel workers.
func (b *JobBus) Consume(ctx context.Context, handle func(ctx context.Context, jobID string)) error {
	consumer, err := b.client.JetStream().CreateOrUpdateConsumer(ctx, JobsStream, jetstream.ConsumerConfig{
		Durable:   jobWorkerDurable,
		AckPolicy: jetstream.AckExplicitPolicy,
		AckWait:   b.ackWait,
	})
	if err != nil {
		return fmt.Errorf("failed to create job consumer: %w", err)
	}

	for ctx.Err() == nil {
		batch, err := consumer.Fetch(1, jetstream.FetchMaxWait(time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.client.logger.Warn("job fetch failed", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}

		for msg := range batch.Messages() {
			var q queuedJob
			if err := json.Unmarshal(msg.Data(), &q); err != nil {
				b.client.logger.Error("dropping malformed job message", zap.Error(err))
				_ = msg.Term()
				continue
			}
			handle(ctx, q.ID)
			if err := msg.Ack(); err != nil {
				b.client.logger.Warn("failed to ack job", zap.String("job_id", q.ID), zap.Error(err))
			}
		}
	}
	return nil
}

func (b *JobBus) Publish(ctx context.Context, ev model.JobEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}
	ack, err := b.client.JetStream().Publish(ctx, JobEventSubject(ev.JobID), data)
	if err != nil {
		return fmt.Errorf("failed to publish job event: %w", err)
	}
	metrics.NATSStreamMessages.WithLabelValues(ack.Stream).Set(float64(ack.Sequence))
	return nil
}

// Events replays the job's subject with an ordered consumer and follows it
// until ctx is done.
func (b *JobBus) Events(ctx context.Context, jobID string) iter.Seq2[model.JobEvent, error] {
	return func(yield func(model.JobEvent, error) bool) {
		consumer, err := b.client.JetStream().OrderedConsumer(ctx, JobEventsStream, jetstream.OrderedConsumerConfig{
			FilterSubjects: []string{JobEventSubject(jobID)},
			DeliverPolicy:  jetstream.DeliverAllPolicy,
		})
		if err != nil {
			yield(model.JobEvent{}, fmt.Errorf("failed to create job event consumer: %w", err))
			return
		}

		msgs, err := consumer.Messages()
		if err != nil {
			yield(model.JobEvent{}, fmt.Errorf("failed to follow job events: %w", err))
			return
		}
		stop := context.AfterFunc(ctx, msgs.Stop)
		defer func() {
			stop()
			msgs.Stop()
		}()

		for {
			msg, err := msgs.Next()
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
				return
			}
			if err != nil {
				yield(model.JobEvent{}, fmt.Errorf("failed to read job event: %w", err))
				return
			}

			var ev model.JobEvent
			if err := json.Unmarshal(msg.Data(), &ev); err != nil {
				b.client.logger.Warn("skipping malformed job event", zap.String("job_id", jobID), zap.Error(err))
				continue
			}
			if meta, err := msg.Metadata(); err == nil {
				ev.Sequence = meta.Sequence.Stream
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/pkg/metrics"
)

const (
	// StreamName is the name of the conversations stream.
	StreamName = "CONVERSATIONS"

	// SubjectPrefix is the prefix for all conversation subjects.
	SubjectPrefix = "conv"
)

// StreamManager stores thread messages on the conversations stream.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the conversations stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Thread messages",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	m.client.logger.Info("created stream", zap.String("stream", StreamName))
	return nil
}

// MessageSubject returns the subject for a message.
func MessageSubject(tenantID, threadID string, role model.Role) string {
	return fmt.Sprintf("%s.%s.%s.msg.%s", SubjectPrefix, tenantID, threadID, role)
}

// ThreadFilter returns the filter subject for all messages of a thread.
func ThreadFilter(tenantID, threadID string) string {
	return fmt.Sprintf("%s.%s.%s.msg.>", SubjectPrefix, tenantID, threadID)
}

// PublishMessage appends a message to the thread log and returns its
// stream sequence.
func (m *StreamManager) PublishMessage(ctx context.Context, msg *model.Message) (uint64, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, MessageSubject(msg.TenantID, msg.ThreadID, msg.Role), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish message: %w", err)
	}
	metrics.NATSStreamMessages.WithLabelValues(ack.Stream).Set(float64(ack.Sequence))
	return ack.Sequence, nil
}

// GetMessages reads up to limit messages of a thread after the given
// stream sequence.
func (m *StreamManager) GetMessages(ctx context.Context, tenantID, threadID string, afterSequence uint64, limit int) ([]model.Message, uint64, bool, error) {
	cfg := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{ThreadFilter(tenantID, threadID)},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	}
	if afterSequence > 0 {
		cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		cfg.OptStartSeq = afterSequence + 1
	}

	consumer, err := m.client.JetStream().OrderedConsumer(ctx, StreamName, cfg)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to create consumer: %w", err)
	}

	pending := limit
	if info, err := consumer.Info(ctx); err == nil {
		pending = min(limit, int(info.NumPending))
	}
	if pending == 0 {
		return nil, afterSequence, false, nil
	}

	batch, err := consumer.Fetch(pending, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to fetch messages: %w", err)
	}

	var (
		messages     []model.Message
		lastSequence = afterSequence
	)
	for msg := range batch.Messages() {
		var message model.Message
		if err := json.Unmarshal(msg.Data(), &message); err != nil {
			m.client.logger.Warn("skipping malformed message", zap.String("subject", msg.Subject()), zap.Error(err))
			continue
		}
		if meta, err := msg.Metadata(); err == nil {
			message.Sequence = meta.Sequence.Stream
			lastSequence = meta.Sequence.Stream
		}
		messages = append(messages, message)
	}
	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, 0, false, fmt.Errorf("batch error: %w", err)
	}

	hasMore := len(messages) == limit
	return messages, lastSequence, hasMore, nil
}

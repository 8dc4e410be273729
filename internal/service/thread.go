// Package service provides the thread and chat business logic behind the
// HTTP and WebSocket handlers.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/internal/store"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
	"github.com/capitalize-ai/agent-platform/pkg/metrics"
)

// MessageLog is the append-only per-thread message history.
// *nats.StreamManager implements it.
type MessageLog interface {
	PublishMessage(ctx context.Context, msg *model.Message) (uint64, error)
	GetMessages(ctx context.Context, tenantID, threadID string, afterSequence uint64, limit int) ([]model.Message, uint64, bool, error)
}

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// ThreadService handles thread operations.
type ThreadService struct {
	threads  store.ThreadStore
	messages MessageLog
	logger   *logger.Logger
}

// NewThreadService creates a new thread service.
func NewThreadService(threads store.ThreadStore, messages MessageLog, log *logger.Logger) *ThreadService {
	return &ThreadService{threads: threads, messages: messages, logger: log}
}

// Create creates a new thread owned by userID.
func (s *ThreadService) Create(ctx context.Context, tenantID, userID string, req *model.CreateThreadRequest) (*model.Thread, error) {
	now := time.Now().UTC()
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "New chat"
	}

	thread := &model.Thread{
		ID:        uuid.Must(uuid.NewV7()).String(),
		TenantID:  tenantID,
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.threads.Create(ctx, thread); err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}

	metrics.ThreadsTotal.WithLabelValues(tenantID).Inc()
	s.logger.Info("thread created", zap.String("thread_id", thread.ID), zap.String("tenant_id", tenantID))
	return thread, nil
}

// Get retrieves a thread the user owns.
func (s *ThreadService) Get(ctx context.Context, tenantID, userID, threadID string) (*model.Thread, error) {
	return s.threads.Get(ctx, tenantID, userID, threadID)
}

// List retrieves a page of the user's threads.
func (s *ThreadService) List(ctx context.Context, tenantID, userID string, limit, offset int) (*model.ListThreadsResponse, error) {
	limit = clampLimit(limit)
	offset = max(offset, 0)

	threads, total, err := s.threads.List(ctx, tenantID, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return &model.ListThreadsResponse{
		Threads: threads,
		Total:   total,
		HasMore: offset+len(threads) < total,
	}, nil
}

// Update renames a thread.
func (s *ThreadService) Update(ctx context.Context, tenantID, userID, threadID string, req *model.UpdateThreadRequest) (*model.Thread, error) {
	return s.threads.UpdateTitle(ctx, tenantID, userID, threadID, strings.TrimSpace(req.Title))
}

// Delete soft deletes a thread. Its messages stay in the log.
func (s *ThreadService) Delete(ctx context.Context, tenantID, userID, threadID string) error {
	if err := s.threads.Delete(ctx, tenantID, userID, threadID); err != nil {
		return err
	}
	s.logger.Info("thread deleted", zap.String("thread_id", threadID), zap.String("tenant_id", tenantID))
	return nil
}

// AppendMessage persists a message on the thread.
func (s *ThreadService) AppendMessage(ctx context.Context, thread *model.Thread, role model.Role, content string) (*model.Message, error) {
	msg := &model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		ThreadID:  thread.ID,
		TenantID:  thread.TenantID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	seq, err := s.messages.PublishMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to publish %s message: %w", role, err)
	}
	msg.Sequence = seq

	if err := s.threads.Touch(ctx, thread.TenantID, thread.ID); err != nil {
		s.logger.Warn("failed to touch thread", zap.String("thread_id", thread.ID), zap.Error(err))
	}
	metrics.MessagesTotal.WithLabelValues(thread.TenantID, string(role)).Inc()
	return msg, nil
}

// Messages retrieves a page of a thread's messages.
func (s *ThreadService) Messages(ctx context.Context, thread *model.Thread, afterSequence uint64, limit int) (*model.ListMessagesResponse, error) {
	messages, lastSeq, hasMore, err := s.messages.GetMessages(ctx, thread.TenantID, thread.ID, afterSequence, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	if messages == nil {
		messages = []model.Message{}
	}
	return &model.ListMessagesResponse{
		Messages:     messages,
		HasMore:      hasMore,
		LastSequence: lastSeq,
	}, nil
}

// History returns the most recent maxTurns messages as conversation turns.
func (s *ThreadService) History(ctx context.Context, thread *model.Thread, maxTurns int) ([]model.ConversationTurn, error) {
	var (
		all   []model.Message
		after uint64
	)
	for {
		page, last, hasMore, err := s.messages.GetMessages(ctx, thread.TenantID, thread.ID, after, maxPageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to load history: %w", err)
		}
		all = append(all, page...)
		if !hasMore || len(page) == 0 {
			break
		}
		after = last
	}

	if len(all) > maxTurns {
		all = all[len(all)-maxTurns:]
	}
	turns := make([]model.ConversationTurn, 0, len(all))
	for _, m := range all {
		turns = append(turns, m.Turn())
	}
	return turns, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	return min(limit, maxPageSize)
}

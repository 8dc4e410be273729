package service

import (
	"context"
	"sync"

	"github.com/capitalize-ai/agent-platform/internal/model"
)

// MemoryMessageLog keeps thread messages in process memory. It is used
// when no NATS server is configured.
type MemoryMessageLog struct {
	mu       sync.RWMutex
	seq      uint64
	messages []model.Message
}

var _ MessageLog = (*MemoryMessageLog)(nil)

// NewMemoryMessageLog creates an empty log.
func NewMemoryMessageLog() *MemoryMessageLog {
	return &MemoryMessageLog{}
}

func (l *MemoryMessageLog) PublishMessage(_ context.Context, msg *model.Message) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	stored := *msg
	stored.Sequence = l.seq
	l.messages = append(l.messages, stored)
	return l.seq, nil
}

func (l *MemoryMessageLog) GetMessages(_ context.Context, tenantID, threadID string, afterSequence uint64, limit int) ([]model.Message, uint64, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []model.Message
	last := afterSequence
	for _, m := range l.messages {
		if m.Sequence <= afterSequence || m.TenantID != tenantID || m.ThreadID != threadID {
			continue
		}
		out = append(out, m)
		last = m.Sequence
		if len(out) == limit {
			break
		}
	}
	return out, last, len(out) == limit, nil
}

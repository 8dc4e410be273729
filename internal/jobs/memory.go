package jobs

import (
	"context"
	"encoding/json"
	"iter"
	"maps"
	"sync"

	"github.com/capitalize-ai/agent-platform/internal/model"
)

// MemoryStore keeps jobs in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]model.Job
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]model.Job)}
}

func (s *MemoryStore) Create(_ context.Context, job model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return model.Job{}, ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn func(*model.Job) error) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return model.Job{}, ErrNotFound
	}
	job = cloneJob(job)
	if err := fn(&job); err != nil {
		return model.Job{}, err
	}
	s.jobs[id] = job
	return cloneJob(job), nil
}

func cloneJob(j model.Job) model.Job {
	j.Parameters = maps.Clone(j.Parameters)
	j.Metadata = maps.Clone(j.Metadata)
	if j.Result != nil {
		j.Result = append(json.RawMessage(nil), j.Result...)
	}
	return j
}

// MemoryBus is an in-process Bus. Timelines are kept for the lifetime of
// the bus.
type MemoryBus struct {
	queue chan string

	mu        sync.Mutex
	seq       uint64
	timelines map[string][]model.JobEvent
	notify    map[string]chan struct{}
}

// NewMemoryBus creates a bus whose queue holds up to capacity jobs.
func NewMemoryBus(capacity int) *MemoryBus {
	return &MemoryBus{
		queue:     make(chan string, capacity),
		timelines: make(map[string][]model.JobEvent),
		notify:    make(map[string]chan struct{}),
	}
}

func (b *MemoryBus) Enqueue(ctx context.Context, job model.Job) error {
	select {
	case b.queue <- job.ID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBus) Consume(ctx context.Context, handle func(ctx context.Context, jobID string)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case id := <-b.queue:
			handle(ctx, id)
		}
	}
}

func (b *MemoryBus) Publish(_ context.Context, ev model.JobEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	ev.Sequence = b.seq
	b.timelines[ev.JobID] = append(b.timelines[ev.JobID], ev)
	if ch, ok := b.notify[ev.JobID]; ok {
		close(ch)
		delete(b.notify, ev.JobID)
	}
	return nil
}

func (b *MemoryBus) Events(ctx context.Context, jobID string) iter.Seq2[model.JobEvent, error] {
	return func(yield func(model.JobEvent, error) bool) {
		next := 0
		for {
			b.mu.Lock()
			timeline := b.timelines[jobID]
			pending := append([]model.JobEvent(nil), timeline[next:]...)
			var wait chan struct{}
			if len(pending) == 0 {
				wait = b.notify[jobID]
				if wait == nil {
					wait = make(chan struct{})
					b.notify[jobID] = wait
				}
			}
			b.mu.Unlock()

			for _, ev := range pending {
				next++
				if !yield(ev, nil) {
					return
				}
			}
			if wait == nil {
				continue
			}
			select {
			case <-wait:
			case <-ctx.Done():
				return
			}
		}
	}
}

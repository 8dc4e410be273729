package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/capitalize-ai/agent-platform/internal/jobs"
	"github.com/capitalize-ai/agent-platform/internal/model"
)

// JobPrefix namespaces job records.
const JobPrefix = "job:"

const maxTxRetries = 5

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

var _ jobs.Store = (*JobStore)(nil)

// JobStore keeps job records as JSON strings. Records expire ttl after
// their last write.
type JobStore struct {
	client *Client
	ttl    time.Duration
}

// NewJobStore creates a store. A zero ttl keeps records for a week.
func NewJobStore(client *Client, ttl time.Duration) *JobStore {
	if ttl == 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &JobStore{client: client, ttl: ttl}
}

func jobKey(id string) string {
	return JobPrefix + id
}

func (s *JobStore) Create(ctx context.Context, job model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	ok, err := s.client.rdb.SetNX(ctx, jobKey(job.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}
	if !ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (model.Job, error) {
	return s.get(ctx, s.client.rdb, id)
}

// Update runs fn inside an optimistic transaction on the job key and
// retries when a concurrent writer wins.
func (s *JobStore) Update(ctx context.Context, id string, fn func(*model.Job) error) (model.Job, error) {
	key := jobKey(id)
	var updated model.Job

	txf := func(tx *redis.Tx) error {
		job, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(&job); err != nil {
			return err
		}
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to encode job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		if err == nil {
			updated = job
		}
		return err
	}

	for range maxTxRetries {
		err := s.client.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return model.Job{}, err
		}
		return updated, nil
	}
	return model.Job{}, fmt.Errorf("failed to update job %s: too much contention", id)
}

func (s *JobStore) get(ctx context.Context, c getter, id string) (model.Job, error) {
	data, err := c.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Job{}, jobs.ErrNotFound
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("failed to read job: %w", err)
	}
	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return model.Job{}, fmt.Errorf("failed to decode job: %w", err)
	}
	return job, nil
}

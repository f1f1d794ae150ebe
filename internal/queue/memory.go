package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemoryQueue is an in-process Queue for single-node setups and tests.
// Jobs accumulate until Drain runs them synchronously, which keeps worker
// behavior deterministic under test. Retries happen inline without delay.
type MemoryQueue struct {
	logger *zap.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	pending  []envelope
}

func NewMemoryQueue(logger *zap.Logger) *MemoryQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryQueue{
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, queueName, jobName string, payload any, opts Options) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", jobName, err)
	}
	env := envelope{
		Job: Job{
			ID:      uuid.NewString(),
			Queue:   queueName,
			Name:    jobName,
			Payload: raw,
		},
		Retries: opts.Retries,
		Backoff: opts.Backoff,
	}
	q.mu.Lock()
	q.pending = append(q.pending, env)
	q.mu.Unlock()
	return env.Job.ID, nil
}

func (q *MemoryQueue) Handle(queueName, jobName string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subjectFor(queueName, jobName)] = h
}

func (q *MemoryQueue) Start(context.Context) error { return nil }

func (q *MemoryQueue) Close() error { return nil }

// Pending reports how many jobs are waiting.
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain runs every pending job to completion, including jobs enqueued by
// handlers along the way. A job that keeps failing is retried inline up
// to its budget and then dropped, mirroring dead-lettering.
func (q *MemoryQueue) Drain(ctx context.Context) error {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return nil
		}
		env := q.pending[0]
		q.pending = q.pending[1:]
		handler := q.handlers[subjectFor(env.Job.Queue, env.Job.Name)]
		q.mu.Unlock()

		if handler == nil {
			return fmt.Errorf("no handler for job %s on queue %s", env.Job.Name, env.Job.Queue)
		}
		var err error
		for attempt := 1; attempt <= env.Retries+1; attempt++ {
			job := env.Job
			job.Attempt = attempt
			if err = handler(ctx, &job); err == nil {
				break
			}
		}
		if err != nil {
			q.logger.Error("job failed, retries exhausted",
				zap.String("job", env.Job.Name),
				zap.String("job_id", env.Job.ID),
				zap.Error(err))
		}
	}
}

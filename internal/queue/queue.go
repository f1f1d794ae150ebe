// Package queue provides the durable, at-least-once job transport used by
// the deployment workers. Producers enqueue named jobs with JSON payloads;
// consumers register a handler per job name. A handler error requeues the
// job with backoff until its retry budget runs out.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Job is one unit of work in flight.
type Job struct {
	ID      string          `json:"id"`
	Queue   string          `json:"queue"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
	Attempt int             `json:"attempt"`
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Name, err)
	}
	return nil
}

// Options tunes delivery for one enqueue call.
type Options struct {
	// Retries is the number of redeliveries after the first attempt.
	Retries int
	// Backoff is the base delay before the first retry; subsequent
	// retries double it.
	Backoff time.Duration
}

// Handler processes one job. A non-nil error triggers redelivery while
// attempts remain.
type Handler func(ctx context.Context, job *Job) error

// Queue is the transport contract. Implementations must deliver each job
// at least once and keep redelivering on handler error within the retry
// budget.
type Queue interface {
	Enqueue(ctx context.Context, queueName, jobName string, payload any, opts Options) (string, error)
	Handle(queueName, jobName string, h Handler)
	Start(ctx context.Context) error
	Close() error
}

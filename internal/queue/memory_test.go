package queue

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type deployPayload struct {
	InstallationID string `json:"installation_id"`
}

func TestMemoryQueueDeliversPayload(t *testing.T) {
	q := NewMemoryQueue(zap.NewNop())
	var got deployPayload
	q.Handle("deployments", "deploy", func(_ context.Context, job *Job) error {
		return job.Decode(&got)
	})

	id, err := q.Enqueue(context.Background(), "deployments", "deploy", deployPayload{InstallationID: "i-1"}, Options{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id == "" {
		t.Fatal("missing job id")
	}
	if err := q.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if got.InstallationID != "i-1" {
		t.Fatalf("payload lost: %+v", got)
	}
}

func TestMemoryQueueRetriesWithinBudget(t *testing.T) {
	q := NewMemoryQueue(zap.NewNop())
	attempts := 0
	q.Handle("deployments", "deploy", func(_ context.Context, job *Job) error {
		attempts++
		if job.Attempt != attempts {
			t.Fatalf("attempt %d delivered as %d", attempts, job.Attempt)
		}
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if _, err := q.Enqueue(context.Background(), "deployments", "deploy", deployPayload{}, Options{Retries: 3}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestMemoryQueueDropsAfterBudget(t *testing.T) {
	q := NewMemoryQueue(zap.NewNop())
	attempts := 0
	q.Handle("deployments", "deploy", func(context.Context, *Job) error {
		attempts++
		return errors.New("permanent")
	})

	if _, err := q.Enqueue(context.Background(), "deployments", "deploy", deployPayload{}, Options{Retries: 2}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if q.Pending() != 0 {
		t.Fatalf("failed job still pending")
	}
}

func TestMemoryQueueChainsJobs(t *testing.T) {
	q := NewMemoryQueue(zap.NewNop())
	var order []string
	q.Handle("deployments", "deploy", func(ctx context.Context, _ *Job) error {
		order = append(order, "deploy")
		_, err := q.Enqueue(ctx, "deployments", "undeploy", deployPayload{}, Options{})
		return err
	})
	q.Handle("deployments", "undeploy", func(context.Context, *Job) error {
		order = append(order, "undeploy")
		return nil
	})

	if _, err := q.Enqueue(context.Background(), "deployments", "deploy", deployPayload{}, Options{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(order) != 2 || order[0] != "deploy" || order[1] != "undeploy" {
		t.Fatalf("jobs ran out of order: %v", order)
	}
}

func TestMemoryQueueUnhandledJob(t *testing.T) {
	q := NewMemoryQueue(zap.NewNop())
	if _, err := q.Enqueue(context.Background(), "deployments", "mystery", deployPayload{}, Options{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Drain(context.Background()); err == nil {
		t.Fatal("expected error for unhandled job")
	}
}

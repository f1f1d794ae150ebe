package audit

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/skilldock/skilldock/internal/netpolicy"
	"github.com/skilldock/skilldock/internal/queue"
)

const (
	AlertQueue       = "alerts"
	JobEvaluateEvent = "evaluate_event"
)

// Recorder persists violation events alongside the alert.
type Recorder interface {
	RecordViolation(ctx context.Context, v netpolicy.Violation) error
}

// Alerter turns denied-domain events into queued alert jobs. It
// implements netpolicy.Alerter.
type Alerter struct {
	queue    queue.Queue
	recorder Recorder
	logger   *zap.Logger
}

func NewAlerter(q queue.Queue, recorder Recorder, logger *zap.Logger) *Alerter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Alerter{queue: q, recorder: recorder, logger: logger}
}

// NotifyViolation records the event and enqueues it for evaluation. Both
// sides are best effort; a failure is logged and swallowed.
func (a *Alerter) NotifyViolation(ctx context.Context, v netpolicy.Violation) {
	if a.recorder != nil {
		if err := a.recorder.RecordViolation(ctx, v); err != nil {
			a.logger.Warn("violation record failed",
				zap.String("tenant_id", v.TenantID), zap.Error(err))
		}
	}
	if a.queue == nil {
		return
	}
	if _, err := a.queue.Enqueue(ctx, AlertQueue, JobEvaluateEvent, v, queue.Options{Retries: 2}); err != nil {
		a.logger.Warn("alert enqueue failed",
			zap.String("tenant_id", v.TenantID), zap.Error(err))
	}
}

// SlackNotifier consumes alert jobs and posts them to a Slack incoming
// webhook.
type SlackNotifier struct {
	webhookURL string
	logger     *zap.Logger
}

func NewSlackNotifier(webhookURL string, logger *zap.Logger) *SlackNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlackNotifier{webhookURL: webhookURL, logger: logger}
}

// Register attaches the notifier to the alert queue.
func (n *SlackNotifier) Register(q queue.Queue) {
	q.Handle(AlertQueue, JobEvaluateEvent, n.handle)
}

func (n *SlackNotifier) handle(ctx context.Context, job *queue.Job) error {
	var v netpolicy.Violation
	if err := job.Decode(&v); err != nil {
		return err
	}
	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf("Network policy violation: tenant %s, agent %s requested %q (denied at %s)",
			v.TenantID, v.AgentID, v.RequestedDomain, v.Timestamp.Format("2006-01-02 15:04:05 UTC")),
	}
	if err := slack.PostWebhookContext(ctx, n.webhookURL, msg); err != nil {
		return fmt.Errorf("post alert webhook: %w", err)
	}
	n.logger.Info("violation alert delivered",
		zap.String("tenant_id", v.TenantID),
		zap.String("domain", v.RequestedDomain))
	return nil
}

// Package review is the job boundary to the qualitative skill reviewer.
// The scoring itself lives outside this service; this package produces
// review jobs and applies their results to the skill record.
package review

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/skilldock/skilldock/internal/queue"
	"github.com/skilldock/skilldock/internal/skill"
)

const (
	QueueName = "reviews"
	JobReview = "review_skill"
	JobResult = "review_result"

	// ApprovalThreshold is the risk score at or below which a reviewed
	// skill is approved automatically.
	ApprovalThreshold = 60
)

// Request is the payload handed to the reviewer.
type Request struct {
	SkillID       string   `json:"skill_id"`
	TenantID      string   `json:"tenant_id"`
	Source        string   `json:"source"`
	Documentation string   `json:"docs"`
	Permissions   any      `json:"permissions"`
	Roles         []string `json:"roles"`
}

// Result is the reviewer's verdict.
type Result struct {
	SkillID   string   `json:"skill_id"`
	RiskScore int      `json:"risk_score"`
	Findings  []string `json:"findings"`
	Summary   string   `json:"summary"`
}

// SkillUpdater applies a review outcome.
type SkillUpdater interface {
	SetSkillReview(ctx context.Context, skillID string, status skill.Status, riskScore int) error
}

// Coordinator submits review requests and consumes results.
type Coordinator struct {
	queue  queue.Queue
	skills SkillUpdater
	logger *zap.Logger
}

func NewCoordinator(q queue.Queue, skills SkillUpdater, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{queue: q, skills: skills, logger: logger}
	q.Handle(QueueName, JobResult, c.handleResult)
	return c
}

// Submit enqueues a skill for qualitative review.
func (c *Coordinator) Submit(ctx context.Context, req Request) error {
	if _, err := c.queue.Enqueue(ctx, QueueName, JobReview, req, queue.Options{Retries: 2}); err != nil {
		return fmt.Errorf("enqueue review for skill %s: %w", req.SkillID, err)
	}
	c.logger.Info("review requested",
		zap.String("skill_id", req.SkillID),
		zap.String("tenant_id", req.TenantID))
	return nil
}

// handleResult applies a reviewer verdict to the skill record. Scores
// above the threshold leave the skill in pending_review for a human.
func (c *Coordinator) handleResult(ctx context.Context, job *queue.Job) error {
	var res Result
	if err := job.Decode(&res); err != nil {
		return err
	}
	status := skill.StatusPendingReview
	if res.RiskScore <= ApprovalThreshold {
		status = skill.StatusApproved
	}
	if err := c.skills.SetSkillReview(ctx, res.SkillID, status, res.RiskScore); err != nil {
		return fmt.Errorf("apply review result: %w", err)
	}
	c.logger.Info("review result applied",
		zap.String("skill_id", res.SkillID),
		zap.Int("risk_score", res.RiskScore),
		zap.String("status", string(status)))
	return nil
}

// Package deploy runs the asynchronous install and uninstall lifecycle
// for skills on agents.
package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skilldock/skilldock/internal/archive"
	"github.com/skilldock/skilldock/internal/queue"
	"github.com/skilldock/skilldock/internal/skill"
)

const (
	QueueName     = "deployments"
	JobDeploy     = "deploy"
	JobUndeploy   = "undeploy"
	deployRetries = 3
	deployBackoff = 10 * time.Second
)

// Orchestrator accepts install and uninstall requests, enqueues the
// matching jobs, and implements the workers that consume them.
type Orchestrator struct {
	agents        AgentStore
	skills        SkillStore
	installations InstallationStore
	queue         queue.Queue
	storage       *archive.Storage
	policies      PolicyInvalidator
	workspaceRoot string
	logger        *zap.Logger
	now           func() time.Time
}

func NewOrchestrator(
	agents AgentStore,
	skills SkillStore,
	installations InstallationStore,
	q queue.Queue,
	storage *archive.Storage,
	policies PolicyInvalidator,
	workspaceRoot string,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		agents:        agents,
		skills:        skills,
		installations: installations,
		queue:         q,
		storage:       storage,
		policies:      policies,
		workspaceRoot: workspaceRoot,
		logger:        logger,
		now:           time.Now,
	}
	q.Handle(QueueName, JobDeploy, o.HandleDeploy)
	q.Handle(QueueName, JobUndeploy, o.HandleUndeploy)
	return o
}

// Install validates ownership and approval, creates or reuses the
// installation row in pending, and enqueues the deploy job. The returned
// copy reports deploying because deployment starts as soon as a worker
// picks the job up; the row itself stays pending until then.
func (o *Orchestrator) Install(ctx context.Context, tenantID, agentID, skillID string, envConfig map[string]string) (*Installation, error) {
	agent, err := o.agents.FindAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("find agent: %w", err)
	}
	if agent == nil || agent.TenantID != tenantID {
		return nil, ErrForbidden
	}
	sk, err := o.skills.FindSkill(ctx, skillID)
	if err != nil {
		return nil, fmt.Errorf("find skill: %w", err)
	}
	if sk == nil {
		return nil, ErrNotFound
	}
	if sk.Status != skill.StatusApproved {
		return nil, ErrNotApproved
	}
	if len(sk.CompatibleRoles) > 0 && !sk.CompatibleWith(agent.Role) {
		return nil, ErrIncompatible
	}

	existing, err := o.installations.FindInstallationByAgentSkill(ctx, agentID, sk.Name)
	if err != nil {
		return nil, fmt.Errorf("find installation: %w", err)
	}

	now := o.now().UTC()
	var inst *Installation
	switch {
	case existing == nil:
		inst = &Installation{
			ID:           uuid.NewString(),
			TenantID:     tenantID,
			AgentID:      agentID,
			SkillID:      skillID,
			SkillName:    sk.Name,
			SkillVersion: sk.Version,
			Status:       StatusPending,
			EnvConfig:    envConfig,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := o.installations.CreateInstallation(ctx, inst); err != nil {
			return nil, fmt.Errorf("create installation: %w", err)
		}
	case existing.Status == StatusUninstalled:
		existing.SkillID = skillID
		existing.SkillVersion = sk.Version
		existing.Status = StatusPending
		existing.EnvConfig = envConfig
		existing.Error = ""
		existing.DeployedAt = nil
		existing.UpdatedAt = now
		if err := o.installations.UpdateInstallation(ctx, existing); err != nil {
			return nil, fmt.Errorf("reuse installation: %w", err)
		}
		inst = existing
	default:
		return nil, ErrConflict
	}

	job := DeployJob{
		InstallationID: inst.ID,
		TenantID:       tenantID,
		AgentID:        agentID,
		SkillID:        skillID,
		SkillName:      sk.Name,
		PackagePath:    sk.PackagePath,
		Source:         sk.Source,
		Documentation:  sk.Documentation,
	}
	if _, err := o.queue.Enqueue(ctx, QueueName, JobDeploy, job, queue.Options{
		Retries: deployRetries,
		Backoff: deployBackoff,
	}); err != nil {
		return nil, fmt.Errorf("enqueue deploy job: %w", err)
	}

	o.logger.Info("install accepted",
		zap.String("tenant_id", tenantID),
		zap.String("agent_id", agentID),
		zap.String("skill", sk.Name),
		zap.String("installation_id", inst.ID))

	out := *inst
	out.Status = StatusDeploying
	return &out, nil
}

// Uninstall marks the installation uninstalled right away and enqueues
// the workspace cleanup.
func (o *Orchestrator) Uninstall(ctx context.Context, tenantID, installationID string) (*Installation, error) {
	inst, err := o.installations.FindInstallation(ctx, installationID)
	if err != nil {
		return nil, fmt.Errorf("find installation: %w", err)
	}
	if inst == nil || inst.TenantID != tenantID {
		return nil, ErrNotFound
	}
	if inst.Status == StatusUninstalled {
		return inst, nil
	}

	inst.Status = StatusUninstalled
	inst.UpdatedAt = o.now().UTC()
	if err := o.installations.UpdateInstallation(ctx, inst); err != nil {
		return nil, fmt.Errorf("update installation: %w", err)
	}

	job := UndeployJob{
		InstallationID: inst.ID,
		TenantID:       inst.TenantID,
		AgentID:        inst.AgentID,
		SkillName:      inst.SkillName,
	}
	if _, err := o.queue.Enqueue(ctx, QueueName, JobUndeploy, job, queue.Options{
		Retries: deployRetries,
		Backoff: deployBackoff,
	}); err != nil {
		return nil, fmt.Errorf("enqueue undeploy job: %w", err)
	}

	o.logger.Info("uninstall accepted",
		zap.String("tenant_id", tenantID),
		zap.String("installation_id", inst.ID))
	return inst, nil
}

// skillDir is where one skill's files live inside an agent workspace.
func (o *Orchestrator) skillDir(agentID, skillName string) string {
	return filepath.Join(o.workspaceRoot, agentID, "skills", skillName)
}

// HandleDeploy is the deploy worker. Any returned error marks the
// installation failed and lets the queue retry.
func (o *Orchestrator) HandleDeploy(ctx context.Context, job *queue.Job) error {
	var p DeployJob
	if err := job.Decode(&p); err != nil {
		return err
	}
	inst, err := o.installations.FindInstallation(ctx, p.InstallationID)
	if err != nil {
		return fmt.Errorf("find installation: %w", err)
	}
	if inst == nil {
		return fmt.Errorf("installation %s: %w", p.InstallationID, ErrNotFound)
	}
	if inst.Status == StatusUninstalled {
		// Uninstalled while the job was queued. Nothing to deploy.
		o.logger.Info("skipping deploy of uninstalled installation",
			zap.String("installation_id", inst.ID))
		return nil
	}

	inst.Status = StatusDeploying
	inst.UpdatedAt = o.now().UTC()
	if err := o.installations.UpdateInstallation(ctx, inst); err != nil {
		return fmt.Errorf("mark deploying: %w", err)
	}

	if err := o.writeWorkspace(p); err != nil {
		inst.Status = StatusFailed
		inst.Error = err.Error()
		inst.UpdatedAt = o.now().UTC()
		if uerr := o.installations.UpdateInstallation(ctx, inst); uerr != nil {
			o.logger.Error("failed to record deploy failure",
				zap.String("installation_id", inst.ID), zap.Error(uerr))
		}
		return err
	}

	if o.policies != nil {
		if _, err := o.policies.Invalidate(ctx, p.TenantID); err != nil {
			o.logger.Warn("network policy refresh failed after deploy",
				zap.String("tenant_id", p.TenantID), zap.Error(err))
		}
	}

	deployedAt := o.now().UTC()
	inst.Status = StatusDeployed
	inst.Error = ""
	inst.DeployedAt = &deployedAt
	inst.UpdatedAt = deployedAt
	if err := o.installations.UpdateInstallation(ctx, inst); err != nil {
		return fmt.Errorf("mark deployed: %w", err)
	}

	o.logger.Info("skill deployed",
		zap.String("installation_id", inst.ID),
		zap.String("agent_id", p.AgentID),
		zap.String("skill", p.SkillName))
	return nil
}

// writeWorkspace materializes the skill files. A stored archive is
// extracted without its manifest; when extraction fails, or no archive
// exists, the literal source and documentation are written instead. The
// manifest never reaches the workspace either way.
func (o *Orchestrator) writeWorkspace(p DeployJob) error {
	target := o.skillDir(p.AgentID, p.SkillName)

	if p.PackagePath != "" {
		err := o.storage.Extract(p.PackagePath, target, archive.ExtractOptions{})
		if err == nil {
			return nil
		}
		o.logger.Warn("archive extraction failed, falling back to literal files",
			zap.String("package_path", p.PackagePath), zap.Error(err))
	}
	if p.Source == "" && p.Documentation == "" {
		return fmt.Errorf("no package archive or literal content for skill %s", p.SkillName)
	}

	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("create workspace directory: %w", err)
	}
	writeLiteral := func(name, content string) error {
		if content == "" {
			return nil
		}
		dest := filepath.Join(target, name)
		_ = os.Chmod(dest, 0o644)
		if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		return os.Chmod(dest, 0o444)
	}
	if err := writeLiteral("index.js", p.Source); err != nil {
		return err
	}
	return writeLiteral("skill.md", p.Documentation)
}

// HandleUndeploy is the uninstall worker. The workspace removal is the
// hard requirement; a policy refresh failure is logged and swallowed.
func (o *Orchestrator) HandleUndeploy(ctx context.Context, job *queue.Job) error {
	var p UndeployJob
	if err := job.Decode(&p); err != nil {
		return err
	}

	target := o.skillDir(p.AgentID, p.SkillName)
	if err := makeRemovable(target); err != nil {
		o.logger.Warn("could not relax workspace permissions",
			zap.String("dir", target), zap.Error(err))
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("remove workspace %s: %w", target, err)
	}

	if o.policies != nil {
		if _, err := o.policies.Invalidate(ctx, p.TenantID); err != nil {
			o.logger.Warn("network policy refresh failed after undeploy",
				zap.String("tenant_id", p.TenantID), zap.Error(err))
		}
	}

	o.logger.Info("skill undeployed",
		zap.String("installation_id", p.InstallationID),
		zap.String("agent_id", p.AgentID),
		zap.String("skill", p.SkillName))
	return nil
}

// makeRemovable restores write permission on extracted files so RemoveAll
// can delete them.
func makeRemovable(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return os.Chmod(path, 0o755)
		}
		return os.Chmod(path, 0o644)
	})
}

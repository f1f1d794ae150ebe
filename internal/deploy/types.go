package deploy

import (
	"context"
	"errors"
	"time"

	"github.com/skilldock/skilldock/internal/netpolicy"
	"github.com/skilldock/skilldock/internal/skill"
)

// Status is the installation lifecycle state. pending moves to deploying
// once a worker picks the job up, then to deployed or failed. uninstalled
// is terminal until a re-install recreates pending.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDeploying   Status = "deploying"
	StatusDeployed    Status = "deployed"
	StatusFailed      Status = "failed"
	StatusUninstalled Status = "uninstalled"
)

// Installation records one skill installed on one agent. Uniqueness is
// per (agent_id, skill_name); a previous uninstalled row is reused on
// re-install.
type Installation struct {
	ID           string            `json:"id"`
	TenantID     string            `json:"tenant_id"`
	AgentID      string            `json:"agent_id"`
	SkillID      string            `json:"skill_id"`
	SkillName    string            `json:"skill_name"`
	SkillVersion string            `json:"skill_version"`
	Status       Status            `json:"status"`
	EnvConfig    map[string]string `json:"env_config,omitempty"`
	Error        string            `json:"error,omitempty"`
	DeployedAt   *time.Time        `json:"deployed_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// DeployJob is the payload of an asynchronous install job. It carries the
// full package reference so the worker needs no extra lookups to write
// the workspace.
type DeployJob struct {
	InstallationID string `json:"installation_id"`
	TenantID       string `json:"tenant_id"`
	AgentID        string `json:"agent_id"`
	SkillID        string `json:"skill_id"`
	SkillName      string `json:"skill_name"`
	PackagePath    string `json:"package_path,omitempty"`
	Source         string `json:"source,omitempty"`
	Documentation  string `json:"documentation,omitempty"`
}

// UndeployJob is the payload of an asynchronous uninstall job.
type UndeployJob struct {
	InstallationID string `json:"installation_id"`
	TenantID       string `json:"tenant_id"`
	AgentID        string `json:"agent_id"`
	SkillName      string `json:"skill_name"`
}

var (
	ErrNotFound     = errors.New("record not found")
	ErrForbidden    = errors.New("agent does not belong to the tenant")
	ErrNotApproved  = errors.New("skill is not approved for installation")
	ErrIncompatible = errors.New("skill does not support the agent role")
	ErrConflict     = errors.New("skill is already installed on this agent")
)

// AgentStore resolves agents for ownership checks.
type AgentStore interface {
	FindAgent(ctx context.Context, agentID string) (*skill.Agent, error)
}

// SkillStore resolves skill records.
type SkillStore interface {
	FindSkill(ctx context.Context, skillID string) (*skill.Skill, error)
}

// InstallationStore persists installation rows.
type InstallationStore interface {
	FindInstallation(ctx context.Context, id string) (*Installation, error)
	FindInstallationByAgentSkill(ctx context.Context, agentID, skillName string) (*Installation, error)
	CreateInstallation(ctx context.Context, inst *Installation) error
	UpdateInstallation(ctx context.Context, inst *Installation) error
}

// PolicyInvalidator forces a tenant policy rebuild after workspace
// changes.
type PolicyInvalidator interface {
	Invalidate(ctx context.Context, tenantID string) (*netpolicy.Policy, error)
}

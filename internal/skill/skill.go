// Package skill holds the tenant-scoped records shared across validation,
// review, and deployment.
package skill

import (
	"encoding/json"
	"time"
)

// Status tracks a skill through admin review. Only approved skills can be
// installed on agents.
type Status string

const (
	StatusPendingReview Status = "pending_review"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusDisabled      Status = "disabled"
)

// Skill is an uploaded and reviewed skill package.
type Skill struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	Name            string          `json:"name"`
	Version         string          `json:"version"`
	Category        string          `json:"category"`
	Description     string          `json:"description"`
	Source          string          `json:"source,omitempty"`
	Documentation   string          `json:"documentation,omitempty"`
	CompatibleRoles []string        `json:"compatible_roles"`
	Permissions     json.RawMessage `json:"permissions,omitempty"`
	PackagePath     string          `json:"package_path,omitempty"`
	Status          Status          `json:"status"`
	RiskScore       int             `json:"risk_score"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// CompatibleWith reports whether the skill lists the given agent role.
func (s *Skill) CompatibleWith(role string) bool {
	for _, r := range s.CompatibleRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Agent is an agent instance owned by a tenant.
type Agent struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Tenant is an isolated customer account.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

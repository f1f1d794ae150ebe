package netpolicy

import "time"

// Rule ties one permitted domain back to the skill that requested it.
type Rule struct {
	Domain    string `json:"domain"`
	SkillID   string `json:"skill_id"`
	SkillName string `json:"skill_name"`
}

// Policy is the derived per-tenant network policy. It is rebuilt from the
// permission manifests of the tenant's installed skills, never authored.
type Policy struct {
	TenantID       string    `json:"tenant_id"`
	Rules          []Rule    `json:"rules"`
	AllowedDomains []string  `json:"allowed_domains"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// Violation is the audit record produced by every domain check.
type Violation struct {
	TenantID        string    `json:"tenant_id"`
	AgentID         string    `json:"agent_id,omitempty"`
	RequestedDomain string    `json:"requested_domain"`
	Allowed         bool      `json:"allowed"`
	MatchedRule     *Rule     `json:"matched_rule,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// InstalledSkill is the slice of a skill record the aggregator needs.
// Permissions carries the stored permission manifest in whatever shape it
// was persisted; the aggregator normalizes it before use.
type InstalledSkill struct {
	SkillID     string
	SkillName   string
	Permissions any
}

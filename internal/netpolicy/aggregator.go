package netpolicy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skilldock/skilldock/internal/manifest"
)

// DefaultTTL bounds how stale a served policy can be. Expiry is the only
// invalidation path in normal operation; deployments additionally force a
// rebuild through Invalidate.
const DefaultTTL = 5 * time.Minute

// AgentSource lists a tenant's agents.
type AgentSource interface {
	TenantAgentIDs(ctx context.Context, tenantID string) ([]string, error)
}

// SkillSource lists the skills currently installed on an agent.
type SkillSource interface {
	InstalledSkills(ctx context.Context, agentID string) ([]InstalledSkill, error)
}

// Alerter receives denied-domain events. Best effort, nothing to inspect.
type Alerter interface {
	NotifyViolation(ctx context.Context, v Violation)
}

// Aggregator derives tenant network policies from installed skills and
// answers domain checks against them.
type Aggregator struct {
	agents  AgentSource
	skills  SkillSource
	cache   Cache
	alerter Alerter
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

func NewAggregator(agents AgentSource, skills SkillSource, cache Cache, alerter Alerter, ttl time.Duration, logger *zap.Logger) *Aggregator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		agents:  agents,
		skills:  skills,
		cache:   cache,
		alerter: alerter,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
	}
}

// GeneratePolicy serves the cached policy when one is live, otherwise
// rebuilds it from every skill installed on every agent of the tenant.
// A tenant without agents gets an empty policy, cached like any other.
func (a *Aggregator) GeneratePolicy(ctx context.Context, tenantID string) (*Policy, error) {
	cached, err := a.cache.Get(ctx, tenantID)
	if err != nil {
		// A broken cache degrades to a rebuild, never a failed request.
		a.logger.Warn("policy cache read failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
	if cached != nil {
		return cached, nil
	}

	agentIDs, err := a.agents.TenantAgentIDs(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list tenant agents: %w", err)
	}
	sort.Strings(agentIDs)

	policy := &Policy{TenantID: tenantID, GeneratedAt: a.now().UTC()}
	seen := make(map[string]bool)
	for _, agentID := range agentIDs {
		installed, err := a.skills.InstalledSkills(ctx, agentID)
		if err != nil {
			return nil, fmt.Errorf("list installed skills for agent %s: %w", agentID, err)
		}
		for _, sk := range installed {
			perms, err := manifest.Normalize(sk.Permissions)
			if err != nil {
				a.logger.Warn("skipping skill with malformed permissions",
					zap.String("tenant_id", tenantID),
					zap.String("skill_id", sk.SkillID),
					zap.Error(err))
				continue
			}
			for _, domain := range perms.Network.AllowedDomains {
				domain = strings.ToLower(strings.TrimSpace(domain))
				if domain == "" {
					continue
				}
				policy.Rules = append(policy.Rules, Rule{
					Domain:    domain,
					SkillID:   sk.SkillID,
					SkillName: sk.SkillName,
				})
				if !seen[domain] {
					seen[domain] = true
					policy.AllowedDomains = append(policy.AllowedDomains, domain)
				}
			}
		}
	}
	sort.Strings(policy.AllowedDomains)

	if err := a.cache.Set(ctx, tenantID, policy, a.ttl); err != nil {
		a.logger.Warn("policy cache write failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
	return policy, nil
}

// ValidateDomain checks one candidate domain against the tenant's policy.
// The first matching rule wins. A miss is recorded as a violation and
// pushed to the alerter.
func (a *Aggregator) ValidateDomain(ctx context.Context, tenantID, domain, agentID string) (*Violation, error) {
	policy, err := a.GeneratePolicy(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	v := &Violation{
		TenantID:        tenantID,
		AgentID:         agentID,
		RequestedDomain: domain,
		Timestamp:       a.now().UTC(),
	}
	for i := range policy.Rules {
		if DomainMatches(domain, policy.Rules[i].Domain) {
			rule := policy.Rules[i]
			v.Allowed = true
			v.MatchedRule = &rule
			return v, nil
		}
	}

	a.logger.Info("domain denied by network policy",
		zap.String("tenant_id", tenantID),
		zap.String("agent_id", agentID),
		zap.String("domain", domain))
	if a.alerter != nil {
		a.alerter.NotifyViolation(ctx, *v)
	}
	return v, nil
}

// Invalidate drops the cached policy and rebuilds it immediately, so the
// next check sees the current installation set instead of waiting out the
// TTL.
func (a *Aggregator) Invalidate(ctx context.Context, tenantID string) (*Policy, error) {
	if err := a.cache.Delete(ctx, tenantID); err != nil {
		a.logger.Warn("policy cache evict failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
	return a.GeneratePolicy(ctx, tenantID)
}

// DomainMatches tests a candidate domain against one rule pattern.
// "*" matches everything. "*.suffix" matches any subdomain of suffix and
// the bare suffix itself. Anything else must match exactly.
func DomainMatches(domain, pattern string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "*" {
		return true
	}
	if domain == pattern {
		return true
	}
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		return domain == suffix || strings.HasSuffix(domain, "."+suffix)
	}
	return false
}

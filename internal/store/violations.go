package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/skilldock/skilldock/internal/netpolicy"
)

// RecordViolation persists one domain-check outcome. Rows are write-once
// audit data; nothing updates them.
func (s *Store) RecordViolation(ctx context.Context, v netpolicy.Violation) error {
	var matched any
	if v.MatchedRule != nil {
		matched = v.MatchedRule.Domain
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO policy_violations (id, tenant_id, agent_id, requested_domain,
			allowed, matched_rule, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.NewString(), v.TenantID, v.AgentID, v.RequestedDomain,
		v.Allowed, matched, v.Timestamp)
	if err != nil {
		return fmt.Errorf("record policy violation: %w", err)
	}
	return nil
}

// ListViolations returns a tenant's denied-domain history, newest first.
func (s *Store) ListViolations(ctx context.Context, tenantID string, limit int) ([]netpolicy.Violation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT tenant_id, COALESCE(agent_id,''), requested_domain, allowed,
			COALESCE(matched_rule,''), created_at
		FROM policy_violations
		WHERE tenant_id = $1 AND allowed = false
		ORDER BY created_at DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list policy violations: %w", err)
	}
	defer rows.Close()

	var out []netpolicy.Violation
	for rows.Next() {
		var (
			v       netpolicy.Violation
			matched string
		)
		if err := rows.Scan(&v.TenantID, &v.AgentID, &v.RequestedDomain,
			&v.Allowed, &matched, &v.Timestamp); err != nil {
			return nil, fmt.Errorf("scan policy violation: %w", err)
		}
		if matched != "" {
			v.MatchedRule = &netpolicy.Rule{Domain: matched}
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

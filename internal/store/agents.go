package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/skilldock/skilldock/internal/skill"
)

// SaveTenant upserts a tenant.
func (s *Store) SaveTenant(ctx context.Context, t *skill.Tenant) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO tenants (id, name, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		t.ID, t.Name, time.Now())
	if err != nil {
		return fmt.Errorf("save tenant %s: %w", t.ID, err)
	}
	return nil
}

// FindTenant retrieves a tenant by ID, nil when absent.
func (s *Store) FindTenant(ctx context.Context, id string) (*skill.Tenant, error) {
	row := s.db.QueryRow(ctx, `SELECT id, name, created_at FROM tenants WHERE id = $1`, id)
	var t skill.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find tenant %s: %w", id, err)
	}
	return &t, nil
}

// SaveAgent upserts an agent.
func (s *Store) SaveAgent(ctx context.Context, a *skill.Agent) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO agents (id, tenant_id, name, role, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			status = EXCLUDED.status`,
		a.ID, a.TenantID, a.Name, a.Role, a.Status, time.Now())
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.ID, err)
	}
	return nil
}

// FindAgent retrieves a single agent by ID, nil when absent.
func (s *Store) FindAgent(ctx context.Context, id string) (*skill.Agent, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, tenant_id, name, role, status, created_at
		FROM agents WHERE id = $1`, id)
	var a skill.Agent
	err := row.Scan(&a.ID, &a.TenantID, &a.Name, &a.Role, &a.Status, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find agent %s: %w", id, err)
	}
	return &a, nil
}

// TenantAgentIDs lists the IDs of every agent owned by a tenant.
func (s *Store) TenantAgentIDs(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM agents WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list tenant agents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan agent id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

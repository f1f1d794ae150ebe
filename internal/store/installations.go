package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/skilldock/skilldock/internal/deploy"
)

const installationColumns = `id, tenant_id, agent_id, skill_id, skill_name,
	skill_version, status, env_config, COALESCE(error,''), deployed_at,
	created_at, updated_at`

func scanInstallation(row pgx.Row) (*deploy.Installation, error) {
	var inst deploy.Installation
	err := row.Scan(
		&inst.ID, &inst.TenantID, &inst.AgentID, &inst.SkillID, &inst.SkillName,
		&inst.SkillVersion, &inst.Status, &inst.EnvConfig, &inst.Error,
		&inst.DeployedAt, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// CreateInstallation inserts a new installation row. The unique index on
// (agent_id, skill_name) is the backstop against concurrent duplicate
// installs.
func (s *Store) CreateInstallation(ctx context.Context, inst *deploy.Installation) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO installations (id, tenant_id, agent_id, skill_id, skill_name,
			skill_version, status, env_config, error, deployed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		inst.ID, inst.TenantID, inst.AgentID, inst.SkillID, inst.SkillName,
		inst.SkillVersion, string(inst.Status), inst.EnvConfig, inst.Error,
		inst.DeployedAt, inst.CreatedAt, inst.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create installation %s: %w", inst.ID, err)
	}
	return nil
}

// UpdateInstallation rewrites the mutable fields of an installation.
func (s *Store) UpdateInstallation(ctx context.Context, inst *deploy.Installation) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE installations SET
			skill_id = $2,
			skill_version = $3,
			status = $4,
			env_config = $5,
			error = $6,
			deployed_at = $7,
			updated_at = $8
		WHERE id = $1`,
		inst.ID, inst.SkillID, inst.SkillVersion, string(inst.Status),
		inst.EnvConfig, inst.Error, inst.DeployedAt, inst.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update installation %s: %w", inst.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update installation %s: no such row", inst.ID)
	}
	return nil
}

// FindInstallation retrieves an installation by ID, nil when absent.
func (s *Store) FindInstallation(ctx context.Context, id string) (*deploy.Installation, error) {
	row := s.db.QueryRow(ctx, `SELECT `+installationColumns+` FROM installations WHERE id = $1`, id)
	inst, err := scanInstallation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find installation %s: %w", id, err)
	}
	return inst, nil
}

// FindInstallationByAgentSkill looks up the unique row for one skill on
// one agent, nil when absent.
func (s *Store) FindInstallationByAgentSkill(ctx context.Context, agentID, skillName string) (*deploy.Installation, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+installationColumns+` FROM installations
		WHERE agent_id = $1 AND skill_name = $2`, agentID, skillName)
	inst, err := scanInstallation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find installation for agent %s skill %s: %w", agentID, skillName, err)
	}
	return inst, nil
}

// ListInstallations returns every installation on an agent, newest first.
func (s *Store) ListInstallations(ctx context.Context, agentID string) ([]*deploy.Installation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+installationColumns+` FROM installations
		WHERE agent_id = $1 ORDER BY created_at DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list installations: %w", err)
	}
	defer rows.Close()

	var out []*deploy.Installation
	for rows.Next() {
		inst, err := scanInstallation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan installation: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

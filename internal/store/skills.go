package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/skilldock/skilldock/internal/netpolicy"
	"github.com/skilldock/skilldock/internal/skill"
)

// SaveSkill upserts a skill record.
func (s *Store) SaveSkill(ctx context.Context, sk *skill.Skill) error {
	now := time.Now()
	_, err := s.db.Exec(ctx, `
		INSERT INTO skills (id, tenant_id, name, version, category, description,
			source, documentation, compatible_roles, permissions, package_path,
			status, risk_score, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		ON CONFLICT (id) DO UPDATE SET
			version = EXCLUDED.version,
			category = EXCLUDED.category,
			description = EXCLUDED.description,
			source = EXCLUDED.source,
			documentation = EXCLUDED.documentation,
			compatible_roles = EXCLUDED.compatible_roles,
			permissions = EXCLUDED.permissions,
			package_path = EXCLUDED.package_path,
			status = EXCLUDED.status,
			risk_score = EXCLUDED.risk_score,
			updated_at = EXCLUDED.updated_at`,
		sk.ID, sk.TenantID, sk.Name, sk.Version, sk.Category, sk.Description,
		sk.Source, sk.Documentation, sk.CompatibleRoles, permissionsParam(sk.Permissions),
		sk.PackagePath, string(sk.Status), sk.RiskScore, now)
	if err != nil {
		return fmt.Errorf("save skill %s: %w", sk.ID, err)
	}
	return nil
}

// permissionsParam normalizes an empty raw message to NULL so the jsonb
// column never sees a zero-length document.
func permissionsParam(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

const skillColumns = `id, tenant_id, name, version, category, description,
	COALESCE(source,''), COALESCE(documentation,''), compatible_roles,
	COALESCE(permissions, 'null'::jsonb), COALESCE(package_path,''),
	status, risk_score, created_at, updated_at`

func scanSkill(row pgx.Row) (*skill.Skill, error) {
	var sk skill.Skill
	err := row.Scan(
		&sk.ID, &sk.TenantID, &sk.Name, &sk.Version, &sk.Category, &sk.Description,
		&sk.Source, &sk.Documentation, &sk.CompatibleRoles, &sk.Permissions,
		&sk.PackagePath, &sk.Status, &sk.RiskScore, &sk.CreatedAt, &sk.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sk, nil
}

// FindSkill retrieves a skill by ID, nil when absent.
func (s *Store) FindSkill(ctx context.Context, id string) (*skill.Skill, error) {
	row := s.db.QueryRow(ctx, `SELECT `+skillColumns+` FROM skills WHERE id = $1`, id)
	sk, err := scanSkill(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find skill %s: %w", id, err)
	}
	return sk, nil
}

// ListSkills returns all skills of one tenant, newest first.
func (s *Store) ListSkills(ctx context.Context, tenantID string) ([]*skill.Skill, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+skillColumns+` FROM skills
		WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	var skills []*skill.Skill
	for rows.Next() {
		sk, err := scanSkill(rows)
		if err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		skills = append(skills, sk)
	}
	return skills, rows.Err()
}

// SetSkillReview records a review outcome.
func (s *Store) SetSkillReview(ctx context.Context, skillID string, status skill.Status, riskScore int) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE skills SET status = $2, risk_score = $3, updated_at = $4
		WHERE id = $1`, skillID, string(status), riskScore, time.Now())
	if err != nil {
		return fmt.Errorf("update skill review %s: %w", skillID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update skill review %s: no such skill", skillID)
	}
	return nil
}

// InstalledSkills returns every skill actively installed on an agent, in
// a stable order, with its stored permission manifest decoded for the
// policy aggregator.
func (s *Store) InstalledSkills(ctx context.Context, agentID string) ([]netpolicy.InstalledSkill, error) {
	rows, err := s.db.Query(ctx, `
		SELECT sk.id, sk.name, COALESCE(sk.permissions, 'null'::jsonb)
		FROM installations i
		JOIN skills sk ON sk.id = i.skill_id
		WHERE i.agent_id = $1 AND i.status NOT IN ('uninstalled', 'failed')
		ORDER BY i.created_at`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list installed skills: %w", err)
	}
	defer rows.Close()

	var out []netpolicy.InstalledSkill
	for rows.Next() {
		var (
			item netpolicy.InstalledSkill
			raw  json.RawMessage
		)
		if err := rows.Scan(&item.SkillID, &item.SkillName, &raw); err != nil {
			return nil, fmt.Errorf("scan installed skill: %w", err)
		}
		if len(raw) > 0 {
			var perms any
			if err := json.Unmarshal(raw, &perms); err != nil {
				return nil, fmt.Errorf("decode permissions for skill %s: %w", item.SkillID, err)
			}
			item.Permissions = perms
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

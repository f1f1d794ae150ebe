package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/skilldock/skilldock/internal/audit"
)

// Write persists one audit entry. Implements audit.Sink.
func (s *Store) Write(ctx context.Context, e audit.Entry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_log (id, actor, action, target, tenant_id, severity, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.NewString(), e.Actor, e.Action, e.Target, e.TenantID, e.Severity, e.Details)
	if err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/openpubs/publications-api/internal/models"
)

// AuditRepository appends audit trail records. Records written inside a
// transition's transaction share its fate; failed-deletion events from the
// best-effort destroy path are written directly.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Insert appends one audit record.
func (r *AuditRepository) Insert(ctx context.Context, exec sqlx.ExtContext, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs
	(id, actor_id, actor_name, action, resource, resource_id, old_values, new_values, remarks, detail, created_at)
	VALUES (:id, :actor_id, :actor_name, :action, :resource, :resource_id, :old_values, :new_values, :remarks, :detail, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, log); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListByResource returns the audit trail for one entity, newest first.
func (r *AuditRepository) ListByResource(ctx context.Context, resource, resourceID string) ([]models.AuditLog, error) {
	const query = `SELECT id, actor_id, actor_name, action, resource, resource_id, old_values, new_values, remarks, detail, created_at
	FROM audit_logs WHERE resource = $1 AND resource_id = $2 ORDER BY created_at DESC`
	var logs []models.AuditLog
	if err := r.db.SelectContext(ctx, &logs, query, resource, resourceID); err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return logs, nil
}

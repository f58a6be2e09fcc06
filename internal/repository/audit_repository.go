package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ezmail/ezmail/internal/database"
	"github.com/ezmail/ezmail/internal/model"
)

// AuditRepository handles audit log persistence
type AuditRepository struct {
	db *database.Postgres
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *database.Postgres) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create inserts a new audit log entry
func (r *AuditRepository) Create(ctx context.Context, log *model.AuditLog) error {
	metadataJSON, err := json.Marshal(log.Metadata)
	if err != nil || log.Metadata == nil {
		metadataJSON = []byte("{}")
	}

	query := `
		INSERT INTO audit_logs (id, account_id, action, resource_type, resource_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.db.ExecContext(ctx, query,
		log.ID,
		log.AccountID,
		log.Action,
		log.ResourceType,
		log.ResourceID,
		metadataJSON,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

// ListByAccount returns the most recent audit entries of an account
func (r *AuditRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]model.AuditLog, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = DefaultListLimit
	}

	query := `
		SELECT id, account_id, action, resource_type, resource_id, metadata, created_at
		FROM audit_logs
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []model.AuditLog
	for rows.Next() {
		var l model.AuditLog
		var metadataJSON []byte
		if err := rows.Scan(&l.ID, &l.AccountID, &l.Action, &l.ResourceType, &l.ResourceID,
			&metadataJSON, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &l.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
			}
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

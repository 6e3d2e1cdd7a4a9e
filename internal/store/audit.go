package store

import (
	"context"
	"fmt"

	"github.com/apexlabs/apex-keys/internal/models"
	"github.com/apexlabs/apex-keys/pkg/database"
)

// PgAuditStore is the PostgreSQL-backed AuditStore.
type PgAuditStore struct {
	db *database.DB
}

func NewPgAuditStore(db *database.DB) *PgAuditStore {
	return &PgAuditStore{db: db}
}

func (s *PgAuditStore) Append(ctx context.Context, entry models.AuditEntry) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO audit (action, detail, admin_ip, timestamp)
		VALUES ($1, NULLIF($2, ''), $3, $4)
	`, entry.Action, entry.Detail, entry.AdminIP, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (s *PgAuditStore) List(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, action, COALESCE(detail, ''), admin_ip, timestamp
		FROM audit ORDER BY timestamp DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	entries := make([]models.AuditEntry, 0)
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.Action, &e.Detail, &e.AdminIP, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

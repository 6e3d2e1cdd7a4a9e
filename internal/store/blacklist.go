package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/apexlabs/apex-keys/internal/models"
	"github.com/apexlabs/apex-keys/pkg/database"
)

// PgBlacklistStore is the PostgreSQL-backed BlacklistStore.
type PgBlacklistStore struct {
	db *database.DB
}

func NewPgBlacklistStore(db *database.DB) *PgBlacklistStore {
	return &PgBlacklistStore{db: db}
}

// Match tests all presented identifiers in one round trip. Which entry wins
// when several match is not defined; any match denies.
func (s *PgBlacklistStore) Match(ctx context.Context, hwid, ip, nickname string) (*models.BlacklistEntry, error) {
	var e models.BlacklistEntry
	err := s.db.Pool.QueryRow(ctx, `
		SELECT id, kind, value, reason, created_at FROM blacklist
		WHERE (kind = 'hwid' AND value = $1)
		   OR (kind = 'ip' AND value = $2)
		   OR ($3 <> '' AND kind = 'nickname' AND value = $3)
		LIMIT 1
	`, hwid, ip, nickname).Scan(&e.ID, &e.Kind, &e.Value, &e.Reason, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("blacklist match: %w", err)
	}
	return &e, nil
}

func (s *PgBlacklistStore) Add(ctx context.Context, kind models.BlacklistKind, value string, reason *string) (*models.BlacklistEntry, error) {
	e := models.BlacklistEntry{Kind: kind, Value: value, Reason: reason}
	err := s.db.Pool.QueryRow(ctx, `
		INSERT INTO blacklist (kind, value, reason) VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, kind, value, reason).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("add blacklist entry: %w", err)
	}
	return &e, nil
}

func (s *PgBlacklistStore) Remove(ctx context.Context, id int64) (*models.BlacklistEntry, error) {
	var e models.BlacklistEntry
	err := s.db.Pool.QueryRow(ctx, `
		DELETE FROM blacklist WHERE id = $1
		RETURNING id, kind, value, reason, created_at
	`, id).Scan(&e.ID, &e.Kind, &e.Value, &e.Reason, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("remove blacklist entry: %w", err)
	}
	return &e, nil
}

func (s *PgBlacklistStore) List(ctx context.Context) ([]models.BlacklistEntry, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, kind, value, reason, created_at FROM blacklist
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list blacklist: %w", err)
	}
	defer rows.Close()

	entries := make([]models.BlacklistEntry, 0)
	for rows.Next() {
		var e models.BlacklistEntry
		if err := rows.Scan(&e.ID, &e.Kind, &e.Value, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan blacklist entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/apexlabs/apex-keys/internal/models"
	"github.com/apexlabs/apex-keys/pkg/database"
)

// PgKeyStore is the PostgreSQL-backed KeyStore.
type PgKeyStore struct {
	db *database.DB
}

func NewPgKeyStore(db *database.DB) *PgKeyStore {
	return &PgKeyStore{db: db}
}

const keyColumns = `id, token, status, duration_type, duration_value, expires_at,
	deleted_at, nickname, hwid, ip, note, usage_count, last_used_at, created_at`

func scanKey(row pgx.Row) (*models.Key, error) {
	var k models.Key
	err := row.Scan(&k.ID, &k.Token, &k.Status, &k.DurationType, &k.DurationValue,
		&k.ExpiresAt, &k.DeletedAt, &k.Nickname, &k.Hwid, &k.IP, &k.Note,
		&k.UsageCount, &k.LastUsedAt, &k.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan key: %w", err)
	}
	return &k, nil
}

func (s *PgKeyStore) Create(ctx context.Context, key *models.Key) error {
	row := s.db.Pool.QueryRow(ctx, `
		INSERT INTO keys (token, status, duration_type, duration_value, expires_at, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, key.Token, key.Status, key.DurationType, key.DurationValue, key.ExpiresAt, key.Note)

	if err := row.Scan(&key.ID, &key.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("insert key: %w", err)
	}
	return nil
}

func (s *PgKeyStore) GetByToken(ctx context.Context, token string) (*models.Key, error) {
	row := s.db.Pool.QueryRow(ctx,
		`SELECT `+keyColumns+` FROM keys WHERE token = $1`, token)
	return scanKey(row)
}

func (s *PgKeyStore) GetByID(ctx context.Context, id string) (*models.Key, error) {
	row := s.db.Pool.QueryRow(ctx,
		`SELECT `+keyColumns+` FROM keys WHERE id = $1`, id)
	return scanKey(row)
}

func (s *PgKeyStore) List(ctx context.Context, status models.KeyStatus, limit int) ([]models.Key, error) {
	query := `SELECT ` + keyColumns + ` FROM keys`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	keys := make([]models.Key, 0)
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

// MarkExpired is a compare-and-swap on status: only the request that
// observes the key while it is still active performs the transition.
func (s *PgKeyStore) MarkExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE keys SET status = 'expired', deleted_at = $2
		WHERE id = $1 AND status = 'active'
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("mark expired: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Bind claims the device slot. The WHERE hwid IS NULL clause closes the
// race between the unbound check and the write: of two concurrent first
// validations only one row update succeeds.
func (s *PgKeyStore) Bind(ctx context.Context, id, hwid string, ip, nickname *string) (bool, error) {
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE keys SET hwid = $2, ip = $3, nickname = $4
		WHERE id = $1 AND hwid IS NULL AND status = 'active'
	`, id, hwid, ip, nickname)
	if err != nil {
		return false, fmt.Errorf("bind key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgKeyStore) HwidOwnsOtherKey(ctx context.Context, hwid, excludeToken string) (bool, error) {
	var exists bool
	err := s.db.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM keys WHERE hwid = $1 AND status = 'active' AND token <> $2
		)
	`, hwid, excludeToken).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("hwid ownership check: %w", err)
	}
	return exists, nil
}

func (s *PgKeyStore) RecordSuccess(ctx context.Context, id string, nickname *string, now time.Time) error {
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE keys SET usage_count = usage_count + 1,
			last_used_at = $2,
			nickname = COALESCE($3, nickname)
		WHERE id = $1
	`, id, now, nickname)
	if err != nil {
		return fmt.Errorf("record success: %w", err)
	}
	return nil
}

func (s *PgKeyStore) SoftDelete(ctx context.Context, id string, now time.Time) (*models.Key, error) {
	row := s.db.Pool.QueryRow(ctx, `
		UPDATE keys SET status = 'deleted', deleted_at = $2
		WHERE id = $1
		RETURNING `+keyColumns, id, now)
	return scanKey(row)
}

// Restore reactivates an expired or deleted key with a new duration policy.
// The bound hwid/ip/nickname are left untouched so the key stays pinned to
// its original device.
func (s *PgKeyStore) Restore(ctx context.Context, id string, dt models.DurationType, value *int, expiresAt *time.Time) error {
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE keys SET status = 'active', duration_type = $2, duration_value = $3,
			expires_at = $4, deleted_at = NULL
		WHERE id = $1 AND status IN ('expired', 'deleted')
	`, id, dt, value, expiresAt)
	if err != nil {
		return fmt.Errorf("restore key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgKeyStore) CountByStatus(ctx context.Context, status models.KeyStatus) (int64, error) {
	var count int64
	err := s.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM keys WHERE status = $1`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count keys: %w", err)
	}
	return count, nil
}

// PurgeDeletedBefore hard-deletes key records whose retention clock ran out.
func (s *PgKeyStore) PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Pool.Exec(ctx, `
		DELETE FROM keys WHERE status = 'deleted' AND deleted_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge keys: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ExpireDue flips past-due active keys in bulk. Validation does not depend
// on this; it is a housekeeping pass so listings stay accurate.
func (s *PgKeyStore) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE keys SET status = 'expired', deleted_at = $1
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("expire due keys: %w", err)
	}
	return tag.RowsAffected(), nil
}

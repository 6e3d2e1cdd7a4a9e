package store

import (
	"context"
	"fmt"
	"time"

	"github.com/apexlabs/apex-keys/internal/models"
	"github.com/apexlabs/apex-keys/pkg/database"
)

// PgLedgerStore is the PostgreSQL-backed LedgerStore.
type PgLedgerStore struct {
	db *database.DB
}

func NewPgLedgerStore(db *database.DB) *PgLedgerStore {
	return &PgLedgerStore{db: db}
}

func (s *PgLedgerStore) AppendUsage(ctx context.Context, rec models.UsageRecord) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO key_usage (key_token, hwid, ip, nickname, timestamp)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5)
	`, rec.Key, rec.Hwid, rec.IP, rec.Nickname, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("append usage: %w", err)
	}
	return nil
}

func (s *PgLedgerStore) AppendLog(ctx context.Context, entry models.LogEntry) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO logs (type, key_token, nickname, hwid, ip, message, admin_ip, timestamp)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''),
			NULLIF($6, ''), NULLIF($7, ''), $8)
	`, entry.Type, entry.Key, entry.Nickname, entry.Hwid, entry.IP,
		entry.Message, entry.AdminIP, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

func (s *PgLedgerStore) ListUsage(ctx context.Context, token string, limit int) ([]models.UsageRecord, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, key_token, COALESCE(hwid, ''), COALESCE(ip, ''), COALESCE(nickname, ''), timestamp
		FROM key_usage WHERE key_token = $1
		ORDER BY timestamp DESC LIMIT $2
	`, token, limit)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	records := make([]models.UsageRecord, 0)
	for rows.Next() {
		var r models.UsageRecord
		if err := rows.Scan(&r.ID, &r.Key, &r.Hwid, &r.IP, &r.Nickname, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PgLedgerStore) ListLogs(ctx context.Context, eventType models.EventType, limit int) ([]models.LogEntry, error) {
	query := `
		SELECT id, type, COALESCE(key_token, ''), COALESCE(nickname, ''), COALESCE(hwid, ''),
			COALESCE(ip, ''), COALESCE(message, ''), COALESCE(admin_ip, ''), timestamp
		FROM logs`
	args := []any{}
	if eventType != "" {
		query += ` WHERE type = $1`
		args = append(args, eventType)
	}
	query += fmt.Sprintf(` ORDER BY timestamp DESC LIMIT %d`, limit)

	rows, err := s.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	entries := make([]models.LogEntry, 0)
	for rows.Next() {
		var e models.LogEntry
		if err := rows.Scan(&e.ID, &e.Type, &e.Key, &e.Nickname, &e.Hwid,
			&e.IP, &e.Message, &e.AdminIP, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ExecutionsByDay returns a per-day execution count for the dashboard,
// including zero-count days.
func (s *PgLedgerStore) ExecutionsByDay(ctx context.Context, days int) ([]models.DayCount, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT d::date AS day, COUNT(l.id)
		FROM generate_series(
			date_trunc('day', NOW()) - ($1 - 1) * INTERVAL '1 day',
			date_trunc('day', NOW()),
			INTERVAL '1 day'
		) AS d
		LEFT JOIN logs l ON l.type = 'execution'
			AND l.timestamp >= d AND l.timestamp < d + INTERVAL '1 day'
		GROUP BY day ORDER BY day
	`, days)
	if err != nil {
		return nil, fmt.Errorf("executions by day: %w", err)
	}
	defer rows.Close()

	counts := make([]models.DayCount, 0, days)
	for rows.Next() {
		var day time.Time
		var c models.DayCount
		if err := rows.Scan(&day, &c.Count); err != nil {
			return nil, fmt.Errorf("scan day count: %w", err)
		}
		c.Date = day.Format("2006-01-02")
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func (s *PgLedgerStore) UniqueHwidsSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := s.db.Pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT hwid) FROM key_usage
		WHERE hwid IS NOT NULL AND timestamp >= $1
	`, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("unique hwids: %w", err)
	}
	return count, nil
}

package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Validation traffic is many small reads and conditional updates
	config.MaxConns = 50
	config.MinConns = 10

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate creates the tables and indexes the service needs.
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		// Activation keys. hwid/ip/nickname are set by the first successful
		// validation; deleted_at starts the retention clock.
		`CREATE TABLE IF NOT EXISTS keys (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			token TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'active'
				CHECK (status IN ('active', 'expired', 'deleted', 'banned')),
			duration_type TEXT NOT NULL
				CHECK (duration_type IN ('minutes', 'days', 'permanent')),
			duration_value INT,
			expires_at TIMESTAMPTZ,
			deleted_at TIMESTAMPTZ,
			nickname TEXT,
			hwid TEXT,
			ip TEXT,
			note TEXT,
			usage_count BIGINT NOT NULL DEFAULT 0,
			last_used_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,

		// Append-only record of successful validations
		`CREATE TABLE IF NOT EXISTS key_usage (
			id BIGSERIAL PRIMARY KEY,
			key_token TEXT NOT NULL,
			hwid TEXT,
			ip TEXT,
			nickname TEXT,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,

		// Validation attempts and lifecycle events
		`CREATE TABLE IF NOT EXISTS logs (
			id BIGSERIAL PRIMARY KEY,
			type TEXT NOT NULL
				CHECK (type IN ('execution', 'create', 'delete', 'restore',
					'invalid_attempt', 'blocked_attempt', 'admin_action')),
			key_token TEXT,
			nickname TEXT,
			hwid TEXT,
			ip TEXT,
			message TEXT,
			admin_ip TEXT,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,

		// Banned identifiers
		`CREATE TABLE IF NOT EXISTS blacklist (
			id BIGSERIAL PRIMARY KEY,
			kind TEXT NOT NULL CHECK (kind IN ('hwid', 'ip', 'nickname')),
			value TEXT NOT NULL,
			reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (kind, value)
		);`,

		// Administrative actions
		`CREATE TABLE IF NOT EXISTS audit (
			id BIGSERIAL PRIMARY KEY,
			action TEXT NOT NULL,
			detail TEXT,
			admin_ip TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_keys_hwid ON keys(hwid) WHERE hwid IS NOT NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_keys_status ON keys(status);`,
		`CREATE INDEX IF NOT EXISTS idx_keys_expires_at ON keys(expires_at) WHERE expires_at IS NOT NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_keys_deleted_at ON keys(deleted_at) WHERE deleted_at IS NOT NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_key_usage_token_time ON key_usage(key_token, timestamp DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_key_usage_hwid_time ON key_usage(hwid, timestamp DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_logs_type_time ON logs(type, timestamp DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_logs_time ON logs(timestamp DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_time ON audit(timestamp DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_blacklist_value ON blacklist(value);`,
	}

	for _, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w\nQuery: %s", err, migration)
		}
	}

	return nil
}

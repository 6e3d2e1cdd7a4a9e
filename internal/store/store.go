// Package store holds the persistence contracts for the key service and
// their PostgreSQL implementations. The validator and admin services only
// see these interfaces, which keeps the lifecycle logic testable without a
// database.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/apexlabs/apex-keys/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a uniqueness constraint is violated.
	ErrDuplicate = errors.New("record already exists")
)

// KeyStore persists activation keys. The conditional updates (MarkExpired,
// Bind) report whether this caller won the update so concurrent validators
// can re-read and re-evaluate instead of clobbering each other.
type KeyStore interface {
	Create(ctx context.Context, key *models.Key) error
	GetByToken(ctx context.Context, token string) (*models.Key, error)
	GetByID(ctx context.Context, id string) (*models.Key, error)
	List(ctx context.Context, status models.KeyStatus, limit int) ([]models.Key, error)

	// MarkExpired flips an active key to expired and stamps deleted_at.
	// Returns false when the key was not active anymore.
	MarkExpired(ctx context.Context, id string, now time.Time) (bool, error)

	// Bind claims an unbound active key for a device. Returns false when
	// another request bound it first or the key left the active state.
	Bind(ctx context.Context, id, hwid string, ip, nickname *string) (bool, error)

	// HwidOwnsOtherKey reports whether a different active key is already
	// bound to this hardware ID.
	HwidOwnsOtherKey(ctx context.Context, hwid, excludeToken string) (bool, error)

	// RecordSuccess bumps the usage counter, refreshes last_used_at and
	// the nickname.
	RecordSuccess(ctx context.Context, id string, nickname *string, now time.Time) error

	SoftDelete(ctx context.Context, id string, now time.Time) (*models.Key, error)
	Restore(ctx context.Context, id string, dt models.DurationType, value *int, expiresAt *time.Time) error

	CountByStatus(ctx context.Context, status models.KeyStatus) (int64, error)
	PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

// LedgerStore is the append-only side: usage records and event logs.
type LedgerStore interface {
	AppendUsage(ctx context.Context, rec models.UsageRecord) error
	AppendLog(ctx context.Context, entry models.LogEntry) error

	ListUsage(ctx context.Context, token string, limit int) ([]models.UsageRecord, error)
	ListLogs(ctx context.Context, eventType models.EventType, limit int) ([]models.LogEntry, error)
	ExecutionsByDay(ctx context.Context, days int) ([]models.DayCount, error)
	UniqueHwidsSince(ctx context.Context, since time.Time) (int64, error)
}

// BlacklistStore holds banned identifiers.
type BlacklistStore interface {
	// Match returns the first entry matching any of the presented
	// identifiers, or nil when none match. Empty identifiers are skipped.
	Match(ctx context.Context, hwid, ip, nickname string) (*models.BlacklistEntry, error)

	Add(ctx context.Context, kind models.BlacklistKind, value string, reason *string) (*models.BlacklistEntry, error)
	Remove(ctx context.Context, id int64) (*models.BlacklistEntry, error)
	List(ctx context.Context) ([]models.BlacklistEntry, error)
}

// AuditStore records administrative actions.
type AuditStore interface {
	Append(ctx context.Context, entry models.AuditEntry) error
	List(ctx context.Context, limit int) ([]models.AuditEntry, error)
}

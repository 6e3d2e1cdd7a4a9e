package models

import (
	"time"
)

// KeyStatus is the lifecycle state of an activation key.
type KeyStatus string

const (
	StatusActive  KeyStatus = "active"
	StatusExpired KeyStatus = "expired"
	StatusDeleted KeyStatus = "deleted"
	// StatusBanned is reserved in the schema but never set by the
	// validation path. Administrative tooling may use it later.
	StatusBanned KeyStatus = "banned"
)

// DurationType describes how a key's lifetime is measured.
type DurationType string

const (
	DurationMinutes   DurationType = "minutes"
	DurationDays      DurationType = "days"
	DurationPermanent DurationType = "permanent"
)

// Key is an activation credential. Token is immutable once created.
// Hwid/IP/Nickname are bound by the first successful validation and
// survive restores.
type Key struct {
	ID            string       `json:"id"`
	Token         string       `json:"key"`
	Status        KeyStatus    `json:"status"`
	DurationType  DurationType `json:"duration_type"`
	DurationValue *int         `json:"duration_value,omitempty"`
	ExpiresAt     *time.Time   `json:"expires_at,omitempty"`
	DeletedAt     *time.Time   `json:"deleted_at,omitempty"`
	Nickname      *string      `json:"nickname,omitempty"`
	Hwid          *string      `json:"hwid,omitempty"`
	IP            *string      `json:"ip,omitempty"`
	Note          *string      `json:"note,omitempty"`
	UsageCount    int64        `json:"usage_count"`
	LastUsedAt    *time.Time   `json:"last_used_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// ExpiresAtFor computes the expiry instant for a duration policy,
// relative to now. Permanent keys never expire.
func ExpiresAtFor(dt DurationType, value *int, now time.Time) *time.Time {
	if dt == DurationPermanent || value == nil || *value <= 0 {
		return nil
	}
	var d time.Duration
	switch dt {
	case DurationMinutes:
		d = time.Duration(*value) * time.Minute
	case DurationDays:
		d = time.Duration(*value) * 24 * time.Hour
	default:
		return nil
	}
	t := now.Add(d)
	return &t
}

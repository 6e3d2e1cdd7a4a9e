package models

import (
	"time"
)

// BlacklistKind is the identifier class a blacklist entry matches against.
type BlacklistKind string

const (
	BlacklistHwid     BlacklistKind = "hwid"
	BlacklistIP       BlacklistKind = "ip"
	BlacklistNickname BlacklistKind = "nickname"
)

// BlacklistEntry is a banned identifier. (Kind, Value) is unique.
type BlacklistEntry struct {
	ID        int64         `json:"id"`
	Kind      BlacklistKind `json:"kind"`
	Value     string        `json:"value"`
	Reason    *string       `json:"reason,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// EventType classifies log entries and notification events.
type EventType string

const (
	EventExecution      EventType = "execution"
	EventCreate         EventType = "create"
	EventDelete         EventType = "delete"
	EventRestore        EventType = "restore"
	EventInvalidAttempt EventType = "invalid_attempt"
	EventBlockedAttempt EventType = "blocked_attempt"
	EventAdminAction    EventType = "admin_action"
)

// LogEntry is an append-only record of a validation attempt or key
// lifecycle event.
type LogEntry struct {
	ID        int64     `json:"id"`
	Type      EventType `json:"type"`
	Key       string    `json:"key,omitempty"`
	Nickname  string    `json:"nickname,omitempty"`
	Hwid      string    `json:"hwid,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Message   string    `json:"message,omitempty"`
	AdminIP   string    `json:"admin_ip,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// UsageRecord is an immutable fact written on every successful validation.
type UsageRecord struct {
	ID        int64     `json:"id"`
	Key       string    `json:"key"`
	Hwid      string    `json:"hwid,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Nickname  string    `json:"nickname,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditEntry records an administrative action.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	AdminIP   string    `json:"admin_ip"`
	Timestamp time.Time `json:"timestamp"`
}

// DayCount is one bucket of the execution histogram on the dashboard.
type DayCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// Stats is the dashboard summary payload.
type Stats struct {
	TotalActive     int64      `json:"total_active"`
	TotalExpired    int64      `json:"total_expired"`
	TotalDeleted    int64      `json:"total_deleted"`
	ExecutionsByDay []DayCount `json:"executions_by_day"`
	UniqueHwids7d   int64      `json:"unique_hwids_7d"`
}

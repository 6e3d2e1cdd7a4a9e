package services

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/apexlabs/apex-keys/internal/models"
	"github.com/apexlabs/apex-keys/internal/store"
)

// Ledger appends usage records and event logs. Writes are best effort by
// contract: a failed append never changes the validation outcome, it is
// logged and counted so operators can alert on sustained loss.
type Ledger struct {
	store store.LedgerStore
	feed  *Feed

	logDrops   atomic.Int64
	usageDrops atomic.Int64
}

// NewLedger wraps a ledger store. feed may be nil.
func NewLedger(s store.LedgerStore, feed *Feed) *Ledger {
	return &Ledger{store: s, feed: feed}
}

// Log appends an event log entry and pushes it to the live feed.
func (l *Ledger) Log(ctx context.Context, entry models.LogEntry) {
	if err := l.store.AppendLog(ctx, entry); err != nil {
		l.logDrops.Add(1)
		log.Error().Err(err).Str("type", string(entry.Type)).Msg("Failed to append log entry")
		return
	}
	if l.feed != nil {
		l.feed.Publish(entry)
	}
}

// RecordUsage appends a usage record for a successful validation.
func (l *Ledger) RecordUsage(ctx context.Context, rec models.UsageRecord) {
	if err := l.store.AppendUsage(ctx, rec); err != nil {
		l.usageDrops.Add(1)
		log.Error().Err(err).Str("key", rec.Key).Msg("Failed to append usage record")
	}
}

// Drops reports how many log and usage writes have been lost since start.
func (l *Ledger) Drops() (logDrops, usageDrops int64) {
	return l.logDrops.Load(), l.usageDrops.Load()
}

package workers

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/apexlabs/apex-keys/internal/models"
	"github.com/apexlabs/apex-keys/internal/services"
	"github.com/apexlabs/apex-keys/internal/store"
)

// RetentionPurger hard-deletes key records once their post-deletion
// retention period has elapsed.
type RetentionPurger struct {
	keys      store.KeyStore
	notifier  *services.Notifier
	retention time.Duration
	interval  time.Duration
}

func NewRetentionPurger(keys store.KeyStore, notifier *services.Notifier, retention, interval time.Duration) *RetentionPurger {
	return &RetentionPurger{
		keys:      keys,
		notifier:  notifier,
		retention: retention,
		interval:  interval,
	}
}

// Start runs the purge loop until ctx is cancelled.
func (p *RetentionPurger) Start(ctx context.Context) {
	log.Info().Dur("interval", p.interval).Dur("retention", p.retention).Msg("Starting retention purger")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *RetentionPurger) runOnce(ctx context.Context) {
	cutoff := time.Now().Add(-p.retention)

	opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	purged, err := p.keys.PurgeDeletedBefore(opCtx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Retention purge failed")
		return
	}
	if purged == 0 {
		return
	}

	log.Info().Int64("purged", purged).Msg("Purged deleted keys past retention")

	if p.notifier != nil {
		printer := message.NewPrinter(language.English)
		p.notifier.Send(services.Event{
			Type:    models.EventAdminAction,
			Message: printer.Sprintf("Retention purge removed %d keys", purged),
		})
	}
}

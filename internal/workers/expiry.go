package workers

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/apexlabs/apex-keys/internal/store"
)

// ExpirySweeper flips past-due active keys to expired in bulk. Validation
// applies expiry lazily on its own; this keeps listings and stats honest
// for keys that are never presented again.
type ExpirySweeper struct {
	keys     store.KeyStore
	interval time.Duration
}

func NewExpirySweeper(keys store.KeyStore, interval time.Duration) *ExpirySweeper {
	return &ExpirySweeper{keys: keys, interval: interval}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *ExpirySweeper) Start(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("Starting expiry sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			expired, err := s.keys.ExpireDue(opCtx, time.Now())
			cancel()
			if err != nil {
				log.Error().Err(err).Msg("Expiry sweep failed")
				continue
			}
			if expired > 0 {
				log.Info().Int64("expired", expired).Msg("Swept past-due keys")
			}
		}
	}
}

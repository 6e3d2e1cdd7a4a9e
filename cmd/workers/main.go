package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/apexlabs/apex-keys/internal/config"
	"github.com/apexlabs/apex-keys/internal/services"
	"github.com/apexlabs/apex-keys/internal/store"
	"github.com/apexlabs/apex-keys/internal/workers"
	"github.com/apexlabs/apex-keys/pkg/database"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Str("environment", cfg.Environment).Msg("Starting Apex Keys workers")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	keyStore := store.NewPgKeyStore(db)

	notifier := services.NewNotifier(cfg.WebhookURL, cfg.DiscordBotToken, cfg.DiscordChannelID,
		cfg.NotifyAttempts, cfg.NotifyBackoff)
	notifier.Start(ctx, 1)

	purger := workers.NewRetentionPurger(keyStore, notifier, cfg.RetentionPeriod, cfg.PurgeInterval)
	sweeper := workers.NewExpirySweeper(keyStore, cfg.ExpirySweep)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		purger.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		sweeper.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down workers...")
	cancel()
	wg.Wait()
	notifier.Wait()
	log.Info().Msg("Workers stopped")
}

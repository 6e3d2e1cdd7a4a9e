package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/apexlabs/apex-keys/internal/config"
	"github.com/apexlabs/apex-keys/internal/handlers"
	"github.com/apexlabs/apex-keys/internal/services"
	"github.com/apexlabs/apex-keys/internal/store"
	"github.com/apexlabs/apex-keys/pkg/crypto"
	"github.com/apexlabs/apex-keys/pkg/database"
)

func main() {
	// Setup logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Str("environment", cfg.Environment).Msg("Starting Apex Keys API")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Run migrations
	log.Info().Msg("Running database migrations...")
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}
	log.Info().Msg("Migrations completed successfully")

	// Redis backs the stats cache only; the service runs without it
	var cache *redis.Client
	if opts, err := redis.ParseURL(cfg.RedisURL); err == nil {
		client := redis.NewClient(opts)
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := client.Ping(pingCtx).Err(); err == nil {
			cache = client
		} else {
			log.Warn().Err(err).Msg("Redis unavailable, stats cache disabled")
		}
		pingCancel()
	}

	cipher, err := crypto.New(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid encryption key")
	}

	// Stores
	keyStore := store.NewPgKeyStore(db)
	ledgerStore := store.NewPgLedgerStore(db)
	blacklistStore := store.NewPgBlacklistStore(db)
	auditStore := store.NewPgAuditStore(db)

	// Services
	feed := services.NewFeed()
	ledger := services.NewLedger(ledgerStore, feed)

	limiter := services.NewRateLimiter(nil)
	limiter.StartAutoSweep(ctx, cfg.RateSweepEvery)

	notifier := services.NewNotifier(cfg.WebhookURL, cfg.DiscordBotToken, cfg.DiscordChannelID,
		cfg.NotifyAttempts, cfg.NotifyBackoff)
	notifier.Start(ctx, cfg.NotifyWorkers)

	validator := services.NewValidator(keyStore, blacklistStore, ledger, limiter, notifier, cipher,
		services.ValidatorOptions{
			HwidLimit:    cfg.HwidRateLimit,
			IPLimit:      cfg.IPRateLimit,
			Window:       cfg.RateWindow,
			Block:        cfg.RateBlock,
			StoreTimeout: cfg.StoreTimeout,
		})

	keyService := services.NewKeyService(keyStore, ledgerStore, auditStore, ledger, notifier, cipher, cache)

	// Handlers
	validateHandler := handlers.NewValidateHandler(validator)
	keysHandler := handlers.NewKeysHandler(keyService)
	blacklistHandler := handlers.NewBlacklistHandler(blacklistStore, auditStore)
	logsHandler := handlers.NewLogsHandler(ledgerStore)
	auditHandler := handlers.NewAuditHandler(auditStore)
	statsHandler := handlers.NewStatsHandler(keyService)
	authHandler := handlers.NewAuthHandler(cfg, auditStore)
	wsHandler := handlers.NewWSHandler(feed, cfg.JWTSecret)
	healthHandler := handlers.NewHealthHandler(cfg, db, ledger, notifier)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", healthHandler.Get)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Long-lived: the live log feed must not inherit the request
		// timeout. It authenticates via query token inside the handler.
		r.Get("/logs/live", wsHandler.LiveLogs)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			// Device-facing
			r.Post("/validate", validateHandler.Validate)

			// Admin login
			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/refresh", authHandler.Refresh)
			r.Get("/auth/discord/login", authHandler.DiscordOAuthLogin)
			r.Get("/auth/discord/callback", authHandler.DiscordOAuthCallback)

			// Admin surface
			r.Group(func(r chi.Router) {
				r.Use(handlers.AuthMiddleware(cfg.JWTSecret))

				r.Route("/keys", func(r chi.Router) {
					r.Get("/", keysHandler.List)
					r.Post("/", keysHandler.Create)
					r.Patch("/", keysHandler.Restore)
					r.Delete("/", keysHandler.Delete)
					r.Get("/usage", keysHandler.Usage)
				})

				r.Route("/blacklist", func(r chi.Router) {
					r.Get("/", blacklistHandler.List)
					r.Post("/", blacklistHandler.Add)
					r.Delete("/", blacklistHandler.Remove)
				})

				r.Get("/logs", logsHandler.List)
				r.Get("/audit", auditHandler.List)
				r.Get("/stats", statsHandler.Get)
			})
		})
	})

	// Start server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
		cancel()
	}()

	log.Info().Str("port", cfg.Port).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}

	notifier.Wait()
	log.Info().Msg("Server stopped")
}

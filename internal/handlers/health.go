package handlers

import (
	"net/http"

	"github.com/apexlabs/apex-keys/internal/config"
	"github.com/apexlabs/apex-keys/internal/services"
	"github.com/apexlabs/apex-keys/pkg/database"
)

// HealthHandler reports configuration completeness and degradation
// counters for operational alerting.
type HealthHandler struct {
	cfg      *config.Config
	db       *database.DB
	ledger   *services.Ledger
	notifier *services.Notifier
}

func NewHealthHandler(cfg *config.Config, db *database.DB, ledger *services.Ledger, notifier *services.Notifier) *HealthHandler {
	return &HealthHandler{cfg: cfg, db: db, ledger: ledger, notifier: notifier}
}

// Get returns service health.
// GET /health
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	checks := map[string]bool{
		"database_url":        h.cfg.DatabaseURL != "",
		"admin_username":      h.cfg.AdminUsername != "",
		"admin_password_hash": h.cfg.AdminPasswordHash != "",
		"jwt_secret":          h.cfg.JWTSecret != "default-insecure-secret-change-me",
		"jwt_refresh_secret":  h.cfg.JWTRefreshSecret != "default-insecure-refresh-change-me",
		"webhook_url":         h.cfg.WebhookURL != "",
	}

	dbOK := h.db.Pool.Ping(r.Context()) == nil

	logDrops, usageDrops := h.ledger.Drops()

	required := []string{"database_url", "admin_username", "admin_password_hash", "jwt_secret", "jwt_refresh_secret"}
	ok := dbOK
	for _, k := range required {
		ok = ok && checks[k]
	}

	status := http.StatusOK
	if !ok {
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, map[string]any{
		"ok":       ok,
		"database": dbOK,
		"env":      checks,
		"ledger": map[string]int64{
			"log_drops":   logDrops,
			"usage_drops": usageDrops,
		},
		"notifications_dropped": h.notifier.Dropped(),
	})
}

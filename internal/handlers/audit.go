package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/apexlabs/apex-keys/internal/store"
)

// AuditHandler serves the administrative action trail.
type AuditHandler struct {
	audit store.AuditStore
}

func NewAuditHandler(audit store.AuditStore) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// List returns the most recent audit entries.
// GET /api/v1/audit
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.List(r.Context(), 500)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list audit entries")
		writeError(w, http.StatusInternalServerError, "Failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit": entries})
}

package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/apexlabs/apex-keys/internal/services"
)

// StatsHandler serves the dashboard summary.
type StatsHandler struct {
	svc *services.KeyService
}

func NewStatsHandler(svc *services.KeyService) *StatsHandler {
	return &StatsHandler{svc: svc}
}

// Get returns key counts, the 14-day execution histogram and the number
// of distinct devices seen in the last week.
// GET /api/v1/stats
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to build stats")
		writeError(w, http.StatusInternalServerError, "Failed to build stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

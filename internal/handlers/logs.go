package handlers

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/apexlabs/apex-keys/internal/models"
	"github.com/apexlabs/apex-keys/internal/store"
)

// LogsHandler serves the event log with optional CSV/JSON export.
type LogsHandler struct {
	ledger store.LedgerStore
}

func NewLogsHandler(ledger store.LedgerStore) *LogsHandler {
	return &LogsHandler{ledger: ledger}
}

// List returns log entries, newest first.
// GET /api/v1/logs?type=execution&limit=200&format=csv|json
func (h *LogsHandler) List(w http.ResponseWriter, r *http.Request) {
	eventType := models.EventType(r.URL.Query().Get("type"))

	limit := 200
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 1000 {
		limit = 1000
	}

	logs, err := h.ledger.ListLogs(r.Context(), eventType, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list logs")
		writeError(w, http.StatusInternalServerError, "Failed to list logs")
		return
	}

	switch r.URL.Query().Get("format") {
	case "csv":
		h.exportCSV(w, logs)
	case "json":
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=logs.json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.Encode(logs)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
	}
}

func (h *LogsHandler) exportCSV(w http.ResponseWriter, logs []models.LogEntry) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=logs.csv")

	cw := csv.NewWriter(w)
	cw.Write([]string{"type", "key", "nickname", "hwid", "ip", "message", "timestamp"})
	for _, entry := range logs {
		cw.Write([]string{
			string(entry.Type), entry.Key, entry.Nickname, entry.Hwid,
			entry.IP, entry.Message, entry.Timestamp.Format("2006-01-02 15:04:05"),
		})
	}
	cw.Flush()
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/apexlabs/apex-keys/internal/models"
	"github.com/apexlabs/apex-keys/internal/store"
)

// BlacklistHandler manages the deny-list of HWIDs, IPs and nicknames.
type BlacklistHandler struct {
	blacklist store.BlacklistStore
	audit     store.AuditStore
}

func NewBlacklistHandler(blacklist store.BlacklistStore, audit store.AuditStore) *BlacklistHandler {
	return &BlacklistHandler{blacklist: blacklist, audit: audit}
}

// List returns all blacklist entries.
// GET /api/v1/blacklist
func (h *BlacklistHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.blacklist.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list blacklist")
		writeError(w, http.StatusInternalServerError, "Failed to list blacklist")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"list": entries})
}

type addBlacklistRequest struct {
	Kind   models.BlacklistKind `json:"kind"`
	Value  string               `json:"value"`
	Reason *string              `json:"reason,omitempty"`
}

// Add inserts a new banned identifier.
// POST /api/v1/blacklist
func (h *BlacklistHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req addBlacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	validKind := req.Kind == models.BlacklistHwid || req.Kind == models.BlacklistIP || req.Kind == models.BlacklistNickname
	if !validKind || req.Value == "" || len(req.Value) > 300 || (req.Reason != nil && len(*req.Reason) > 500) {
		writeError(w, http.StatusBadRequest, "Invalid request data")
		return
	}

	entry, err := h.blacklist.Add(r.Context(), req.Kind, req.Value, req.Reason)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "Already blacklisted")
			return
		}
		log.Error().Err(err).Msg("Failed to add blacklist entry")
		writeError(w, http.StatusInternalServerError, "Failed to add blacklist entry")
		return
	}

	_ = h.audit.Append(r.Context(), models.AuditEntry{
		Action: "blacklist_add", Detail: string(req.Kind) + ":" + req.Value,
		AdminIP: clientIP(r), Timestamp: time.Now(),
	})

	writeJSON(w, http.StatusCreated, map[string]any{"entry": entry})
}

// Remove deletes a blacklist entry.
// DELETE /api/v1/blacklist?id=
func (h *BlacklistHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "ID is required")
		return
	}

	entry, err := h.blacklist.Remove(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		log.Error().Err(err).Int64("id", id).Msg("Failed to remove blacklist entry")
		writeError(w, http.StatusInternalServerError, "Failed to remove blacklist entry")
		return
	}

	_ = h.audit.Append(r.Context(), models.AuditEntry{
		Action: "blacklist_remove", Detail: string(entry.Kind) + ":" + entry.Value,
		AdminIP: clientIP(r), Timestamp: time.Now(),
	})

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

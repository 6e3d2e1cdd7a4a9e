package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/apexlabs/apex-keys/internal/models"
	"github.com/apexlabs/apex-keys/internal/services"
	"github.com/apexlabs/apex-keys/internal/store"
)

// KeysHandler exposes the administrative key lifecycle.
type KeysHandler struct {
	svc *services.KeyService
}

func NewKeysHandler(svc *services.KeyService) *KeysHandler {
	return &KeysHandler{svc: svc}
}

// List returns keys, newest first, optionally filtered by status.
// GET /api/v1/keys?status=active
func (h *KeysHandler) List(w http.ResponseWriter, r *http.Request) {
	status := models.KeyStatus(r.URL.Query().Get("status"))
	keys, err := h.svc.List(r.Context(), status, 500)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list keys")
		writeError(w, http.StatusInternalServerError, "Failed to list keys")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

type createKeyRequest struct {
	DurationType  models.DurationType `json:"duration_type"`
	DurationValue *int                `json:"duration_value,omitempty"`
	Note          *string             `json:"note,omitempty"`
}

func validPolicy(dt models.DurationType) bool {
	return dt == models.DurationMinutes || dt == models.DurationDays || dt == models.DurationPermanent
}

// Create mints a new key.
// POST /api/v1/keys
func (h *KeysHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !validPolicy(req.DurationType) || (req.Note != nil && len(*req.Note) > 500) {
		writeError(w, http.StatusBadRequest, "Invalid request data")
		return
	}

	key, err := h.svc.Create(r.Context(), req.DurationType, req.DurationValue, req.Note, clientIP(r))
	if err != nil {
		if errors.Is(err, services.ErrBadPolicy) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Msg("Failed to create key")
		writeError(w, http.StatusInternalServerError, "Failed to create key")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"key": key})
}

type restoreKeyRequest struct {
	ID            string              `json:"id"`
	DurationType  models.DurationType `json:"duration_type"`
	DurationValue *int                `json:"duration_value,omitempty"`
}

// Restore reactivates an expired or deleted key with a new duration
// policy; the device binding is preserved.
// PATCH /api/v1/keys
func (h *KeysHandler) Restore(w http.ResponseWriter, r *http.Request) {
	var req restoreKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ID == "" || !validPolicy(req.DurationType) {
		writeError(w, http.StatusBadRequest, "Invalid request data")
		return
	}

	key, err := h.svc.Restore(r.Context(), req.ID, req.DurationType, req.DurationValue, clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "Key not found")
		case errors.Is(err, services.ErrNotRestorable), errors.Is(err, services.ErrBadPolicy):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Error().Err(err).Str("id", req.ID).Msg("Failed to restore key")
			writeError(w, http.StatusInternalServerError, "Failed to restore key")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"key": key})
}

// Delete soft-deletes a key.
// DELETE /api/v1/keys?id=
func (h *KeysHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "ID is required")
		return
	}

	if err := h.svc.Delete(r.Context(), id, clientIP(r)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Key not found")
			return
		}
		log.Error().Err(err).Str("id", id).Msg("Failed to delete key")
		writeError(w, http.StatusInternalServerError, "Failed to delete key")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Usage returns the recent usage trail for a token.
// GET /api/v1/keys/usage?key=
func (h *KeysHandler) Usage(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("key")
	if token == "" {
		writeError(w, http.StatusBadRequest, "Key is required")
		return
	}

	usage, err := h.svc.Usage(r.Context(), token, 200)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list key usage")
		writeError(w, http.StatusInternalServerError, "Failed to list key usage")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"usage": usage})
}

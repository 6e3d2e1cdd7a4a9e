package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/apexlabs/apex-keys/internal/services"
)

// ValidateHandler serves the device-facing validation endpoint.
type ValidateHandler struct {
	validator *services.Validator
}

func NewValidateHandler(v *services.Validator) *ValidateHandler {
	return &ValidateHandler{validator: v}
}

type validateRequest struct {
	Key      string `json:"key"`
	Hwid     string `json:"hwid"`
	IP       string `json:"ip,omitempty"`
	Nickname string `json:"nickname,omitempty"`
}

type validateResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// Validate decides whether a (key, hwid) pair is authorized.
// POST /api/v1/validate
//
// Business denials come back as 200 with valid:false so automated probing
// cannot tell them apart by status code; only BadInput (400),
// RateLimited (429) and Blocked (403) are distinguished out of band.
func (h *ValidateHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, validateResponse{Valid: false, Message: services.DecisionBadInput.Message()})
		return
	}

	ip := req.IP
	if ip == "" {
		ip = clientIP(r)
	}

	result, err := h.validator.Validate(r.Context(), services.ValidateRequest{
		Key:      req.Key,
		Hwid:     req.Hwid,
		IP:       ip,
		Nickname: req.Nickname,
	})
	if err != nil {
		// Store unreachable: retryable infrastructure failure, never a
		// business denial.
		log.Error().Err(err).Msg("Validation aborted by infrastructure failure")
		writeJSON(w, http.StatusServiceUnavailable, validateResponse{Valid: false, Message: "Service temporarily unavailable. Try again."})
		return
	}

	status := http.StatusOK
	switch result.Decision {
	case services.DecisionBadInput:
		status = http.StatusBadRequest
	case services.DecisionRateLimited:
		status = http.StatusTooManyRequests
		if result.RetryAfter > 0 {
			seconds := int(result.RetryAfter/time.Second) + 1
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
		}
	case services.DecisionBlocked:
		status = http.StatusForbidden
	}

	writeJSON(w, status, validateResponse{
		Valid:   result.Decision == services.DecisionValid,
		Message: result.Decision.Message(),
	})
}

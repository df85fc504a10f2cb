package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"RewardPool/internal/access"
	"RewardPool/internal/ledger"
)

type errorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

// writeLedgerError maps domain errors onto HTTP responses.
func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	var rl *ledger.RateLimitError
	switch {
	case errors.As(err, &rl):
		retry := int(rl.NextEligible.Sub(s.clock.Now()).Round(time.Second).Seconds())
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retry))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error: "rate_limited", Message: err.Error(), RetryAfter: retry,
		})
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "invalid_amount", err.Error())
	case errors.Is(err, ledger.ErrInvalidParticipant), errors.Is(err, access.ErrEmptyPrincipal):
		writeError(w, http.StatusBadRequest, "invalid_participant", err.Error())
	case errors.Is(err, access.ErrUnknownCapability):
		writeError(w, http.StatusBadRequest, "unknown_capability", err.Error())
	case errors.Is(err, ledger.ErrUnauthorized), errors.Is(err, access.ErrNotAdmin):
		writeError(w, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, ledger.ErrNothingToWithdraw):
		writeError(w, http.StatusConflict, "nothing_to_withdraw", err.Error())
	case errors.Is(err, access.ErrLastAdmin):
		writeError(w, http.StatusConflict, "last_admin", err.Error())
	case errors.Is(err, ledger.ErrUnknownPeriod):
		writeError(w, http.StatusNotFound, "unknown_period", err.Error())
	default:
		s.log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

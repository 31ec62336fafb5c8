package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"tapduel/auth"
	"tapduel/match"
	"tapduel/matchqueue"
	"tapduel/payment"
)

// decode parses a JSON body strictly: unknown fields are a 400, matching the
// contract that malformed input never reaches a handler.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code string, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("code", code), zap.Error(err))
		// Internal details stay in the log.
		writeJSON(w, status, map[string]any{"error": code})
		return
	}
	writeJSON(w, status, map[string]any{"error": code, "detail": err.Error()})
}

// respondError maps domain errors onto the HTTP contract: 403 for identity
// mismatches, 404 for unknown entities, 409 for state conflicts, 400 for
// everything the client can fix, 500 otherwise.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, match.ErrNotFound),
		errors.Is(err, payment.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		s.writeError(w, http.StatusNotFound, "not_found", err)

	case errors.Is(err, match.ErrNotParticipant),
		errors.Is(err, match.ErrNotWinner),
		errors.Is(err, payment.ErrNotOwner):
		s.writeError(w, http.StatusForbidden, "forbidden", err)

	case errors.Is(err, matchqueue.ErrActiveMatch),
		errors.Is(err, match.ErrInvalidTransition),
		errors.Is(err, match.ErrAlreadyClaimed),
		errors.Is(err, match.ErrSignalAlreadySet),
		errors.Is(err, payment.ErrDuplicateReference):
		s.writeError(w, http.StatusConflict, "conflict", err)

	case errors.Is(err, match.ErrStakeNotConfirmed),
		errors.Is(err, match.ErrNotStarted),
		errors.Is(err, match.ErrWindowExpired),
		errors.Is(err, match.ErrTimingDiscrepancy),
		errors.Is(err, match.ErrClaimWindowClosed),
		errors.Is(err, matchqueue.ErrNotQueued),
		errors.Is(err, payment.ErrInvalidAmount),
		errors.Is(err, auth.ErrMissingWallet):
		s.writeError(w, http.StatusBadRequest, "bad_request", err)

	default:
		s.writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}

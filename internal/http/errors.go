package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/ride-escrow/internal/escrow"
	"github.com/example/ride-escrow/internal/ledger"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var statusByError = []struct {
	err    error
	status int
}{
	{escrow.ErrRideNotFound, http.StatusNotFound},
	{ledger.ErrAppNotFound, http.StatusNotFound},
	{escrow.ErrNotTheDriver, http.StatusForbidden},
	{escrow.ErrSelfJoinForbidden, http.StatusForbidden},
	{escrow.ErrDriverCannotCancelBooking, http.StatusForbidden},
	{escrow.ErrNotAPassenger, http.StatusForbidden},
	{escrow.ErrWrongPaymentSender, http.StatusForbidden},
	{escrow.ErrRideNotActive, http.StatusConflict},
	{escrow.ErrRideFull, http.StatusConflict},
	{escrow.ErrAlreadyCompleted, http.StatusConflict},
	{escrow.ErrNoPassengers, http.StatusConflict},
	{escrow.ErrInvalidSeatCount, http.StatusBadRequest},
	{escrow.ErrInvalidPrice, http.StatusBadRequest},
	{escrow.ErrWrongPaymentRecipient, http.StatusBadRequest},
	{escrow.ErrWrongPaymentAmount, http.StatusBadRequest},
	{escrow.ErrAmountOverflow, http.StatusBadRequest},
	{ledger.ErrInvalidAmount, http.StatusBadRequest},
	{ledger.ErrInsufficientFunds, http.StatusPaymentRequired},
}

func statusFor(err error) int {
	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// writeEscrowError maps rejections to client errors. Infrastructure
// failures are logged and reported without detail.
func (s *Server) writeEscrowError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err, "request_id", requestIDFromContext(r.Context()))
		writeError(w, status, escrow.ErrorKind(err), "internal error")
		return
	}
	writeError(w, status, escrow.ErrorKind(err), err.Error())
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

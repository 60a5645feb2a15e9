package escrow

import (
	"errors"

	"github.com/example/ride-escrow/internal/ledger"
)

// Rejections. Any of these aborts the whole transaction group.
var (
	ErrInvalidSeatCount          = errors.New("seats must be between 1 and 6")
	ErrInvalidPrice              = errors.New("price must be greater than zero")
	ErrRideNotFound              = errors.New("ride not found")
	ErrRideNotActive             = errors.New("ride not active")
	ErrRideFull                  = errors.New("ride is full")
	ErrSelfJoinForbidden         = errors.New("driver cannot join own ride")
	ErrWrongPaymentSender        = errors.New("payment must be sent by the caller")
	ErrWrongPaymentRecipient     = errors.New("payment must go to the escrow account")
	ErrWrongPaymentAmount        = errors.New("wrong payment amount")
	ErrNotAPassenger             = errors.New("not a passenger of this ride")
	ErrNotTheDriver              = errors.New("only the driver can do this")
	ErrAlreadyCompleted          = errors.New("ride already completed")
	ErrNoPassengers              = errors.New("ride has no passengers")
	ErrDriverCannotCancelBooking = errors.New("driver cannot cancel a booking")
	ErrAmountOverflow            = errors.New("amount overflows")
	ErrCorruptRecord             = errors.New("corrupt escrow record")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidSeatCount, "InvalidSeatCount"},
	{ErrInvalidPrice, "InvalidPrice"},
	{ErrRideNotFound, "RideNotFound"},
	{ErrRideNotActive, "RideNotActive"},
	{ErrRideFull, "RideFull"},
	{ErrSelfJoinForbidden, "SelfJoinForbidden"},
	{ErrWrongPaymentSender, "WrongPaymentSender"},
	{ErrWrongPaymentRecipient, "WrongPaymentRecipient"},
	{ErrWrongPaymentAmount, "WrongPaymentAmount"},
	{ErrNotAPassenger, "NotAPassenger"},
	{ErrNotTheDriver, "NotTheDriver"},
	{ErrAlreadyCompleted, "AlreadyCompleted"},
	{ErrNoPassengers, "NoPassengers"},
	{ErrDriverCannotCancelBooking, "DriverCannotCancelBooking"},
	{ErrAmountOverflow, "AmountOverflow"},
	{ErrCorruptRecord, "CorruptRecord"},
	{ledger.ErrInsufficientFunds, "InsufficientFunds"},
	{ledger.ErrInvalidAmount, "InvalidAmount"},
	{ledger.ErrBalanceOverflow, "BalanceOverflow"},
	{ledger.ErrAppNotFound, "AppNotFound"},
}

// ErrorKind names the rejection behind err, or "Internal" when err is an
// infrastructure failure.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "Internal"
}

// IsDomainError reports whether err is a rejected transaction rather than a
// store or infrastructure failure.
func IsDomainError(err error) bool {
	if err == nil || errors.Is(err, ErrCorruptRecord) {
		return false
	}
	return ErrorKind(err) != "Internal"
}

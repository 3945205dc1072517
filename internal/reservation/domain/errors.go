package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for callers that branch on the failure class
// (HTTP status mapping, retry decisions).
type Kind string

const (
	KindInvalidInput Kind = "invalid_input"
	KindBusinessRule Kind = "business_rule"
	KindConflict     Kind = "conflict"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
)

// Error is the structured error returned by every reservation operation.
// Code is stable and machine-readable; Message is for humans.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

// Error implements [error].
func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Code, e.Message)
}

// Is matches on Kind, and on Code when the target carries one.
// errors.Is(err, ErrConflict) holds for every conflict;
// errors.Is(err, ErrVehicleUnavailable) only for that code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

// WithMessage returns a copy of e carrying a formatted message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts the structured Error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Kind sentinels.
var (
	ErrInvalidInput = &Error{Kind: KindInvalidInput}
	ErrBusinessRule = &Error{Kind: KindBusinessRule}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrForbidden    = &Error{Kind: KindForbidden}
	ErrNotFound     = &Error{Kind: KindNotFound}
)

// Invalid input.
var (
	ErrInvalidDates = &Error{Kind: KindInvalidInput, Code: "INVALID_DATES"}
	ErrInvalidValue = &Error{Kind: KindInvalidInput, Code: "INVALID_VALUE"}
)

// Business rules.
var (
	ErrInvalidTransition     = &Error{Kind: KindBusinessRule, Code: "INVALID_TRANSITION"}
	ErrInvalidStatus         = &Error{Kind: KindBusinessRule, Code: "INVALID_STATUS"}
	ErrNotCancellable        = &Error{Kind: KindBusinessRule, Code: "NOT_CANCELLABLE"}
	ErrCancellationBlocked   = &Error{Kind: KindBusinessRule, Code: "CANCELLATION_BLOCKED"}
	ErrKYCNotVerified        = &Error{Kind: KindBusinessRule, Code: "KYC_NOT_VERIFIED"}
	ErrAccountSuspended      = &Error{Kind: KindBusinessRule, Code: "ACCOUNT_SUSPENDED"}
	ErrVehicleNotBookable    = &Error{Kind: KindBusinessRule, Code: "VEHICLE_NOT_BOOKABLE"}
	ErrDurationTooShort      = &Error{Kind: KindBusinessRule, Code: "DURATION_TOO_SHORT"}
	ErrTenantTooYoung        = &Error{Kind: KindBusinessRule, Code: "TENANT_TOO_YOUNG"}
	ErrSelfBooking           = &Error{Kind: KindBusinessRule, Code: "SELF_BOOKING"}
	ErrCheckInTooEarly       = &Error{Kind: KindBusinessRule, Code: "CHECKIN_TOO_EARLY"}
	ErrCheckInTooLate        = &Error{Kind: KindBusinessRule, Code: "CHECKIN_TOO_LATE"}
	ErrCheckInAlreadyDone    = &Error{Kind: KindBusinessRule, Code: "CHECKIN_ALREADY_CONFIRMED"}
	ErrCheckInFinalized      = &Error{Kind: KindBusinessRule, Code: "CHECKIN_ALREADY_FINALIZED"}
	ErrPaymentAmountMismatch = &Error{Kind: KindBusinessRule, Code: "PAYMENT_AMOUNT_MISMATCH"}
	ErrInsufficientBalance   = &Error{Kind: KindBusinessRule, Code: "INSUFFICIENT_BALANCE"}
)

// Conflicts.
var (
	ErrVehicleUnavailable   = &Error{Kind: KindConflict, Code: "VEHICLE_UNAVAILABLE"}
	ErrOperationInProgress  = &Error{Kind: KindConflict, Code: "OPERATION_IN_PROGRESS"}
	ErrLockHeld             = &Error{Kind: KindConflict, Code: "LOCK_HELD"}
	ErrDisputeAlreadyOpen   = &Error{Kind: KindConflict, Code: "DISPUTE_ALREADY_OPEN"}
	ErrConcurrentUpdate     = &Error{Kind: KindConflict, Code: "CONCURRENT_UPDATE"}
	ErrDuplicateLedgerEntry = &Error{Kind: KindConflict, Code: "DUPLICATE_LEDGER_ENTRY"}
)

// ErrSerializationFailure is a retryable transaction conflict (Postgres 40001 or 40P01).
var ErrSerializationFailure = &Error{Kind: KindConflict, Code: "SERIALIZATION_FAILURE"}

// Authorization.
var (
	ErrNotAParty     = &Error{Kind: KindForbidden, Code: "NOT_A_PARTY"}
	ErrRoleMismatch  = &Error{Kind: KindForbidden, Code: "ROLE_MISMATCH"}
	ErrPartyNotFound = &Error{Kind: KindForbidden, Code: "PARTY_NOT_FOUND"}
)

// Missing records.
var (
	ErrReservationNotFound = &Error{Kind: KindNotFound, Code: "RESERVATION_NOT_FOUND"}
	ErrVehicleNotFound     = &Error{Kind: KindNotFound, Code: "VEHICLE_NOT_FOUND"}
	ErrPaymentNotFound     = &Error{Kind: KindNotFound, Code: "PAYMENT_NOT_FOUND"}
	ErrWalletNotFound      = &Error{Kind: KindNotFound, Code: "WALLET_NOT_FOUND"}
)

// ErrCorruptData is returned when data loaded from persistence is invalid.
var ErrCorruptData = errors.New("corrupt data in database")

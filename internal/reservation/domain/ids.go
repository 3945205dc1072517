package domain

import (
	"errors"

	"github.com/google/uuid"
)

// ErrEmptyReservationID is returned when parsing an empty reservation ID.
var ErrEmptyReservationID = errors.New("reservation_id cannot be empty")

// ReservationID uniquely identifies a reservation.
// It is a struct wrapper to prevent accidental type confusion at compile time.
type ReservationID struct {
	value string
}

// ParseReservationID creates a ReservationID from a string, validating UUID format.
func ParseReservationID(s string) (ReservationID, error) {
	if s == "" {
		return ReservationID{}, ErrEmptyReservationID
	}
	if _, err := uuid.Parse(s); err != nil {
		return ReservationID{}, ErrInvalidValue.WithMessage("reservation_id %q is not a uuid", s)
	}
	return ReservationID{value: s}, nil
}

// MustParseReservationID parses s and panics on failure.
// Use only in tests or initialization code where panicking is acceptable.
func MustParseReservationID(s string) ReservationID {
	id, err := ParseReservationID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// NewReservationID generates a new unique ReservationID.
func NewReservationID() ReservationID {
	return ReservationID{value: uuid.NewString()}
}

// String returns the string representation of ReservationID.
func (r ReservationID) String() string {
	return r.value
}

// IsEmpty checks if the ReservationID is empty.
func (r ReservationID) IsEmpty() bool {
	return r.value == ""
}

// PartyID identifies a tenant or owner profile.
type PartyID string

// VehicleID identifies a listed vehicle.
type VehicleID string

// SystemActor is recorded as the actor for scheduled and provider-driven transitions.
const SystemActor PartyID = "system"

func (p PartyID) String() string   { return string(p) }
func (v VehicleID) String() string { return string(v) }

// NewRecordID returns an identifier for payment, ledger and history rows.
func NewRecordID() string {
	return uuid.NewString()
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// VehicleStatus is the listing state of a vehicle.
type VehicleStatus string

const (
	VehicleAvailable   VehicleStatus = "AVAILABLE"
	VehicleUnlisted    VehicleStatus = "UNLISTED"
	VehicleMaintenance VehicleStatus = "MAINTENANCE"
)

// Vehicle is the bookable listing. The catalog owns it; reservations read it
// and row-lock it.
type Vehicle struct {
	ID            VehicleID
	OwnerID       PartyID
	Status        VehicleStatus
	DailyRate     decimal.Decimal
	Currency      string
	MinRentalDays int
	MinDriverAge  int
	Tiers         []Tier
}

// Bookable reports whether new reservations may be made.
func (v *Vehicle) Bookable() bool {
	return v.Status == VehicleAvailable
}

// Party is a tenant or owner profile.
type Party struct {
	ID          PartyID
	Subject     string
	DisplayName string
	Email       string
	KYCVerified bool
	Suspended   bool
	BirthDate   *time.Time
}

// CheckTenantEligibility validates that tenant may rent v on today.
func CheckTenantEligibility(tenant *Party, v *Vehicle, days int, today time.Time) error {
	if tenant.Suspended {
		return ErrAccountSuspended
	}
	if !tenant.KYCVerified {
		return ErrKYCNotVerified
	}
	if !v.Bookable() {
		return ErrVehicleNotBookable.WithMessage("vehicle %s is %s", v.ID, v.Status)
	}
	if tenant.ID == v.OwnerID {
		return ErrSelfBooking.WithMessage("owner cannot book their own vehicle")
	}
	if days < max(v.MinRentalDays, 1) {
		return ErrDurationTooShort.WithMessage("minimum rental is %d days", v.MinRentalDays)
	}
	if v.MinDriverAge > 0 {
		if tenant.BirthDate == nil {
			return ErrTenantTooYoung.WithMessage("birth date required for vehicles with a minimum driver age")
		}
		if age := CalculateAge(*tenant.BirthDate, today); age < v.MinDriverAge {
			return ErrTenantTooYoung.WithMessage("minimum driver age is %d", v.MinDriverAge)
		}
	}
	return nil
}

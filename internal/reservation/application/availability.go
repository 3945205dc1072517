package application

import (
	"context"
	"time"

	"rentlane/internal/reservation/domain"
)

// AvailabilityLock serializes competing bookings of a vehicle. It runs
// strictly inside a transaction supplied by the caller.
type AvailabilityLock struct{}

func NewAvailabilityLock() *AvailabilityLock {
	return &AvailabilityLock{}
}

// LockVehicle takes the booking lock on a bookable vehicle. A vehicle locked
// by another in-flight booking reports false instead of waiting.
func (a *AvailabilityLock) LockVehicle(ctx context.Context, tx domain.Repositories, vehicleID domain.VehicleID) (bool, error) {
	return tx.Vehicles().LockForBooking(ctx, vehicleID)
}

// HasOverlap reports whether an active reservation intersects [start, end).
func (a *AvailabilityLock) HasOverlap(ctx context.Context, tx domain.Repositories, vehicleID domain.VehicleID, start, end time.Time) (bool, error) {
	return tx.Reservations().HasOverlap(ctx, vehicleID, start, end)
}

// EnsureAvailable locks the vehicle and checks for overlaps. It must run
// before the reservation row is written, in the same transaction.
func (a *AvailabilityLock) EnsureAvailable(ctx context.Context, tx domain.Repositories, vehicleID domain.VehicleID, start, end time.Time) error {
	locked, err := a.LockVehicle(ctx, tx, vehicleID)
	if err != nil {
		return err
	}
	if !locked {
		return domain.ErrVehicleUnavailable.WithMessage("vehicle %s is being booked or is not bookable", vehicleID)
	}

	overlap, err := a.HasOverlap(ctx, tx, vehicleID, start, end)
	if err != nil {
		return err
	}
	if overlap {
		return domain.ErrVehicleUnavailable.WithMessage("vehicle %s is already booked between %s and %s",
			vehicleID, start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	return nil
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"rentlane/internal/reservation/domain"
)

// VehicleRepository implements domain.VehicleRepository using PostgreSQL.
type VehicleRepository struct {
	db Executor
}

// NewVehicleRepository creates a new VehicleRepository.
func NewVehicleRepository(db Executor) *VehicleRepository {
	return &VehicleRepository{db: db}
}

// FindByID retrieves a vehicle listing with its pricing tiers.
func (r *VehicleRepository) FindByID(ctx context.Context, id domain.VehicleID) (*domain.Vehicle, error) {
	var (
		v         domain.Vehicle
		status    string
		dailyRate pgtype.Numeric
		tiers     []byte
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, owner_id, status, daily_rate, currency, min_rental_days, min_driver_age, pricing_tiers
		FROM reservation.vehicles
		WHERE id = $1`,
		string(id),
	).Scan(&v.ID, &v.OwnerID, &status, &dailyRate, &v.Currency, &v.MinRentalDays, &v.MinDriverAge, &tiers)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrVehicleNotFound.WithMessage("vehicle %s", id)
	}
	if err != nil {
		return nil, translateError(err)
	}

	v.Status = domain.VehicleStatus(status)
	if v.DailyRate, err = numericToDecimal(dailyRate); err != nil {
		return nil, err
	}
	if len(tiers) > 0 {
		if err := json.Unmarshal(tiers, &v.Tiers); err != nil {
			return nil, fmt.Errorf("%w: pricing tiers of vehicle %s: %v", domain.ErrCorruptData, id, err)
		}
	}
	return &v, nil
}

// LockForBooking row-locks an AVAILABLE vehicle without waiting.
// The booking_seq bump turns a booking that read an older snapshot into a
// serialization failure under REPEATABLE READ, so it retries and sees this one.
func (r *VehicleRepository) LockForBooking(ctx context.Context, id domain.VehicleID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE reservation.vehicles
		SET booking_seq = booking_seq + 1
		WHERE id = (
			SELECT id FROM reservation.vehicles
			WHERE id = $1 AND status = $2
			FOR UPDATE SKIP LOCKED
		)`,
		string(id), string(domain.VehicleAvailable),
	)
	if err != nil {
		return false, translateError(err)
	}
	return tag.RowsAffected() == 1, nil
}

var _ domain.VehicleRepository = (*VehicleRepository)(nil)

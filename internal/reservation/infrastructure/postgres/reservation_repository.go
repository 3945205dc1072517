package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"rentlane/internal/reservation/domain"
)

const reservationColumns = `
	id, tenant_id, owner_id, vehicle_id,
	start_date, end_date, days,
	daily_rate, base_amount, commission_rate, commission_amount, tenant_total, owner_net, currency,
	status,
	owner_checkin_at, tenant_checkin_at, checkin_finalized_at, checked_out_at,
	cancelled_by, cancelled_at, cancellation_reason,
	contract_ref, payment_deadline,
	created_at, updated_at`

// ReservationRepository implements domain.ReservationRepository using PostgreSQL.
type ReservationRepository struct {
	db Executor
}

// NewReservationRepository creates a new ReservationRepository.
func NewReservationRepository(db Executor) *ReservationRepository {
	return &ReservationRepository{db: db}
}

// Create inserts a new reservation.
func (r *ReservationRepository) Create(ctx context.Context, res *domain.Reservation) error {
	s := res.Snapshot()
	_, err := r.db.Exec(ctx, `
		INSERT INTO reservation.reservations (`+reservationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
				$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)`,
		s.ID.String(), string(s.TenantID), string(s.OwnerID), string(s.VehicleID),
		s.StartDate, s.EndDate, s.Days,
		decimalToNumeric(s.DailyRate), decimalToNumeric(s.BaseAmount),
		decimalToNumeric(s.CommissionRate), decimalToNumeric(s.CommissionAmount),
		decimalToNumeric(s.TenantTotal), decimalToNumeric(s.OwnerNet), s.Currency,
		string(s.Status),
		timePtrToTimestamptz(s.OwnerCheckInAt), timePtrToTimestamptz(s.TenantCheckInAt),
		timePtrToTimestamptz(s.CheckInFinalizedAt), timePtrToTimestamptz(s.CheckedOutAt),
		textFromString(string(s.CancelledBy)), timePtrToTimestamptz(s.CancelledAt), textFromString(s.CancellationReason),
		textFromString(s.ContractRef), timePtrToTimestamptz(s.PaymentDeadline),
		s.CreatedAt, s.UpdatedAt,
	)
	return translateError(err)
}

// Update writes the mutable fields of a reservation.
func (r *ReservationRepository) Update(ctx context.Context, res *domain.Reservation) error {
	s := res.Snapshot()
	tag, err := r.db.Exec(ctx, `
		UPDATE reservation.reservations
		SET status = $2,
			owner_checkin_at = $3,
			tenant_checkin_at = $4,
			checkin_finalized_at = $5,
			checked_out_at = $6,
			cancelled_by = $7,
			cancelled_at = $8,
			cancellation_reason = $9,
			contract_ref = $10,
			payment_deadline = $11,
			updated_at = $12
		WHERE id = $1`,
		s.ID.String(),
		string(s.Status),
		timePtrToTimestamptz(s.OwnerCheckInAt), timePtrToTimestamptz(s.TenantCheckInAt),
		timePtrToTimestamptz(s.CheckInFinalizedAt), timePtrToTimestamptz(s.CheckedOutAt),
		textFromString(string(s.CancelledBy)), timePtrToTimestamptz(s.CancelledAt), textFromString(s.CancellationReason),
		textFromString(s.ContractRef), timePtrToTimestamptz(s.PaymentDeadline),
		s.UpdatedAt,
	)
	if err != nil {
		return translateError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReservationNotFound.WithMessage("reservation %s", s.ID)
	}
	return nil
}

// FindByID retrieves a reservation by ID.
func (r *ReservationRepository) FindByID(ctx context.Context, id domain.ReservationID) (*domain.Reservation, error) {
	return r.findOne(ctx, `SELECT `+reservationColumns+` FROM reservation.reservations WHERE id = $1`, id.String())
}

// FindByIDForUpdate retrieves a reservation and row-locks it until the transaction ends.
func (r *ReservationRepository) FindByIDForUpdate(ctx context.Context, id domain.ReservationID) (*domain.Reservation, error) {
	return r.findOne(ctx, `SELECT `+reservationColumns+` FROM reservation.reservations WHERE id = $1 FOR UPDATE`, id.String())
}

// HasOverlap reports whether an active reservation of the vehicle intersects [start, end).
func (r *ReservationRepository) HasOverlap(ctx context.Context, vehicleID domain.VehicleID, start, end time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM reservation.reservations
			WHERE vehicle_id = $1
			  AND status = ANY($2)
			  AND start_date < $4
			  AND end_date > $3
		)`,
		string(vehicleID), statusStrings(domain.ActiveStatuses), start, end,
	).Scan(&exists)
	if err != nil {
		return false, translateError(err)
	}
	return exists, nil
}

// ListPaymentOverdue returns unpaid reservations whose payment deadline is before now.
func (r *ReservationRepository) ListPaymentOverdue(ctx context.Context, now time.Time, limit int) ([]domain.ReservationID, error) {
	return r.listIDs(ctx, `
		SELECT id FROM reservation.reservations
		WHERE status = ANY($1)
		  AND payment_deadline IS NOT NULL
		  AND payment_deadline < $2
		ORDER BY payment_deadline
		LIMIT $3`,
		statusStrings(domain.ExpirableStatuses), now, limit,
	)
}

// ListFinalizedWithoutCredit returns checked-in reservations missing their owner credit.
func (r *ReservationRepository) ListFinalizedWithoutCredit(ctx context.Context, limit int) ([]domain.ReservationID, error) {
	return r.listIDs(ctx, `
		SELECT r.id FROM reservation.reservations r
		WHERE r.checkin_finalized_at IS NOT NULL
		  AND NOT EXISTS (
			SELECT 1 FROM reservation.wallet_transactions wt
			WHERE wt.reservation_id = r.id AND wt.type = $1
		  )
		ORDER BY r.checkin_finalized_at
		LIMIT $2`,
		string(domain.EntryCreditRental), limit,
	)
}

func (r *ReservationRepository) listIDs(ctx context.Context, query string, args ...any) ([]domain.ReservationID, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	var ids []domain.ReservationID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := domain.ParseReservationID(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCorruptData, err)
		}
		ids = append(ids, id)
	}
	return ids, translateError(rows.Err())
}

func (r *ReservationRepository) findOne(ctx context.Context, query string, args ...any) (*domain.Reservation, error) {
	res, err := scanReservation(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrReservationNotFound.WithMessage("reservation %v", args[0])
	}
	if err != nil {
		return nil, translateError(err)
	}
	return res, nil
}

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	var (
		s                                                  domain.ReservationSnapshot
		id, tenantID, ownerID, vehicleID, status           string
		dailyRate, baseAmount, commissionRate              pgtype.Numeric
		commissionAmount, tenantTotal, ownerNet            pgtype.Numeric
		ownerCheckIn, tenantCheckIn, finalized, checkedOut pgtype.Timestamptz
		cancelledAt, paymentDeadline                       pgtype.Timestamptz
		cancelledBy, cancellationReason, contractRef       pgtype.Text
	)
	err := row.Scan(
		&id, &tenantID, &ownerID, &vehicleID,
		&s.StartDate, &s.EndDate, &s.Days,
		&dailyRate, &baseAmount, &commissionRate, &commissionAmount, &tenantTotal, &ownerNet, &s.Currency,
		&status,
		&ownerCheckIn, &tenantCheckIn, &finalized, &checkedOut,
		&cancelledBy, &cancelledAt, &cancellationReason,
		&contractRef, &paymentDeadline,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if s.ID, err = domain.ParseReservationID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptData, err)
	}
	if s.Status, err = domain.ParseStatus(status); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptData, err)
	}
	if err := numerics(
		numericTarget{dailyRate, &s.DailyRate},
		numericTarget{baseAmount, &s.BaseAmount},
		numericTarget{commissionRate, &s.CommissionRate},
		numericTarget{commissionAmount, &s.CommissionAmount},
		numericTarget{tenantTotal, &s.TenantTotal},
		numericTarget{ownerNet, &s.OwnerNet},
	); err != nil {
		return nil, err
	}
	for _, t := range []struct {
		src pgtype.Timestamptz
		dst **time.Time
	}{
		{ownerCheckIn, &s.OwnerCheckInAt},
		{tenantCheckIn, &s.TenantCheckInAt},
		{finalized, &s.CheckInFinalizedAt},
		{checkedOut, &s.CheckedOutAt},
		{cancelledAt, &s.CancelledAt},
		{paymentDeadline, &s.PaymentDeadline},
	} {
		if *t.dst, err = timestamptzToTimePtr(t.src); err != nil {
			return nil, err
		}
	}

	s.TenantID = domain.PartyID(tenantID)
	s.OwnerID = domain.PartyID(ownerID)
	s.VehicleID = domain.VehicleID(vehicleID)
	s.StartDate = s.StartDate.UTC()
	s.EndDate = s.EndDate.UTC()
	s.CancelledBy = domain.PartyID(cancelledBy.String)
	s.CancellationReason = cancellationReason.String
	s.ContractRef = contractRef.String
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()

	return domain.ReconstructReservation(s), nil
}

var _ domain.ReservationRepository = (*ReservationRepository)(nil)

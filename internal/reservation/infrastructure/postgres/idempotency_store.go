package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"rentlane/internal/reservation/domain"
)

// IdempotencyStore implements domain.IdempotencyRepository using PostgreSQL.
type IdempotencyStore struct {
	db Executor
}

// NewIdempotencyStore creates a new IdempotencyStore.
func NewIdempotencyStore(db Executor) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

// Get retrieves an idempotency record by key.
// Returns (nil, nil) when no record exists; absence is not treated as an error.
func (s *IdempotencyStore) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	rec, _, err := scanIdempotency(s.db.QueryRow(ctx, `
		SELECT idempotency_key, reservation_id, payment_url, expires_at, created_at, false
		FROM reservation.idempotency_keys
		WHERE idempotency_key = $1`,
		key,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, translateError(err)
	}
	return rec, nil
}

// SetIfAbsent stores rec unless a live record holds its key. A record that
// expired by rec.CreatedAt but was not purged yet is overwritten in place.
// The CTE returns either the stored row or the live existing one in a single
// round-trip.
func (s *IdempotencyStore) SetIfAbsent(ctx context.Context, rec *domain.IdempotencyRecord) (bool, *domain.IdempotencyRecord, error) {
	stored, inserted, err := scanIdempotency(s.db.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO reservation.idempotency_keys AS k (idempotency_key, reservation_id, payment_url, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (idempotency_key) DO UPDATE
			SET reservation_id = EXCLUDED.reservation_id,
				payment_url = EXCLUDED.payment_url,
				expires_at = EXCLUDED.expires_at,
				created_at = EXCLUDED.created_at
			WHERE k.expires_at <= EXCLUDED.created_at
			RETURNING k.idempotency_key, k.reservation_id, k.payment_url, k.expires_at, k.created_at, true AS inserted
		)
		SELECT * FROM ins
		UNION ALL
		SELECT idempotency_key, reservation_id, payment_url, expires_at, created_at, false
		FROM reservation.idempotency_keys
		WHERE idempotency_key = $1 AND NOT EXISTS (SELECT 1 FROM ins)`,
		rec.Key, rec.ReservationID.String(), rec.PaymentURL, rec.ExpiresAt, rec.CreatedAt,
	))
	if err != nil {
		return false, nil, translateError(err)
	}
	return inserted, stored, nil
}

// DeleteExpired removes records whose expiry is before now.
func (s *IdempotencyStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM reservation.idempotency_keys WHERE expires_at < $1`, now)
	if err != nil {
		return 0, translateError(err)
	}
	return tag.RowsAffected(), nil
}

func scanIdempotency(row pgx.Row) (*domain.IdempotencyRecord, bool, error) {
	var (
		rec           domain.IdempotencyRecord
		reservationID string
		inserted      bool
	)
	if err := row.Scan(&rec.Key, &reservationID, &rec.PaymentURL, &rec.ExpiresAt, &rec.CreatedAt, &inserted); err != nil {
		return nil, false, err
	}
	id, err := domain.ParseReservationID(reservationID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: invalid reservation_id: %v", domain.ErrCorruptData, err)
	}
	rec.ReservationID = id
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, inserted, nil
}

var _ domain.IdempotencyRepository = (*IdempotencyStore)(nil)

package postgres

import (
	"context"
	"fmt"

	"rentlane/internal/reservation/domain"
)

// HistoryRepository implements domain.HistoryRepository using PostgreSQL.
// Rows are only ever inserted.
type HistoryRepository struct {
	db Executor
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db Executor) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append records a transition or event.
func (r *HistoryRepository) Append(ctx context.Context, e *domain.HistoryEntry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO reservation.history (id, reservation_id, from_status, to_status, actor, event, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.ReservationID.String(), string(e.FromStatus), string(e.ToStatus),
		string(e.Actor), e.Event, e.Note, e.CreatedAt,
	)
	return translateError(err)
}

// ListByReservation returns the audit trail in insertion order.
func (r *HistoryRepository) ListByReservation(ctx context.Context, id domain.ReservationID) ([]*domain.HistoryEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, from_status, to_status, actor, event, note, created_at
		FROM reservation.history
		WHERE reservation_id = $1
		ORDER BY created_at, id`,
		id.String(),
	)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	var entries []*domain.HistoryEntry
	for rows.Next() {
		e := domain.HistoryEntry{ReservationID: id}
		var from, to, actor string
		if err := rows.Scan(&e.ID, &from, &to, &actor, &e.Event, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.FromStatus, err = domain.ParseStatus(from); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCorruptData, err)
		}
		if e.ToStatus, err = domain.ParseStatus(to); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCorruptData, err)
		}
		e.Actor = domain.PartyID(actor)
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, &e)
	}
	return entries, translateError(rows.Err())
}

// HasEvent reports whether the reservation has an entry for event.
func (r *HistoryRepository) HasEvent(ctx context.Context, id domain.ReservationID, event string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM reservation.history WHERE reservation_id = $1 AND event = $2)`,
		id.String(), event,
	).Scan(&exists)
	if err != nil {
		return false, translateError(err)
	}
	return exists, nil
}

var _ domain.HistoryRepository = (*HistoryRepository)(nil)

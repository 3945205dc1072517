package application

import (
	"context"
	"errors"
	"time"

	"rentlane/internal/common/logging"
	"rentlane/internal/reservation/domain"
)

// SendSignatureReminder nudges the tenant to accept the contract when the
// reservation is still PAID. A reminder is sent at most once.
func (s *Service) SendSignatureReminder(ctx context.Context, id domain.ReservationID) (bool, error) {
	return s.remindOnce(ctx, id, domain.StatusPaid, "signature", func(r *domain.Reservation) sideEffect {
		return s.notifyStep(domain.NotifySignatureReminder, r.TenantID(), r.ID(), nil)
	})
}

// AutoClose reminds the owner to check out an overdue rental and re-runs the
// idempotent wallet credit in case the post-check-in credit failed.
func (s *Service) AutoClose(ctx context.Context, id domain.ReservationID) error {
	r, err := s.deps.Store.Reservations().FindByID(ctx, id)
	if err != nil {
		return err
	}
	if r.Status() != domain.StatusInProgress {
		return nil
	}
	if r.IsFinalized() {
		if _, err := s.wall.CreditForCheckIn(ctx, id); err != nil {
			return err
		}
	}
	_, err = s.remindOnce(ctx, id, domain.StatusInProgress, "checkout", func(r *domain.Reservation) sideEffect {
		return s.notifyStep(domain.NotifyCheckOutReminder, r.OwnerID(), r.ID(), map[string]string{
			"end_date": r.EndDate().Format(time.DateOnly),
		})
	})
	return err
}

// RequestReviews asks both parties of a completed rental for a review.
func (s *Service) RequestReviews(ctx context.Context, id domain.ReservationID) error {
	r, err := s.deps.Store.Reservations().FindByID(ctx, id)
	if err != nil {
		return err
	}
	if r.Status() != domain.StatusCompleted {
		return nil
	}
	s.runPostCommit(ctx, "post_checkout", id,
		s.notifyStep(domain.NotifyReviewRequested, r.TenantID(), id, nil),
		s.notifyStep(domain.NotifyReviewRequested, r.OwnerID(), id, nil),
	)
	return nil
}

// remindOnce records a REMINDER_SENT history row for kind while the
// reservation is in status, then sends the reminder after commit. It reports
// whether a reminder was sent.
func (s *Service) remindOnce(ctx context.Context, id domain.ReservationID, status domain.Status, kind string, send func(*domain.Reservation) sideEffect) (bool, error) {
	tx, err := s.deps.Store.Begin(ctx, domain.ReadCommitted)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	r, err := tx.Reservations().FindByIDForUpdate(ctx, id)
	if err != nil {
		return false, err
	}
	if r.Status() != status {
		return false, nil
	}
	event := domain.EventReminderSent + ":" + kind
	sent, err := tx.History().HasEvent(ctx, id, event)
	if err != nil || sent {
		return false, err
	}
	now := s.now()
	if err := tx.History().Append(ctx, domain.NewHistoryEntry(id, status, status, domain.SystemActor, event, "", now)); err != nil {
		return false, err
	}
	if err := commit(ctx, tx, "reminder"); err != nil {
		return false, err
	}

	logging.InfoContext(ctx, "Reminder sent", "reservation_id", id.String(), "kind", kind)
	s.runPostCommit(ctx, "reminder", id, send(r))
	return true, nil
}

// SweepOverduePayments expires unpaid reservations whose payment deadline
// passed. It backs up the one-shot expiry job.
func (s *Service) SweepOverduePayments(ctx context.Context, limit int) (int, error) {
	ids, err := s.deps.Store.Reservations().ListPaymentOverdue(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	var errs []error
	for _, id := range ids {
		res, err := s.Expire(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res.Action == ExpireExpired {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}

// ReconcileCredits credits finalized check-ins that have no rental credit yet.
func (s *Service) ReconcileCredits(ctx context.Context, limit int) (int, error) {
	ids, err := s.deps.Store.Reservations().ListFinalizedWithoutCredit(ctx, limit)
	if err != nil {
		return 0, err
	}
	credited := 0
	var errs []error
	for _, id := range ids {
		res, err := s.wall.CreditForCheckIn(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !res.AlreadyCredited {
			credited++
		}
	}
	return credited, errors.Join(errs...)
}

// PurgeIdempotencyRecords deletes expired durable idempotency records.
func (s *Service) PurgeIdempotencyRecords(ctx context.Context) (int64, error) {
	tx, err := s.deps.Store.Begin(ctx, domain.ReadCommitted)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	n, err := tx.Idempotency().DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	return n, commit(ctx, tx, "idempotency purge")
}

package application

import (
	"context"
	"errors"
	"time"

	"rentlane/internal/common/logging"
	"rentlane/internal/common/metrics"
	"rentlane/internal/reservation/domain"
)

// ExpireAction is what an expiry attempt did.
type ExpireAction string

const (
	ExpireExpired ExpireAction = "EXPIRED"
	ExpireSkipped ExpireAction = "SKIPPED"
)

// Skip reasons.
const (
	SkipPaymentConfirmed = "PAYMENT_CONFIRMED"
	SkipStatusChanged    = "STATUS_CHANGED"
	SkipNotDue           = "NOT_DUE"
	SkipNotFound         = "NOT_FOUND"
)

// ExpireResult is returned instead of a business error; only infrastructure
// failures surface as errors.
type ExpireResult struct {
	Action ExpireAction
	Reason string
}

// Expire cancels a reservation whose payment window elapsed. It waits for the
// reservation row lock, so when a payment confirmation races it, whichever
// commits first decides and the other observes the result.
func (s *Service) Expire(ctx context.Context, id domain.ReservationID) (ExpireResult, error) {
	var (
		out *expireOutcome
		err error
	)
	for attempt := 1; ; attempt++ {
		out, err = s.expireOnce(ctx, id)
		if err != nil && s.shouldRetry("expire", attempt, err) {
			continue
		}
		break
	}
	if errors.Is(err, domain.ErrReservationNotFound) {
		metrics.RecordExpiry(string(ExpireSkipped), SkipNotFound)
		return ExpireResult{Action: ExpireSkipped, Reason: SkipNotFound}, nil
	}
	if err != nil {
		return ExpireResult{}, err
	}

	metrics.RecordExpiry(string(out.result.Action), out.result.Reason)
	if out.result.Action == ExpireSkipped {
		logging.InfoContext(ctx, "Expiry skipped", "reservation_id", id.String(), "reason", out.result.Reason)
		return out.result, nil
	}

	r := out.reservation
	recordTransition(out.from, r.Status())
	logging.InfoContext(ctx, "Reservation expired", "reservation_id", id.String())
	s.runPostCommit(ctx, "expire", r.ID(),
		s.invalidateSearchStep(),
		s.revalidatePagesStep(r.VehicleID()),
		s.contractStep(r, domain.WatermarkExpired),
		s.notifyStep(domain.NotifyCancelled, r.TenantID(), r.ID(), map[string]string{"reason": domain.ReasonPaymentExpired}),
	)
	return out.result, nil
}

type expireOutcome struct {
	result      ExpireResult
	reservation *domain.Reservation
	from        domain.Status
}

func (s *Service) expireOnce(ctx context.Context, id domain.ReservationID) (*expireOutcome, error) {
	start := time.Now()
	defer observeTx("expire", start)

	tx, err := s.deps.Store.Begin(ctx, domain.RepeatableRead)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	r, err := tx.Reservations().FindByIDForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	payment, err := tx.Payments().FindByReservationID(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrPaymentNotFound) {
		return nil, err
	}

	now := s.now()
	skip := func(reason string) (*expireOutcome, error) {
		return &expireOutcome{result: ExpireResult{Action: ExpireSkipped, Reason: reason}}, nil
	}
	if payment != nil && payment.Status == domain.PaymentConfirmed {
		return skip(SkipPaymentConfirmed)
	}
	if !domain.IsExpirable(r.Status()) {
		return skip(SkipStatusChanged)
	}
	if d := r.PaymentDeadline(); d != nil && now.Before(*d) {
		return skip(SkipNotDue)
	}

	from := r.Status()
	if err := r.Expire(now); err != nil {
		return nil, err
	}
	if err := tx.Reservations().Update(ctx, r); err != nil {
		return nil, err
	}
	if payment != nil {
		if err := payment.Fail(now); err != nil {
			return nil, err
		}
		if err := tx.Payments().Update(ctx, payment); err != nil {
			return nil, err
		}
	}
	if err := tx.History().Append(ctx, domain.NewHistoryEntry(id, from, r.Status(), domain.SystemActor, domain.EventExpired, domain.ReasonPaymentExpired, now)); err != nil {
		return nil, err
	}
	if err := commit(ctx, tx, "expiry"); err != nil {
		return nil, err
	}
	return &expireOutcome{
		result:      ExpireResult{Action: ExpireExpired, Reason: domain.ReasonPaymentExpired},
		reservation: r,
		from:        from,
	}, nil
}

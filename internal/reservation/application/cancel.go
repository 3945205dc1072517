package application

import (
	"context"
	"strings"
	"time"

	"rentlane/internal/common/logging"
	"rentlane/internal/reservation/domain"
)

// CancelRequest is a party's cancellation request.
type CancelRequest struct {
	ReservationID domain.ReservationID
	ActorID       domain.PartyID
	Role          domain.Role
	Reason        string
	// ForceMajeure selects the full-refund override. Callers decide when it applies.
	ForceMajeure bool
}

// CancelResult reports the committed cancellation.
type CancelResult struct {
	ReservationID  string
	Status         domain.Status
	Decision       domain.CancellationDecision
	PaymentStatus  domain.PaymentStatus
	PenaltyDebited bool
}

// Cancel cancels a reservation on behalf of its tenant or owner and applies
// the refund and penalty decided by the cancellation policy.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (*CancelResult, error) {
	if !req.Role.Valid() {
		return nil, domain.ErrInvalidValue.WithMessage("unknown role %q", req.Role)
	}

	start := time.Now()
	tx, err := s.deps.Store.Begin(ctx, domain.ReadCommitted)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	defer observeTx("cancel", start)

	r, err := tx.Reservations().FindByIDForUpdate(ctx, req.ReservationID)
	if err != nil {
		return nil, err
	}
	if err := r.Authorize(req.ActorID, req.Role); err != nil {
		return nil, err
	}
	if !domain.IsCancellable(r.Status()) {
		return nil, domain.ErrNotCancellable.WithMessage("reservation in %s cannot be cancelled", r.Status())
	}
	if err := domain.Transition(r.Status(), domain.StatusCancelled); err != nil {
		return nil, err
	}

	now := s.now()
	q := r.Quote()
	decision := domain.EvaluateCancellation(domain.CancellationInput{
		Now:              now,
		StartDate:        r.StartDate(),
		BaseAmount:       q.BaseAmount,
		CommissionAmount: q.CommissionAmount,
		TenantTotal:      q.TenantTotal,
		Initiator:        req.Role,
		ForceMajeure:     req.ForceMajeure,
	})
	if !decision.CanCancel {
		return nil, domain.ErrCancellationBlocked.WithMessage("%s", strings.Join(decision.Warnings, " "))
	}

	payment, err := tx.Payments().FindByReservationID(ctx, r.ID())
	if err != nil {
		return nil, err
	}
	switch payment.Status {
	case domain.PaymentConfirmed:
		if decision.RefundAmount.IsPositive() {
			if err := payment.Refund(decision.RefundAmount, now); err != nil {
				return nil, err
			}
		}
	case domain.PaymentPending:
		// An unpaid reservation has nothing to refund; a late success
		// webhook is rejected because the reservation is cancelled.
		if err := payment.Fail(now); err != nil {
			return nil, err
		}
	}
	if err := tx.Payments().Update(ctx, payment); err != nil {
		return nil, err
	}

	debited := false
	if req.Role == domain.RoleOwner {
		debited, err = s.wall.DebitPenalty(ctx, tx, r, decision.PenaltyAmount)
		if err != nil {
			return nil, err
		}
	}

	from := r.Status()
	if err := r.Cancel(req.ActorID, req.Reason, now); err != nil {
		return nil, err
	}
	if err := tx.Reservations().Update(ctx, r); err != nil {
		return nil, err
	}
	if err := tx.History().Append(ctx, domain.NewHistoryEntry(r.ID(), from, r.Status(), req.ActorID, domain.EventCancelled, req.Reason, now)); err != nil {
		return nil, err
	}
	if err := commit(ctx, tx, "cancellation"); err != nil {
		return nil, err
	}

	recordTransition(from, r.Status())
	logging.InfoContext(ctx, "Reservation cancelled",
		"reservation_id", r.ID().String(),
		"initiator", string(req.Role),
		"force_majeure", req.ForceMajeure,
		"refund_amount", decision.RefundAmount.StringFixed(2),
		"penalty_amount", decision.PenaltyAmount.StringFixed(2),
		"penalty_debited", debited,
	)

	data := map[string]string{
		"initiator":     string(req.Role),
		"refund_amount": decision.RefundAmount.StringFixed(2),
		"currency":      r.Currency(),
	}
	s.runPostCommit(ctx, "cancel", r.ID(),
		s.refundStep(payment),
		s.invalidateSearchStep(),
		s.revalidatePagesStep(r.VehicleID()),
		s.notifyStep(domain.NotifyCancelled, r.TenantID(), r.ID(), data),
		s.notifyStep(domain.NotifyCancelled, r.OwnerID(), r.ID(), data),
		s.contractStep(r, domain.WatermarkCancelled),
	)

	return &CancelResult{
		ReservationID:  r.ID().String(),
		Status:         r.Status(),
		Decision:       decision,
		PaymentStatus:  payment.Status,
		PenaltyDebited: debited,
	}, nil
}

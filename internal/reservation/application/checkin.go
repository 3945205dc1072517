package application

import (
	"context"
	"time"

	"rentlane/internal/common/logging"
	"rentlane/internal/reservation/domain"
)

// CheckInRequest is one party's handover confirmation.
type CheckInRequest struct {
	ReservationID domain.ReservationID
	ActorID       domain.PartyID
	Role          domain.Role
}

// CheckInResult reports the committed confirmation. Credit is set when the
// check-in finalized and the post-commit wallet credit succeeded.
type CheckInResult struct {
	ReservationID string
	Status        domain.Status
	Finalized     bool
	Credit        *CreditResult
}

// CheckIn records a party's confirmation. Whichever party confirms second
// finalizes the check-in and starts the rental.
func (s *Service) CheckIn(ctx context.Context, req CheckInRequest) (*CheckInResult, error) {
	if !req.Role.Valid() {
		return nil, domain.ErrInvalidValue.WithMessage("unknown role %q", req.Role)
	}

	start := time.Now()
	tx, err := s.deps.Store.Begin(ctx, domain.ReadCommitted)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	defer observeTx("check_in", start)

	r, err := tx.Reservations().FindByIDForUpdate(ctx, req.ReservationID)
	if err != nil {
		return nil, err
	}
	if err := r.Authorize(req.ActorID, req.Role); err != nil {
		return nil, err
	}

	now := s.now()
	from := r.Status()
	finalized, err := r.ConfirmCheckIn(req.Role, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Reservations().Update(ctx, r); err != nil {
		return nil, err
	}
	if err := tx.History().Append(ctx, domain.NewHistoryEntry(r.ID(), from, from, req.ActorID, domain.EventCheckInConfirmed, string(req.Role), now)); err != nil {
		return nil, err
	}
	if finalized {
		if err := tx.History().Append(ctx, domain.NewHistoryEntry(r.ID(), from, r.Status(), req.ActorID, domain.EventCheckInFinalized, "", now)); err != nil {
			return nil, err
		}
	}
	if err := commit(ctx, tx, "check-in"); err != nil {
		return nil, err
	}

	res := &CheckInResult{ReservationID: r.ID().String(), Status: r.Status(), Finalized: finalized}
	logging.InfoContext(ctx, "Check-in confirmed",
		"reservation_id", r.ID().String(),
		"role", string(req.Role),
		"finalized", finalized,
	)

	if !finalized {
		s.runPostCommit(ctx, "check_in", r.ID(),
			s.notifyStep(domain.NotifyCheckInRequested, r.Counterparty(req.Role), r.ID(), map[string]string{
				"confirmed_by": string(req.Role),
			}),
		)
		return res, nil
	}

	recordTransition(from, r.Status())
	autoCloseAt := r.EndDate().Add(s.opts.AutoCloseGrace)
	s.runPostCommit(ctx, "check_in", r.ID(),
		sideEffect{
			name: "credit_wallet",
			run: func(ctx context.Context) error {
				credit, err := s.wall.CreditForCheckIn(ctx, r.ID())
				if err != nil {
					return err
				}
				res.Credit = credit
				return nil
			},
		},
		s.scheduleStep(domain.JobAutoClose, r.ID(), autoCloseAt.Sub(now)),
		s.notifyStep(domain.NotifyCheckInCompleted, r.TenantID(), r.ID(), nil),
		s.notifyStep(domain.NotifyCheckInCompleted, r.OwnerID(), r.ID(), nil),
	)
	return res, nil
}

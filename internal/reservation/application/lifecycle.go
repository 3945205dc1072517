package application

import (
	"context"
	"time"

	"rentlane/internal/common/logging"
	"rentlane/internal/reservation/domain"
)

// TransitionRequest identifies a reservation and the acting party.
type TransitionRequest struct {
	ReservationID domain.ReservationID
	ActorID       domain.PartyID
	Note          string
}

// TransitionResult reports a committed status change.
type TransitionResult struct {
	ReservationID string
	From          domain.Status
	Status        domain.Status
}

// Confirm records the tenant's acceptance of the contract (PAID -> CONFIRMED).
func (s *Service) Confirm(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	start := time.Now()
	tx, err := s.deps.Store.Begin(ctx, domain.ReadCommitted)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	defer observeTx("confirm", start)

	r, err := tx.Reservations().FindByIDForUpdate(ctx, req.ReservationID)
	if err != nil {
		return nil, err
	}
	if err := r.Authorize(req.ActorID, domain.RoleTenant); err != nil {
		return nil, err
	}

	now := s.now()
	from := r.Status()
	if err := r.ConfirmContract(now); err != nil {
		return nil, err
	}
	if err := s.persistTransition(ctx, tx, r, from, req.ActorID, domain.EventContractConfirmed, req.Note, now); err != nil {
		return nil, err
	}

	logging.InfoContext(ctx, "Contract confirmed", "reservation_id", r.ID().String())
	s.runPostCommit(ctx, "confirm", r.ID(),
		s.notifyStep(domain.NotifyContractConfirmed, r.OwnerID(), r.ID(), nil),
	)
	return &TransitionResult{ReservationID: r.ID().String(), From: from, Status: r.Status()}, nil
}

// CheckOut closes a rental (IN_PROGRESS -> COMPLETED). Only the owner checks out.
func (s *Service) CheckOut(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	start := time.Now()
	tx, err := s.deps.Store.Begin(ctx, domain.ReadCommitted)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	defer observeTx("check_out", start)

	r, err := tx.Reservations().FindByIDForUpdate(ctx, req.ReservationID)
	if err != nil {
		return nil, err
	}
	if err := r.Authorize(req.ActorID, domain.RoleOwner); err != nil {
		return nil, err
	}

	now := s.now()
	from := r.Status()
	if err := r.CheckOut(now); err != nil {
		return nil, err
	}
	if err := s.persistTransition(ctx, tx, r, from, req.ActorID, domain.EventCheckedOut, req.Note, now); err != nil {
		return nil, err
	}

	logging.InfoContext(ctx, "Reservation checked out", "reservation_id", r.ID().String())
	s.runPostCommit(ctx, "check_out", r.ID(),
		s.scheduleStep(domain.JobPostCheckout, r.ID(), 0),
		s.invalidateSearchStep(),
		s.notifyStep(domain.NotifyCheckedOut, r.TenantID(), r.ID(), nil),
	)
	return &TransitionResult{ReservationID: r.ID().String(), From: from, Status: r.Status()}, nil
}

// OpenDispute lets either party dispute an in-progress rental.
func (s *Service) OpenDispute(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	start := time.Now()
	tx, err := s.deps.Store.Begin(ctx, domain.ReadCommitted)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	defer observeTx("open_dispute", start)

	r, err := tx.Reservations().FindByIDForUpdate(ctx, req.ReservationID)
	if err != nil {
		return nil, err
	}
	if err := r.Authorize(req.ActorID, ""); err != nil {
		return nil, err
	}
	role, _ := r.RoleOf(req.ActorID)

	now := s.now()
	from := r.Status()
	if err := r.OpenDispute(now); err != nil {
		return nil, err
	}
	if err := s.persistTransition(ctx, tx, r, from, req.ActorID, domain.EventDisputeOpened, req.Note, now); err != nil {
		return nil, err
	}

	logging.InfoContext(ctx, "Dispute opened", "reservation_id", r.ID().String(), "opened_by", string(role))
	s.runPostCommit(ctx, "open_dispute", r.ID(),
		s.notifyStep(domain.NotifyDisputeOpened, r.Counterparty(role), r.ID(), map[string]string{"reason": req.Note}),
	)
	return &TransitionResult{ReservationID: r.ID().String(), From: from, Status: r.Status()}, nil
}

// ResolveDispute closes a dispute on behalf of the platform (DISPUTED -> COMPLETED).
func (s *Service) ResolveDispute(ctx context.Context, id domain.ReservationID, resolution string) (*TransitionResult, error) {
	start := time.Now()
	tx, err := s.deps.Store.Begin(ctx, domain.ReadCommitted)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	defer observeTx("resolve_dispute", start)

	r, err := tx.Reservations().FindByIDForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	from := r.Status()
	if err := r.ResolveDispute(now); err != nil {
		return nil, err
	}
	if err := s.persistTransition(ctx, tx, r, from, domain.SystemActor, domain.EventDisputeResolved, resolution, now); err != nil {
		return nil, err
	}

	logging.InfoContext(ctx, "Dispute resolved", "reservation_id", r.ID().String())
	data := map[string]string{"resolution": resolution}
	s.runPostCommit(ctx, "resolve_dispute", r.ID(),
		s.invalidateSearchStep(),
		s.notifyStep(domain.NotifyDisputeResolved, r.TenantID(), r.ID(), data),
		s.notifyStep(domain.NotifyDisputeResolved, r.OwnerID(), r.ID(), data),
	)
	return &TransitionResult{ReservationID: r.ID().String(), From: from, Status: r.Status()}, nil
}

// persistTransition writes the reservation and its history row, then commits.
func (s *Service) persistTransition(ctx context.Context, tx domain.Tx, r *domain.Reservation, from domain.Status, actor domain.PartyID, event, note string, now time.Time) error {
	if err := tx.Reservations().Update(ctx, r); err != nil {
		return err
	}
	if err := tx.History().Append(ctx, domain.NewHistoryEntry(r.ID(), from, r.Status(), actor, event, note, now)); err != nil {
		return err
	}
	if err := commit(ctx, tx, event); err != nil {
		return err
	}
	recordTransition(from, r.Status())
	return nil
}

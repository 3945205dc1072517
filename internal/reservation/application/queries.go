package application

import (
	"context"
	"errors"

	"rentlane/internal/reservation/domain"
)

// ResolveActor maps a bearer credential to the caller's party profile.
func (s *Service) ResolveActor(ctx context.Context, credential string) (domain.PartyID, error) {
	if s.deps.Auth == nil {
		return "", domain.ErrForbidden.WithMessage("no auth resolver configured")
	}
	subject, err := s.deps.Auth.Resolve(ctx, credential)
	if err != nil {
		return "", err
	}
	party, err := s.deps.Store.Parties().FindBySubject(ctx, subject)
	if errors.Is(err, domain.ErrPartyNotFound) {
		return "", domain.ErrPartyNotFound.WithMessage("no profile for subject %q", subject)
	}
	if err != nil {
		return "", err
	}
	return party.ID, nil
}

// Get returns a reservation the actor is a party to.
func (s *Service) Get(ctx context.Context, id domain.ReservationID, actor domain.PartyID) (*domain.Reservation, error) {
	r, err := s.deps.Store.Reservations().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor != domain.SystemActor {
		if err := r.Authorize(actor, ""); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// History returns the audit trail of a reservation, oldest first.
func (s *Service) History(ctx context.Context, id domain.ReservationID) ([]*domain.HistoryEntry, error) {
	if _, err := s.deps.Store.Reservations().FindByID(ctx, id); err != nil {
		return nil, err
	}
	return s.deps.Store.History().ListByReservation(ctx, id)
}

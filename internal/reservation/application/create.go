package application

import (
	"context"
	"fmt"
	"time"

	"rentlane/internal/common/logging"
	"rentlane/internal/common/metrics"
	"rentlane/internal/common/types"
	"rentlane/internal/reservation/domain"
)

// CreateRequest is a tenant's booking request.
type CreateRequest struct {
	TenantID       domain.PartyID
	VehicleID      domain.VehicleID
	StartDate      string
	EndDate        string
	IdempotencyKey string
}

// CreateResult describes the created (or replayed) reservation.
type CreateResult struct {
	ReservationID string
	PaymentURL    string
	Status        domain.Status
	Quote         domain.Quote
	// Replayed is set when the result comes from an earlier request with the same key.
	Replayed bool
}

// Create books a vehicle for the tenant. The vehicle row lock spans the
// overlap check and the insert, so competing bookings for the same vehicle
// cannot both succeed.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	period, err := domain.ParseDatesAndDuration(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}

	// Check idempotency
	existing, err := s.idem.CheckExisting(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return replayedCreate(existing), nil
	}
	if err := s.idem.AcquireLock(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	}

	// The id and payment session survive transaction retries so the provider
	// only ever sees one checkout per booking.
	attempt := &createAttempt{id: domain.NewReservationID()}
	var res *createOutcome
	for n := 1; ; n++ {
		res, err = s.createOnce(ctx, req, period, attempt)
		if err != nil && s.shouldRetry("create", n, err) {
			continue
		}
		break
	}
	if err != nil {
		s.idem.ReleaseLock(ctx, req.IdempotencyKey)
		return nil, err
	}
	if res.replayed != nil {
		s.idem.CommitResult(ctx, req.IdempotencyKey, *res.replayed)
		return replayedCreate(res.replayed), nil
	}

	r := res.reservation
	metrics.RecordReservationCreated()
	recordTransition(domain.StatusInitiated, r.Status())
	logging.InfoContext(ctx, "Reservation created",
		"reservation_id", r.ID().String(),
		"vehicle_id", r.VehicleID().String(),
		"tenant_id", r.TenantID().String(),
		"days", r.Days(),
		"tenant_total", r.TenantTotal().String(),
	)

	result := IdempotentResult{ReservationID: r.ID().String(), PaymentURL: res.paymentURL, Status: string(r.Status())}
	s.runPostCommit(ctx, "create", r.ID(),
		s.idempotencyStep(req.IdempotencyKey, result),
		s.scheduleStep(domain.JobPaymentExpiry, r.ID(), s.opts.PaymentExpiry),
		s.invalidateSearchStep(),
		s.revalidatePagesStep(r.VehicleID()),
		s.notifyStep(domain.NotifyReservationCreated, r.OwnerID(), r.ID(), map[string]string{
			"start_date": r.StartDate().Format(time.DateOnly),
			"end_date":   r.EndDate().Format(time.DateOnly),
		}),
	)

	return &CreateResult{
		ReservationID: r.ID().String(),
		PaymentURL:    res.paymentURL,
		Status:        r.Status(),
		Quote:         r.Quote(),
	}, nil
}

type createOutcome struct {
	reservation *domain.Reservation
	paymentURL  string
	replayed    *IdempotentResult
}

// createAttempt carries state shared by every transaction attempt of one Create.
type createAttempt struct {
	id      domain.ReservationID
	session *domain.PaymentSession
	amount  types.Money
}

// paymentSession opens the provider checkout on first use and reuses it while
// the amount is unchanged.
func (s *Service) paymentSession(ctx context.Context, a *createAttempt, amount types.Money) (domain.PaymentSession, error) {
	if a.session != nil && a.amount.Equal(amount) {
		return *a.session, nil
	}
	session, err := s.deps.Payments.Initiate(ctx, amount, a.id.String(), s.opts.PaymentCallbackURL)
	if err != nil {
		return domain.PaymentSession{}, fmt.Errorf("initiate payment: %w", err)
	}
	a.session, a.amount = &session, amount
	return session, nil
}

func (s *Service) createOnce(ctx context.Context, req CreateRequest, period domain.RentalPeriod, attempt *createAttempt) (*createOutcome, error) {
	start := time.Now()
	defer observeTx("create", start)

	tx, err := s.deps.Store.Begin(ctx, domain.RepeatableRead)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	tenant, err := tx.Parties().FindByID(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	vehicle, err := tx.Vehicles().FindByID(ctx, req.VehicleID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := domain.CheckTenantEligibility(tenant, vehicle, period.Days, now); err != nil {
		return nil, err
	}

	if err := s.avail.EnsureAvailable(ctx, tx, vehicle.ID, period.Start, period.End); err != nil {
		return nil, err
	}

	quote := domain.Calculate(vehicle.DailyRate, period.Days, vehicle.Tiers)
	r, err := domain.NewReservation(domain.NewReservationParams{
		ID:        attempt.id,
		TenantID:  tenant.ID,
		OwnerID:   vehicle.OwnerID,
		VehicleID: vehicle.ID,
		Period:    period,
		Quote:     quote,
		Currency:  vehicle.Currency,
		Now:       now,
	})
	if err != nil {
		return nil, err
	}

	session, err := s.paymentSession(ctx, attempt, r.TenantTotal())
	if err != nil {
		return nil, err
	}
	if err := r.AwaitPayment(now.Add(s.opts.PaymentExpiry), now); err != nil {
		return nil, err
	}

	if err := tx.Reservations().Create(ctx, r); err != nil {
		return nil, err
	}
	if err := tx.Payments().Create(ctx, domain.NewPayment(r.ID(), session, r.TenantTotal(), now)); err != nil {
		return nil, err
	}
	if err := tx.History().Append(ctx, domain.NewHistoryEntry(r.ID(), domain.StatusInitiated, r.Status(), tenant.ID, domain.EventCreated, "", now)); err != nil {
		return nil, err
	}

	// Store idempotency record
	if req.IdempotencyKey != "" {
		created, existing, err := tx.Idempotency().SetIfAbsent(ctx, s.idem.NewRecord(req.IdempotencyKey, r.ID(), session.PaymentURL))
		if err != nil {
			return nil, err
		}
		if !created {
			return &createOutcome{replayed: &IdempotentResult{
				ReservationID: existing.ReservationID.String(),
				PaymentURL:    existing.PaymentURL,
			}}, nil
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reservation: %w", err)
	}
	return &createOutcome{reservation: r, paymentURL: session.PaymentURL}, nil
}

func replayedCreate(res *IdempotentResult) *CreateResult {
	return &CreateResult{
		ReservationID: res.ReservationID,
		PaymentURL:    res.PaymentURL,
		Status:        domain.Status(res.Status),
		Replayed:      true,
	}
}

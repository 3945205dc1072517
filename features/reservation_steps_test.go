package features

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	"rentlane/internal/common/types"
	"rentlane/internal/jobs"
	"rentlane/internal/reservation/application"
	"rentlane/internal/reservation/domain"
	"rentlane/internal/reservation/infrastructure/contract"
	"rentlane/internal/reservation/infrastructure/memory"
)

type reservationState struct {
	ctx       context.Context
	now       time.Time
	store     *memory.DataStore
	gateway   *memory.PaymentGateway
	scheduler *memory.Scheduler
	service   *application.Service
	runner    *jobs.JobRunner

	tenantID      domain.PartyID
	ownerID       domain.PartyID
	reservationID domain.ReservationID
	bookings      []*application.CreateResult
	lastError     error
	paymentError  error
}

func InitializeScenario(sc *godog.ScenarioContext) {
	state := &reservationState{ctx: context.Background()}

	// Background steps
	sc.Step(`^a verified tenant "([^"]*)" and a verified owner "([^"]*)"$`, state.aVerifiedTenantAndOwner)
	sc.Step(`^a verified tenant "([^"]*)"$`, state.aVerifiedTenant)
	sc.Step(`^a vehicle "([^"]*)" of "([^"]*)" listed at (\d+) ([A-Z]{3}) per day$`, state.aVehicleListedAt)
	sc.Step(`^it is "([^"]*)"$`, state.itIs)

	// Booking steps
	sc.Step(`^"([^"]*)" books "([^"]*)" from "([^"]*)" to "([^"]*)"$`, state.books)
	sc.Step(`^"([^"]*)" books "([^"]*)" from "([^"]*)" to "([^"]*)" with idempotency key "([^"]*)"$`, state.booksWithKey)
	sc.Step(`^the booking should fail with "([^"]*)"$`, state.theBookingShouldFailWith)
	sc.Step(`^the last booking should be a replay of the first$`, state.theLastBookingShouldBeAReplay)
	sc.Step(`^the quoted tenant total should be (\d+) ([A-Z]{3})$`, state.theQuotedTenantTotalShouldBe)
	sc.Step(`^the vehicle can be booked again from "([^"]*)" to "([^"]*)"$`, state.theVehicleCanBeBookedAgain)

	// Payment steps
	sc.Step(`^the payment provider reports "([^"]*)"$`, state.theProviderReports)
	sc.Step(`^the payment provider reports "([^"]*)" for (\d+) ([A-Z]{3})$`, state.theProviderReportsAmount)
	sc.Step(`^the payment should fail with "([^"]*)"$`, state.thePaymentShouldFailWith)

	// Lifecycle steps
	sc.Step(`^the tenant accepts the contract$`, state.theTenantAcceptsTheContract)
	sc.Step(`^the (owner|tenant) checks in$`, state.checksIn)
	sc.Step(`^the owner checks out$`, state.theOwnerChecksOut)
	sc.Step(`^the tenant cancels$`, state.theTenantCancels)
	sc.Step(`^the due jobs run$`, state.theDueJobsRun)

	// Assertions
	sc.Step(`^the reservation status should be "([^"]*)"$`, state.theReservationStatusShouldBe)
	sc.Step(`^the wallet of "([^"]*)" should hold (\d+) ([A-Z]{3})$`, state.theWalletShouldHold)
	sc.Step(`^a refund of (\d+) ([A-Z]{3}) should have been issued$`, state.aRefundShouldHaveBeenIssued)
	sc.Step(`^the history should show the statuses "([^"]*)"$`, state.theHistoryShouldShow)
}

func (s *reservationState) clock() time.Time {
	return s.now
}

func (s *reservationState) ensureService() {
	if s.service != nil {
		return
	}
	s.store = memory.NewDataStore()
	s.gateway = memory.NewPaymentGateway()
	s.scheduler = memory.NewScheduler().WithClock(s.clock)
	cache := memory.NewCache().WithClock(s.clock)

	s.service = application.NewService(application.Dependencies{
		Store:       s.store,
		Cache:       cache,
		Locker:      memory.NewLocker(cache),
		Payments:    s.gateway,
		Renderer:    contract.NewRenderer(),
		Contracts:   memory.NewContractStore(),
		Notifier:    memory.NewNotifier(),
		SearchCache: cache,
		Pages:       memory.NewPageCache(),
		Scheduler:   s.scheduler,
	}, application.DefaultOptions()).WithClock(s.clock)
	s.runner = jobs.NewJobRunner(s.service, s.scheduler, jobs.DefaultOptions()).WithClock(s.clock)
}

func (s *reservationState) addParty(id string) {
	s.ensureService()
	birth := time.Date(1990, 6, 15, 0, 0, 0, 0, time.UTC)
	s.store.AddParty(domain.Party{
		ID:          domain.PartyID(id),
		Subject:     "auth|" + id,
		KYCVerified: true,
		BirthDate:   &birth,
	})
}

func (s *reservationState) aVerifiedTenantAndOwner(tenant, owner string) error {
	s.addParty(tenant)
	s.addParty(owner)
	s.tenantID = domain.PartyID(tenant)
	s.ownerID = domain.PartyID(owner)
	return nil
}

func (s *reservationState) aVerifiedTenant(tenant string) error {
	s.addParty(tenant)
	return nil
}

func (s *reservationState) aVehicleListedAt(vehicle, owner string, rate int, currency string) error {
	s.ensureService()
	s.store.AddVehicle(domain.Vehicle{
		ID:            domain.VehicleID(vehicle),
		OwnerID:       domain.PartyID(owner),
		Status:        domain.VehicleAvailable,
		DailyRate:     decimal.NewFromInt(int64(rate)),
		Currency:      currency,
		MinRentalDays: 1,
	})
	return nil
}

func (s *reservationState) itIs(ts string) error {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", ts, err)
	}
	s.now = t.UTC()
	return nil
}

func (s *reservationState) books(tenant, vehicle, start, end string) error {
	return s.booksWithKey(tenant, vehicle, start, end, "")
}

func (s *reservationState) booksWithKey(tenant, vehicle, start, end, key string) error {
	res, err := s.service.Create(s.ctx, application.CreateRequest{
		TenantID:       domain.PartyID(tenant),
		VehicleID:      domain.VehicleID(vehicle),
		StartDate:      start,
		EndDate:        end,
		IdempotencyKey: key,
	})
	s.lastError = err
	if err != nil {
		return nil
	}
	s.bookings = append(s.bookings, res)
	if s.reservationID.IsEmpty() {
		id, err := domain.ParseReservationID(res.ReservationID)
		if err != nil {
			return err
		}
		s.reservationID = id
	}
	return nil
}

func (s *reservationState) theBookingShouldFailWith(code string) error {
	return expectCode(s.lastError, code)
}

func (s *reservationState) theLastBookingShouldBeAReplay() error {
	if s.lastError != nil {
		return fmt.Errorf("booking failed: %w", s.lastError)
	}
	if len(s.bookings) < 2 {
		return fmt.Errorf("expected at least two bookings, got %d", len(s.bookings))
	}
	first, last := s.bookings[0], s.bookings[len(s.bookings)-1]
	if !last.Replayed {
		return fmt.Errorf("expected the last booking to be replayed")
	}
	if first.ReservationID != last.ReservationID {
		return fmt.Errorf("expected reservation %s, got %s", first.ReservationID, last.ReservationID)
	}
	return nil
}

func (s *reservationState) theQuotedTenantTotalShouldBe(amount int, currency string) error {
	if len(s.bookings) == 0 {
		return fmt.Errorf("no booking was made")
	}
	got := s.bookings[0].Quote.TenantTotal
	if !got.Equal(decimal.NewFromInt(int64(amount))) {
		return fmt.Errorf("expected tenant total %d %s, got %s", amount, currency, got)
	}
	return nil
}

func (s *reservationState) theVehicleCanBeBookedAgain(start, end string) error {
	res, err := s.service.Create(s.ctx, application.CreateRequest{
		TenantID:  s.tenantID,
		VehicleID: s.bookingVehicle(),
		StartDate: start,
		EndDate:   end,
	})
	if err != nil {
		return fmt.Errorf("rebooking failed: %w", err)
	}
	if res.Status != domain.StatusAwaitingPayment {
		return fmt.Errorf("expected status %s, got %s", domain.StatusAwaitingPayment, res.Status)
	}
	return nil
}

func (s *reservationState) bookingVehicle() domain.VehicleID {
	r, err := s.store.Reservations().FindByID(s.ctx, s.reservationID)
	if err != nil {
		return ""
	}
	return r.VehicleID()
}

func (s *reservationState) webhook(status string, amount *types.Money) (domain.PaymentWebhook, error) {
	p, err := s.store.Payments().FindByReservationID(s.ctx, s.reservationID)
	if err != nil {
		return domain.PaymentWebhook{}, err
	}
	hook := domain.PaymentWebhook{
		TransactionID: p.ProviderTransactionID,
		Status:        domain.WebhookStatus(status),
		Amount:        p.Amount,
		ReferenceID:   s.reservationID.String(),
	}
	if amount != nil {
		hook.Amount = *amount
	}
	return hook, nil
}

func (s *reservationState) theProviderReports(status string) error {
	hook, err := s.webhook(status, nil)
	if err != nil {
		return err
	}
	_, err = s.service.ConfirmPayment(s.ctx, hook)
	return err
}

func (s *reservationState) theProviderReportsAmount(status string, amount int, currency string) error {
	money := types.NewMoney(decimal.NewFromInt(int64(amount)), currency)
	hook, err := s.webhook(status, &money)
	if err != nil {
		return err
	}
	_, s.paymentError = s.service.ConfirmPayment(s.ctx, hook)
	return nil
}

func (s *reservationState) thePaymentShouldFailWith(code string) error {
	return expectCode(s.paymentError, code)
}

func (s *reservationState) theTenantAcceptsTheContract() error {
	_, err := s.service.Confirm(s.ctx, application.TransitionRequest{
		ReservationID: s.reservationID,
		ActorID:       s.tenantID,
	})
	return err
}

func (s *reservationState) checksIn(who string) error {
	req := application.CheckInRequest{ReservationID: s.reservationID, ActorID: s.tenantID, Role: domain.RoleTenant}
	if who == "owner" {
		req.ActorID, req.Role = s.ownerID, domain.RoleOwner
	}
	_, err := s.service.CheckIn(s.ctx, req)
	return err
}

func (s *reservationState) theOwnerChecksOut() error {
	_, err := s.service.CheckOut(s.ctx, application.TransitionRequest{
		ReservationID: s.reservationID,
		ActorID:       s.ownerID,
	})
	return err
}

func (s *reservationState) theTenantCancels() error {
	_, err := s.service.Cancel(s.ctx, application.CancelRequest{
		ReservationID: s.reservationID,
		ActorID:       s.tenantID,
		Role:          domain.RoleTenant,
		Reason:        "plans changed",
	})
	return err
}

func (s *reservationState) theDueJobsRun() error {
	_, err := s.runner.DrainDue(s.ctx)
	return err
}

func (s *reservationState) theReservationStatusShouldBe(expected string) error {
	r, err := s.store.Reservations().FindByID(s.ctx, s.reservationID)
	if err != nil {
		return err
	}
	if string(r.Status()) != expected {
		return fmt.Errorf("expected status %s, got %s", expected, r.Status())
	}
	return nil
}

func (s *reservationState) theWalletShouldHold(owner string, amount int, currency string) error {
	w, err := s.service.Wallets().Balance(s.ctx, domain.PartyID(owner))
	if err != nil {
		return err
	}
	if w.Currency != currency || !w.Balance.Equal(decimal.NewFromInt(int64(amount))) {
		return fmt.Errorf("expected wallet balance %d %s, got %s %s", amount, currency, w.Balance, w.Currency)
	}
	return nil
}

func (s *reservationState) aRefundShouldHaveBeenIssued(amount int, currency string) error {
	refunds := s.gateway.Refunds()
	if len(refunds) != 1 {
		return fmt.Errorf("expected one refund, got %d", len(refunds))
	}
	got := refunds[0].Amount
	if got.Currency != currency || !got.Amount.Equal(decimal.NewFromInt(int64(amount))) {
		return fmt.Errorf("expected refund of %d %s, got %s", amount, currency, got)
	}
	return nil
}

func (s *reservationState) theHistoryShouldShow(list string) error {
	entries, err := s.service.History(s.ctx, s.reservationID)
	if err != nil {
		return err
	}
	var got []string
	for _, e := range entries {
		if e.FromStatus != e.ToStatus {
			got = append(got, string(e.ToStatus))
		}
	}
	want := strings.Split(list, ", ")
	if strings.Join(got, ",") != strings.Join(want, ",") {
		return fmt.Errorf("expected statuses %v, got %v", want, got)
	}
	return nil
}

func expectCode(err error, code string) error {
	if err == nil {
		return fmt.Errorf("expected error %s, got none", code)
	}
	var derr *domain.Error
	if !errors.As(err, &derr) {
		return fmt.Errorf("expected domain error %s, got %w", code, err)
	}
	if derr.Code != code {
		return fmt.Errorf("expected error %s, got %s", code, derr.Code)
	}
	return nil
}

package application_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"rentlane/internal/common/types"
	"rentlane/internal/reservation/application"
	"rentlane/internal/reservation/domain"
	"rentlane/internal/reservation/infrastructure/contract"
	"rentlane/internal/reservation/infrastructure/memory"
)

const (
	tenantID   domain.PartyID   = "tenant-1"
	tenant2ID  domain.PartyID   = "tenant-2"
	ownerID    domain.PartyID   = "owner-1"
	strangerID domain.PartyID   = "stranger-1"
	vehicleID  domain.VehicleID = "vehicle-1"

	startDate = "2026-03-10"
	endDate   = "2026-03-13"
)

var (
	bookedAt    = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rentalStart = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	rentalEnd   = time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC)
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// harness wires the service to in-memory collaborators.
type harness struct {
	ctx       context.Context
	clock     *testClock
	store     *memory.DataStore
	cache     *memory.Cache
	gateway   *memory.PaymentGateway
	contracts *memory.ContractStore
	notifier  *memory.Notifier
	pages     *memory.PageCache
	scheduler *memory.Scheduler
	svc       *application.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &testClock{t: bookedAt}
	h := &harness{
		ctx:       context.Background(),
		clock:     clock,
		store:     memory.NewDataStore(),
		cache:     memory.NewCache().WithClock(clock.Now),
		gateway:   memory.NewPaymentGateway(),
		contracts: memory.NewContractStore(),
		notifier:  memory.NewNotifier(),
		pages:     memory.NewPageCache(),
		scheduler: memory.NewScheduler().WithClock(clock.Now),
	}

	birth := time.Date(1990, 6, 15, 0, 0, 0, 0, time.UTC)
	h.store.AddParty(domain.Party{ID: tenantID, Subject: "auth|tenant-1", KYCVerified: true, BirthDate: &birth})
	h.store.AddParty(domain.Party{ID: tenant2ID, Subject: "auth|tenant-2", KYCVerified: true, BirthDate: &birth})
	h.store.AddParty(domain.Party{ID: ownerID, Subject: "auth|owner-1", KYCVerified: true, BirthDate: &birth})
	h.store.AddParty(domain.Party{ID: strangerID, Subject: "auth|stranger-1", KYCVerified: false})
	h.store.AddVehicle(domain.Vehicle{
		ID:            vehicleID,
		OwnerID:       ownerID,
		Status:        domain.VehicleAvailable,
		DailyRate:     decimal.NewFromInt(10000),
		Currency:      "EUR",
		MinRentalDays: 1,
	})

	locker := memory.NewLocker(h.cache)
	h.svc = application.NewService(application.Dependencies{
		Store:       h.store,
		Cache:       h.cache,
		Locker:      locker,
		Payments:    h.gateway,
		Renderer:    contract.NewRenderer(),
		Contracts:   h.contracts,
		Notifier:    h.notifier,
		SearchCache: h.cache,
		Pages:       h.pages,
		Scheduler:   h.scheduler,
		Auth:        memory.AuthResolver{"token-tenant": "auth|tenant-1", "token-ghost": "auth|ghost"},
	}, application.DefaultOptions()).WithClock(clock.Now)
	return h
}

func (h *harness) create(t *testing.T, key string) *application.CreateResult {
	t.Helper()
	res, err := h.svc.Create(h.ctx, application.CreateRequest{
		TenantID:       tenantID,
		VehicleID:      vehicleID,
		StartDate:      startDate,
		EndDate:        endDate,
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	return res
}

func (h *harness) reservation(t *testing.T, id string) *domain.Reservation {
	t.Helper()
	r, err := h.store.Reservations().FindByID(h.ctx, domain.MustParseReservationID(id))
	require.NoError(t, err)
	return r
}

func (h *harness) payment(t *testing.T, id string) *domain.Payment {
	t.Helper()
	p, err := h.store.Payments().FindByReservationID(h.ctx, domain.MustParseReservationID(id))
	require.NoError(t, err)
	return p
}

func (h *harness) webhook(t *testing.T, id string, status domain.WebhookStatus) domain.PaymentWebhook {
	t.Helper()
	p := h.payment(t, id)
	return domain.PaymentWebhook{
		TransactionID: p.ProviderTransactionID,
		Status:        status,
		Amount:        p.Amount,
		ReferenceID:   id,
	}
}

func (h *harness) pay(t *testing.T, id string) {
	t.Helper()
	res, err := h.svc.ConfirmPayment(h.ctx, h.webhook(t, id, domain.WebhookSuccess))
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaid, res.Status)
}

func (h *harness) confirm(t *testing.T, id string) {
	t.Helper()
	_, err := h.svc.Confirm(h.ctx, application.TransitionRequest{ReservationID: domain.MustParseReservationID(id), ActorID: tenantID})
	require.NoError(t, err)
}

func (h *harness) checkIn(t *testing.T, id string, actor domain.PartyID, role domain.Role) *application.CheckInResult {
	t.Helper()
	res, err := h.svc.CheckIn(h.ctx, application.CheckInRequest{ReservationID: domain.MustParseReservationID(id), ActorID: actor, Role: role})
	require.NoError(t, err)
	return res
}

// inProgress drives a fresh reservation to IN_PROGRESS with the clock on
// the rental's first morning.
func (h *harness) inProgress(t *testing.T) string {
	t.Helper()
	id := h.create(t, "").ReservationID
	h.pay(t, id)
	h.confirm(t, id)
	h.clock.Set(rentalStart.Add(9 * time.Hour))
	h.checkIn(t, id, ownerID, domain.RoleOwner)
	h.checkIn(t, id, tenantID, domain.RoleTenant)
	return id
}

func eur(v int64) types.Money {
	return types.NewMoney(decimal.NewFromInt(v), "EUR")
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func jobsOfType(s *memory.Scheduler, typ domain.JobType) []domain.ScheduledJob {
	var out []domain.ScheduledJob
	for _, j := range s.Pending() {
		if j.Type == typ {
			out = append(out, j)
		}
	}
	return out
}

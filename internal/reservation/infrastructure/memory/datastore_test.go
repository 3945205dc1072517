package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentlane/internal/reservation/domain"
)

var testStart = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func newTestReservation(t *testing.T, vehicle domain.VehicleID, start time.Time, days int) *domain.Reservation {
	t.Helper()
	r, err := domain.NewReservation(domain.NewReservationParams{
		TenantID:  "tenant-1",
		OwnerID:   "owner-1",
		VehicleID: vehicle,
		Period: domain.RentalPeriod{
			Start: start,
			End:   start.AddDate(0, 0, days),
			Days:  days,
		},
		Quote:    domain.Calculate(decimal.NewFromInt(100), days, nil),
		Currency: "EUR",
		Now:      start.AddDate(0, 0, -10),
	})
	require.NoError(t, err)
	return r
}

func TestDataStore_TransactionIsolation(t *testing.T) {
	ctx := context.Background()

	t.Run("uncommitted writes are invisible to the pool", func(t *testing.T) {
		ds := NewDataStore()
		r := newTestReservation(t, "v1", testStart, 3)

		tx, err := ds.Begin(ctx, domain.ReadCommitted)
		require.NoError(t, err)
		require.NoError(t, tx.Reservations().Create(ctx, r))

		_, err = ds.Reservations().FindByID(ctx, r.ID())
		assert.ErrorIs(t, err, domain.ErrReservationNotFound)

		got, err := tx.Reservations().FindByID(ctx, r.ID())
		require.NoError(t, err)
		assert.Equal(t, r.ID(), got.ID())

		require.NoError(t, tx.Commit(ctx))
		_, err = ds.Reservations().FindByID(ctx, r.ID())
		assert.NoError(t, err)
	})

	t.Run("rollback discards writes", func(t *testing.T) {
		ds := NewDataStore()
		r := newTestReservation(t, "v1", testStart, 3)

		tx, err := ds.Begin(ctx, domain.ReadCommitted)
		require.NoError(t, err)
		require.NoError(t, tx.Reservations().Create(ctx, r))
		require.NoError(t, tx.Rollback(ctx))
		require.NoError(t, tx.Rollback(ctx))

		_, err = ds.Reservations().FindByID(ctx, r.ID())
		assert.ErrorIs(t, err, domain.ErrReservationNotFound)
	})

	t.Run("injected commit error discards writes", func(t *testing.T) {
		ds := NewDataStore()
		ds.InjectCommitErrors(domain.ErrSerializationFailure)
		r := newTestReservation(t, "v1", testStart, 3)

		tx, err := ds.Begin(ctx, domain.Serializable)
		require.NoError(t, err)
		require.NoError(t, tx.Reservations().Create(ctx, r))
		assert.ErrorIs(t, tx.Commit(ctx), domain.ErrSerializationFailure)
		require.NoError(t, tx.Rollback(ctx))

		_, err = ds.Reservations().FindByID(ctx, r.ID())
		assert.ErrorIs(t, err, domain.ErrReservationNotFound)

		// The next transaction commits normally.
		tx, err = ds.Begin(ctx, domain.Serializable)
		require.NoError(t, err)
		require.NoError(t, tx.Reservations().Create(ctx, r))
		require.NoError(t, tx.Commit(ctx))
	})

	t.Run("returned reservations are copies", func(t *testing.T) {
		ds := NewDataStore()
		r := newTestReservation(t, "v1", testStart, 3)
		require.NoError(t, ds.Reservations().Create(ctx, r))

		got, err := ds.Reservations().FindByID(ctx, r.ID())
		require.NoError(t, err)
		require.NoError(t, got.AwaitPayment(testStart, testStart.AddDate(0, 0, -1)))

		again, err := ds.Reservations().FindByID(ctx, r.ID())
		require.NoError(t, err)
		assert.Equal(t, domain.StatusInitiated, again.Status())
	})

	t.Run("begin fails on cancelled context", func(t *testing.T) {
		ds := NewDataStore()
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := ds.Begin(cctx, domain.ReadCommitted)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDataStore_Vehicles(t *testing.T) {
	ctx := context.Background()
	ds := NewDataStore()
	ds.AddVehicle(domain.Vehicle{ID: "v1", OwnerID: "owner-1", Status: domain.VehicleAvailable, DailyRate: decimal.NewFromInt(100), Currency: "EUR"})
	ds.AddVehicle(domain.Vehicle{ID: "v2", OwnerID: "owner-1", Status: domain.VehicleMaintenance, DailyRate: decimal.NewFromInt(100), Currency: "EUR"})

	ok, err := ds.Vehicles().LockForBooking(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ds.Vehicles().LockForBooking(ctx, "v2")
	require.NoError(t, err)
	assert.False(t, ok, "unbookable vehicle")

	ok, err = ds.Vehicles().LockForBooking(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok, "unknown vehicle")

	release := ds.HoldVehicleLock("v1")
	ok, err = ds.Vehicles().LockForBooking(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, ok, "held vehicle")

	release()
	release()
	ok, err = ds.Vehicles().LockForBooking(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDataStore_HasOverlap(t *testing.T) {
	ctx := context.Background()
	ds := NewDataStore()

	r := newTestReservation(t, "v1", testStart, 3)
	require.NoError(t, r.AwaitPayment(testStart, testStart.AddDate(0, 0, -10)))
	require.NoError(t, ds.Reservations().Create(ctx, r))

	tests := []struct {
		name    string
		vehicle domain.VehicleID
		start   time.Time
		end     time.Time
		want    bool
	}{
		{"same period", "v1", testStart, testStart.AddDate(0, 0, 3), true},
		{"inner day", "v1", testStart.AddDate(0, 0, 1), testStart.AddDate(0, 0, 2), true},
		{"ends on start day", "v1", testStart.AddDate(0, 0, -2), testStart, false},
		{"starts on end day", "v1", testStart.AddDate(0, 0, 3), testStart.AddDate(0, 0, 5), false},
		{"other vehicle", "v2", testStart, testStart.AddDate(0, 0, 3), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ds.Reservations().HasOverlap(ctx, tt.vehicle, tt.start, tt.end)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("inactive reservations do not block", func(t *testing.T) {
		require.NoError(t, r.Cancel("tenant-1", "changed plans", testStart.AddDate(0, 0, -5)))
		require.NoError(t, ds.Reservations().Update(ctx, r))
		got, err := ds.Reservations().HasOverlap(ctx, "v1", testStart, testStart.AddDate(0, 0, 3))
		require.NoError(t, err)
		assert.False(t, got)
	})
}

func TestDataStore_Ledger(t *testing.T) {
	ctx := context.Background()
	ds := NewDataStore()
	now := testStart

	w, err := ds.Wallets().Upsert(ctx, "owner-1", "EUR", now)
	require.NoError(t, err)
	again, err := ds.Wallets().Upsert(ctx, "owner-1", "EUR", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, w.ID, again.ID)

	id := domain.NewReservationID()
	entry, balance := domain.NewWalletTransaction(w, &id, domain.EntryCreditRental, decimal.NewFromInt(255), now)
	require.NoError(t, ds.Ledger().Append(ctx, entry))
	require.NoError(t, ds.Wallets().UpdateBalance(ctx, w.ID, balance, now))

	dup, _ := domain.NewWalletTransaction(w, &id, domain.EntryCreditRental, decimal.NewFromInt(255), now)
	assert.ErrorIs(t, ds.Ledger().Append(ctx, dup), domain.ErrDuplicateLedgerEntry)

	withdrawal, _ := domain.NewWalletTransaction(w, nil, domain.EntryDebitWithdrawal, decimal.NewFromInt(5), now)
	require.NoError(t, ds.Ledger().Append(ctx, withdrawal))
	withdrawal2, _ := domain.NewWalletTransaction(w, nil, domain.EntryDebitWithdrawal, decimal.NewFromInt(5), now)
	require.NoError(t, ds.Ledger().Append(ctx, withdrawal2), "unlinked entries are not deduplicated")

	found, err := ds.Ledger().FindByReservation(ctx, id, domain.EntryCreditRental)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.True(t, found.Amount.Equal(decimal.NewFromInt(255)))

	missing, err := ds.Ledger().FindByReservation(ctx, id, domain.EntryDebitPenalty)
	require.NoError(t, err)
	assert.Nil(t, missing)

	entries, err := ds.Ledger().ListByWallet(ctx, w.ID, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, withdrawal2.ID, entries[0].ID, "newest first")

	got, err := ds.Wallets().FindByOwner(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(255)))

	assert.ErrorIs(t, ds.Wallets().UpdateBalance(ctx, "nope", decimal.Zero, now), domain.ErrWalletNotFound)
}

func TestDataStore_IdempotencyReplacesExpiredRecord(t *testing.T) {
	ctx := context.Background()
	ds := NewDataStore()
	now := testStart

	old := &domain.IdempotencyRecord{Key: "k1", ReservationID: domain.NewReservationID(), PaymentURL: "u1", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	_, _, err := ds.Idempotency().SetIfAbsent(ctx, old)
	require.NoError(t, err)

	fresh := &domain.IdempotencyRecord{Key: "k1", ReservationID: domain.NewReservationID(), PaymentURL: "u2", ExpiresAt: now.Add(3 * time.Hour), CreatedAt: now.Add(2 * time.Hour)}
	created, stored, err := ds.Idempotency().SetIfAbsent(ctx, fresh)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, fresh.ReservationID, stored.ReservationID)

	got, err := ds.Idempotency().Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "u2", got.PaymentURL)
}

func TestDataStore_Idempotency(t *testing.T) {
	ctx := context.Background()
	ds := NewDataStore()
	now := testStart

	rec := &domain.IdempotencyRecord{Key: "k1", ReservationID: domain.NewReservationID(), PaymentURL: "u1", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	created, existing, err := ds.Idempotency().SetIfAbsent(ctx, rec)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "u1", existing.PaymentURL)

	other := *rec
	other.PaymentURL = "u2"
	created, existing, err = ds.Idempotency().SetIfAbsent(ctx, &other)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "u1", existing.PaymentURL)

	n, err := ds.Idempotency().DeleteExpired(ctx, now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = ds.Idempotency().DeleteExpired(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := ds.Idempotency().Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDataStore_Sweeps(t *testing.T) {
	ctx := context.Background()
	ds := NewDataStore()
	now := testStart.AddDate(0, 0, -10)

	due := newTestReservation(t, "v1", testStart, 3)
	require.NoError(t, due.AwaitPayment(now.Add(-time.Minute), now.Add(-time.Hour)))
	require.NoError(t, ds.Reservations().Create(ctx, due))

	notDue := newTestReservation(t, "v2", testStart, 3)
	require.NoError(t, notDue.AwaitPayment(now.Add(time.Minute), now.Add(-time.Hour)))
	require.NoError(t, ds.Reservations().Create(ctx, notDue))

	ids, err := ds.Reservations().ListPaymentOverdue(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []domain.ReservationID{due.ID()}, ids)

	ids, err = ds.Reservations().ListFinalizedWithoutCredit(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDataStore_PartiesAndHistory(t *testing.T) {
	ctx := context.Background()
	ds := NewDataStore()
	ds.AddParty(domain.Party{ID: "tenant-1", Subject: "auth|Tenant-1", KYCVerified: true})

	p, err := ds.Parties().FindBySubject(ctx, "auth|tenant-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PartyID("tenant-1"), p.ID)

	_, err = ds.Parties().FindByID(ctx, "ghost")
	assert.True(t, errors.Is(err, domain.ErrPartyNotFound))

	id := domain.NewReservationID()
	require.NoError(t, ds.History().Append(ctx, domain.NewHistoryEntry(id, domain.StatusInitiated, domain.StatusAwaitingPayment, "tenant-1", domain.EventCreated, "", testStart)))

	has, err := ds.History().HasEvent(ctx, id, domain.EventCreated)
	require.NoError(t, err)
	assert.True(t, has)

	entries, err := ds.History().ListByReservation(ctx, id)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

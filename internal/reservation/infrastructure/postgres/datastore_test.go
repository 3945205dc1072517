package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"rentlane/internal/common/types"
	"rentlane/internal/reservation/domain"
	"rentlane/internal/reservation/infrastructure/postgres"
)

const (
	tenantID  = domain.PartyID("tenant-1")
	ownerID   = domain.PartyID("owner-1")
	vehicleID = domain.VehicleID("vehicle-1")
)

var now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// DataStoreSuite tests repositories and transaction behavior against a real Postgres instance.
//
// Row locks, SKIP LOCKED, isolation levels and partial unique indexes need
// real database behavior that the in-memory store only approximates.
type DataStoreSuite struct {
	suite.Suite
	ctx       context.Context
	dataStore *postgres.DataStore
}

func TestDataStoreSuite(t *testing.T) {
	suite.Run(t, new(DataStoreSuite))
}

func (s *DataStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.Require().NoError(truncateTables(s.ctx, getTestPool()))
	s.dataStore = postgres.NewDataStore(getTestPool())

	s.Require().NoError(seedParty(s.ctx, string(tenantID)))
	s.Require().NoError(seedParty(s.ctx, string(ownerID)))
	s.Require().NoError(seedVehicle(s.ctx, string(vehicleID), string(ownerID), "AVAILABLE"))
}

func (s *DataStoreSuite) newReservation(start, end string) *domain.Reservation {
	period, err := domain.ParseDatesAndDuration(start, end)
	s.Require().NoError(err)
	res, err := domain.NewReservation(domain.NewReservationParams{
		TenantID:  tenantID,
		OwnerID:   ownerID,
		VehicleID: vehicleID,
		Period:    period,
		Quote:     domain.Calculate(decimal.NewFromInt(10000), period.Days, nil),
		Currency:  types.CurrencyEUR,
		Now:       now,
	})
	s.Require().NoError(err)
	return res
}

// store commits res in its own transaction.
func (s *DataStoreSuite) store(res *domain.Reservation) {
	tx, err := s.dataStore.Begin(s.ctx, domain.ReadCommitted)
	s.Require().NoError(err)
	defer tx.Rollback(s.ctx)
	s.Require().NoError(tx.Reservations().Create(s.ctx, res))
	s.Require().NoError(tx.Commit(s.ctx))
}

func (s *DataStoreSuite) TestTransactionBehavior() {
	s.Run("commit persists changes", func() {
		res := s.newReservation("2026-03-10", "2026-03-13")
		s.store(res)

		found, err := s.dataStore.Reservations().FindByID(s.ctx, res.ID())
		s.Require().NoError(err)
		s.Equal(res.Snapshot().TenantTotal.String(), found.Snapshot().TenantTotal.String())
		s.Equal(domain.StatusInitiated, found.Status())
	})

	s.Run("rollback discards changes", func() {
		res := s.newReservation("2026-04-10", "2026-04-13")

		tx, err := s.dataStore.Begin(s.ctx, domain.RepeatableRead)
		s.Require().NoError(err)
		s.Require().NoError(tx.Reservations().Create(s.ctx, res))
		s.Require().NoError(tx.Rollback(s.ctx))

		_, err = s.dataStore.Reservations().FindByID(s.ctx, res.ID())
		s.ErrorIs(err, domain.ErrReservationNotFound)
	})

	s.Run("rollback after commit is a no-op", func() {
		tx, err := s.dataStore.Begin(s.ctx, domain.ReadCommitted)
		s.Require().NoError(err)
		s.Require().NoError(tx.Commit(s.ctx))
		s.NoError(tx.Rollback(s.ctx))
	})
}

func (s *DataStoreSuite) TestReservationRoundTrip() {
	res := s.newReservation("2026-03-10", "2026-03-13")
	s.store(res)

	tx, err := s.dataStore.Begin(s.ctx, domain.ReadCommitted)
	s.Require().NoError(err)
	defer tx.Rollback(s.ctx)

	locked, err := tx.Reservations().FindByIDForUpdate(s.ctx, res.ID())
	s.Require().NoError(err)
	s.Require().NoError(locked.AwaitPayment(now.Add(30*time.Minute), now))
	s.Require().NoError(locked.MarkPaid(now))
	locked.SetContractRef("s3://contracts/"+res.ID().String(), now)
	s.Require().NoError(tx.Reservations().Update(s.ctx, locked))
	s.Require().NoError(tx.Commit(s.ctx))

	found, err := s.dataStore.Reservations().FindByID(s.ctx, res.ID())
	s.Require().NoError(err)
	snap := found.Snapshot()
	s.Equal(domain.StatusPaid, snap.Status)
	s.Equal(3, snap.Days)
	s.True(decimal.NewFromInt(30000).Equal(snap.BaseAmount))
	s.True(decimal.NewFromInt(4500).Equal(snap.CommissionAmount))
	s.True(decimal.NewFromInt(34500).Equal(snap.TenantTotal))
	s.True(decimal.RequireFromString("0.15").Equal(snap.CommissionRate))
	s.Require().NotNil(snap.PaymentDeadline)
	s.True(now.Add(30 * time.Minute).Equal(*snap.PaymentDeadline))
	s.Nil(snap.CancelledAt)
	s.Equal("s3://contracts/"+res.ID().String(), snap.ContractRef)
	s.Equal(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), snap.StartDate)
}

func (s *DataStoreSuite) TestHasOverlap() {
	res := s.newReservation("2026-03-10", "2026-03-13")
	s.Require().NoError(res.AwaitPayment(now.Add(time.Hour), now))
	s.store(res)

	day := func(d int) time.Time { return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC) }
	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"same range", day(10), day(13), true},
		{"inside", day(11), day(12), true},
		{"ends on start day", day(8), day(10), false},
		{"starts on end day", day(13), day(15), false},
		{"straddles end", day(12), day(14), true},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			got, err := s.dataStore.Reservations().HasOverlap(s.ctx, vehicleID, tt.start, tt.end)
			s.Require().NoError(err)
			s.Equal(tt.want, got)
		})
	}

	s.Run("cancelled reservations free the vehicle", func() {
		tx, err := s.dataStore.Begin(s.ctx, domain.ReadCommitted)
		s.Require().NoError(err)
		defer tx.Rollback(s.ctx)
		locked, err := tx.Reservations().FindByIDForUpdate(s.ctx, res.ID())
		s.Require().NoError(err)
		s.Require().NoError(locked.Cancel(tenantID, "change of plans", now))
		s.Require().NoError(tx.Reservations().Update(s.ctx, locked))
		s.Require().NoError(tx.Commit(s.ctx))

		got, err := s.dataStore.Reservations().HasOverlap(s.ctx, vehicleID, day(10), day(13))
		s.Require().NoError(err)
		s.False(got)
	})
}

func (s *DataStoreSuite) TestLockForBooking() {
	s.Run("second transaction does not wait for a held lock", func() {
		first, err := s.dataStore.Begin(s.ctx, domain.RepeatableRead)
		s.Require().NoError(err)
		defer first.Rollback(s.ctx)
		ok, err := first.Vehicles().LockForBooking(s.ctx, vehicleID)
		s.Require().NoError(err)
		s.True(ok)

		second, err := s.dataStore.Begin(s.ctx, domain.RepeatableRead)
		s.Require().NoError(err)
		defer second.Rollback(s.ctx)
		ok, err = second.Vehicles().LockForBooking(s.ctx, vehicleID)
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("unlisted and unknown vehicles are not bookable", func() {
		s.Require().NoError(seedVehicle(s.ctx, "vehicle-unlisted", string(ownerID), "UNLISTED"))

		tx, err := s.dataStore.Begin(s.ctx, domain.ReadCommitted)
		s.Require().NoError(err)
		defer tx.Rollback(s.ctx)

		ok, err := tx.Vehicles().LockForBooking(s.ctx, "vehicle-unlisted")
		s.Require().NoError(err)
		s.False(ok)
		ok, err = tx.Vehicles().LockForBooking(s.ctx, "vehicle-missing")
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("booking from a stale snapshot fails with a serialization error", func() {
		stale, err := s.dataStore.Begin(s.ctx, domain.RepeatableRead)
		s.Require().NoError(err)
		defer stale.Rollback(s.ctx)
		overlap, err := stale.Reservations().HasOverlap(s.ctx, vehicleID, now, now.Add(72*time.Hour))
		s.Require().NoError(err)
		s.False(overlap)

		winner, err := s.dataStore.Begin(s.ctx, domain.RepeatableRead)
		s.Require().NoError(err)
		defer winner.Rollback(s.ctx)
		ok, err := winner.Vehicles().LockForBooking(s.ctx, vehicleID)
		s.Require().NoError(err)
		s.Require().True(ok)
		s.Require().NoError(winner.Commit(s.ctx))

		_, err = stale.Vehicles().LockForBooking(s.ctx, vehicleID)
		s.ErrorIs(err, domain.ErrSerializationFailure)
	})
}

func (s *DataStoreSuite) TestVehicleAndParties() {
	v, err := s.dataStore.Vehicles().FindByID(s.ctx, vehicleID)
	s.Require().NoError(err)
	s.Equal(ownerID, v.OwnerID)
	s.True(v.Bookable())
	s.Require().Len(v.Tiers, 1)
	s.Equal(7, v.Tiers[0].MinDays)
	s.True(decimal.NewFromInt(9000).Equal(v.Tiers[0].Rate))

	_, err = s.dataStore.Vehicles().FindByID(s.ctx, "vehicle-missing")
	s.ErrorIs(err, domain.ErrVehicleNotFound)

	p, err := s.dataStore.Parties().FindBySubject(s.ctx, "AUTH|TENANT-1")
	s.Require().NoError(err)
	s.Equal(tenantID, p.ID)
	s.True(p.KYCVerified)
	s.Require().NotNil(p.BirthDate)
	s.Equal(1990, p.BirthDate.Year())

	_, err = s.dataStore.Parties().FindByID(s.ctx, "nobody")
	s.ErrorIs(err, domain.ErrPartyNotFound)
}

func (s *DataStoreSuite) TestPayments() {
	res := s.newReservation("2026-03-10", "2026-03-13")
	s.store(res)

	session := domain.PaymentSession{Provider: "stripe", TransactionID: "tx-1", PaymentURL: "https://pay.example.test/tx-1"}
	payment := domain.NewPayment(res.ID(), session, res.TenantTotal(), now)

	tx, err := s.dataStore.Begin(s.ctx, domain.Serializable)
	s.Require().NoError(err)
	defer tx.Rollback(s.ctx)
	s.Require().NoError(tx.Payments().Create(s.ctx, payment))
	s.Require().NoError(payment.Confirm(now))
	s.Require().NoError(payment.Refund(decimal.NewFromInt(25875), now))
	s.Require().NoError(tx.Payments().Update(s.ctx, payment))
	s.Require().NoError(tx.Commit(s.ctx))

	found, err := s.dataStore.Payments().FindByTransactionID(s.ctx, "tx-1")
	s.Require().NoError(err)
	s.Equal(res.ID(), found.ReservationID)
	s.Equal(domain.PaymentRefunded, found.Status)
	s.True(decimal.NewFromInt(34500).Equal(found.Amount.Amount))
	s.Equal(types.CurrencyEUR, found.Amount.Currency)
	s.True(decimal.NewFromInt(25875).Equal(found.RefundedAmount))

	_, err = s.dataStore.Payments().FindByReservationID(s.ctx, domain.NewReservationID())
	s.ErrorIs(err, domain.ErrPaymentNotFound)
}

func (s *DataStoreSuite) TestPaymentUpdateKeepsBackfilledTransactionID() {
	res := s.newReservation("2026-03-10", "2026-03-13")
	s.store(res)

	session := domain.PaymentSession{Provider: "stripe", PaymentURL: "https://pay.example.test/ref"}
	payment := domain.NewPayment(res.ID(), session, res.TenantTotal(), now)

	tx, err := s.dataStore.Begin(s.ctx, domain.Serializable)
	s.Require().NoError(err)
	defer tx.Rollback(s.ctx)
	s.Require().NoError(tx.Payments().Create(s.ctx, payment))
	s.Require().NoError(payment.Confirm(now))
	payment.ProviderTransactionID = "tx-from-webhook"
	s.Require().NoError(tx.Payments().Update(s.ctx, payment))
	s.Require().NoError(tx.Commit(s.ctx))

	found, err := s.dataStore.Payments().FindByTransactionID(s.ctx, "tx-from-webhook")
	s.Require().NoError(err)
	s.Equal(res.ID(), found.ReservationID)
	s.Equal(domain.PaymentConfirmed, found.Status)
}

func (s *DataStoreSuite) TestIdempotencyReplacesExpiredRecord() {
	first := s.newReservation("2026-03-10", "2026-03-13")
	s.store(first)
	second := s.newReservation("2026-04-10", "2026-04-13")
	s.store(second)

	old := &domain.IdempotencyRecord{
		Key:           "idem-expired",
		ReservationID: first.ID(),
		PaymentURL:    "https://pay.example.test/old",
		ExpiresAt:     now.Add(time.Hour),
		CreatedAt:     now,
	}
	created, _, err := s.dataStore.Idempotency().SetIfAbsent(s.ctx, old)
	s.Require().NoError(err)
	s.Require().True(created)

	early := *old
	early.ReservationID = second.ID()
	early.CreatedAt = now.Add(30 * time.Minute)
	created, stored, err := s.dataStore.Idempotency().SetIfAbsent(s.ctx, &early)
	s.Require().NoError(err)
	s.False(created, "record is still live")
	s.Equal(first.ID(), stored.ReservationID)

	fresh := &domain.IdempotencyRecord{
		Key:           "idem-expired",
		ReservationID: second.ID(),
		PaymentURL:    "https://pay.example.test/new",
		ExpiresAt:     now.Add(26 * time.Hour),
		CreatedAt:     now.Add(2 * time.Hour),
	}
	created, stored, err = s.dataStore.Idempotency().SetIfAbsent(s.ctx, fresh)
	s.Require().NoError(err)
	s.True(created)
	s.Equal(second.ID(), stored.ReservationID)

	got, err := s.dataStore.Idempotency().Get(s.ctx, "idem-expired")
	s.Require().NoError(err)
	s.Equal("https://pay.example.test/new", got.PaymentURL)
}

func (s *DataStoreSuite) TestIdempotency() {
	res := s.newReservation("2026-03-10", "2026-03-13")
	rec := &domain.IdempotencyRecord{
		Key:           "idem-1",
		ReservationID: res.ID(),
		PaymentURL:    "https://pay.example.test/1",
		ExpiresAt:     now.Add(24 * time.Hour),
		CreatedAt:     now,
	}

	created, stored, err := s.dataStore.Idempotency().SetIfAbsent(s.ctx, rec)
	s.Require().NoError(err)
	s.True(created)
	s.Equal(res.ID(), stored.ReservationID)

	other := *rec
	other.ReservationID = domain.NewReservationID()
	created, stored, err = s.dataStore.Idempotency().SetIfAbsent(s.ctx, &other)
	s.Require().NoError(err)
	s.False(created)
	s.Equal(res.ID(), stored.ReservationID)

	got, err := s.dataStore.Idempotency().Get(s.ctx, "idem-1")
	s.Require().NoError(err)
	s.Equal(rec.PaymentURL, got.PaymentURL)

	missing, err := s.dataStore.Idempotency().Get(s.ctx, "idem-missing")
	s.Require().NoError(err)
	s.Nil(missing)

	n, err := s.dataStore.Idempotency().DeleteExpired(s.ctx, now.Add(25*time.Hour))
	s.Require().NoError(err)
	s.EqualValues(1, n)
}

func (s *DataStoreSuite) TestWalletLedger() {
	res := s.newReservation("2026-03-10", "2026-03-13")
	s.store(res)
	id := res.ID()

	tx, err := s.dataStore.Begin(s.ctx, domain.ReadCommitted)
	s.Require().NoError(err)
	defer tx.Rollback(s.ctx)

	wallet, err := tx.Wallets().Upsert(s.ctx, ownerID, types.CurrencyEUR, now)
	s.Require().NoError(err)
	s.True(wallet.Balance.IsZero())

	entry, balance := domain.NewWalletTransaction(wallet, &id, domain.EntryCreditRental, decimal.NewFromInt(30000), now)
	s.Require().NoError(tx.Ledger().Append(s.ctx, entry))
	s.Require().NoError(tx.Wallets().UpdateBalance(s.ctx, wallet.ID, balance, now))

	dup, _ := domain.NewWalletTransaction(wallet, &id, domain.EntryCreditRental, decimal.NewFromInt(30000), now)
	err = tx.Ledger().Append(s.ctx, dup)
	s.ErrorIs(err, domain.ErrDuplicateLedgerEntry)

	// The skipped insert leaves the transaction usable.
	again, err := tx.Wallets().Upsert(s.ctx, ownerID, types.CurrencyEUR, now)
	s.Require().NoError(err)
	s.Equal(wallet.ID, again.ID)
	s.True(decimal.NewFromInt(30000).Equal(again.Balance))
	s.Require().NoError(tx.Commit(s.ctx))

	found, err := s.dataStore.Ledger().FindByReservation(s.ctx, id, domain.EntryCreditRental)
	s.Require().NoError(err)
	s.Require().NotNil(found)
	s.Equal(domain.DirectionCredit, found.Direction)
	s.True(decimal.NewFromInt(30000).Equal(found.BalanceAfter))

	none, err := s.dataStore.Ledger().FindByReservation(s.ctx, id, domain.EntryDebitPenalty)
	s.Require().NoError(err)
	s.Nil(none)

	entries, err := s.dataStore.Ledger().ListByWallet(s.ctx, wallet.ID, 10)
	s.Require().NoError(err)
	s.Len(entries, 1)

	_, err = s.dataStore.Wallets().FindByOwner(s.ctx, tenantID)
	s.ErrorIs(err, domain.ErrWalletNotFound)
}

func (s *DataStoreSuite) TestSweepQueries() {
	overdue := s.newReservation("2026-03-10", "2026-03-13")
	s.Require().NoError(overdue.AwaitPayment(now.Add(-time.Minute), now))
	s.store(overdue)

	pending := s.newReservation("2026-04-10", "2026-04-13")
	s.Require().NoError(pending.AwaitPayment(now.Add(time.Hour), now))
	s.store(pending)

	ids, err := s.dataStore.Reservations().ListPaymentOverdue(s.ctx, now, 10)
	s.Require().NoError(err)
	s.Equal([]domain.ReservationID{overdue.ID()}, ids)

	s.Run("finalized without credit", func() {
		_, err := s.dataStore.Pool().Exec(s.ctx,
			`UPDATE reservation.reservations SET status = 'IN_PROGRESS', checkin_finalized_at = $2 WHERE id = $1`,
			pending.ID().String(), now)
		s.Require().NoError(err)

		ids, err := s.dataStore.Reservations().ListFinalizedWithoutCredit(s.ctx, 10)
		s.Require().NoError(err)
		s.Equal([]domain.ReservationID{pending.ID()}, ids)
	})
}

func (s *DataStoreSuite) TestHistory() {
	res := s.newReservation("2026-03-10", "2026-03-13")
	s.store(res)

	tx, err := s.dataStore.Begin(s.ctx, domain.ReadCommitted)
	s.Require().NoError(err)
	defer tx.Rollback(s.ctx)
	s.Require().NoError(tx.History().Append(s.ctx,
		domain.NewHistoryEntry(res.ID(), domain.StatusInitiated, domain.StatusInitiated, tenantID, domain.EventCreated, "", now)))
	s.Require().NoError(tx.History().Append(s.ctx,
		domain.NewHistoryEntry(res.ID(), domain.StatusInitiated, domain.StatusAwaitingPayment, domain.SystemActor, domain.EventAwaitingPayment, "", now.Add(time.Second))))
	s.Require().NoError(tx.Commit(s.ctx))

	entries, err := s.dataStore.History().ListByReservation(s.ctx, res.ID())
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(domain.EventCreated, entries[0].Event)
	s.Equal(domain.SystemActor, entries[1].Actor)

	has, err := s.dataStore.History().HasEvent(s.ctx, res.ID(), domain.EventAwaitingPayment)
	s.Require().NoError(err)
	s.True(has)
	has, err = s.dataStore.History().HasEvent(s.ctx, res.ID(), domain.EventCancelled)
	s.Require().NoError(err)
	s.False(has)
}

func (s *DataStoreSuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	_, err := s.dataStore.Begin(ctx, domain.ReadCommitted)
	s.Error(err)
}

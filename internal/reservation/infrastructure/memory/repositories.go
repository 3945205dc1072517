package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"rentlane/internal/reservation/domain"
)

type reservationRepo struct{ s *scope }

func (r *reservationRepo) Create(ctx context.Context, res *domain.Reservation) error {
	return r.s.write(func(st *state) error {
		st.reservations[res.ID()] = res.Snapshot()
		return nil
	})
}

func (r *reservationRepo) Update(ctx context.Context, res *domain.Reservation) error {
	return r.s.write(func(st *state) error {
		if _, ok := st.reservations[res.ID()]; !ok {
			return domain.ErrReservationNotFound
		}
		st.reservations[res.ID()] = res.Snapshot()
		return nil
	})
}

func (r *reservationRepo) FindByID(ctx context.Context, id domain.ReservationID) (*domain.Reservation, error) {
	var (
		snap domain.ReservationSnapshot
		ok   bool
	)
	r.s.read(func(st *state) { snap, ok = st.reservations[id] })
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	return domain.ReconstructReservation(snap), nil
}

// FindByIDForUpdate is FindByID; memory transactions are already exclusive.
func (r *reservationRepo) FindByIDForUpdate(ctx context.Context, id domain.ReservationID) (*domain.Reservation, error) {
	return r.FindByID(ctx, id)
}

func (r *reservationRepo) HasOverlap(ctx context.Context, vehicleID domain.VehicleID, start, end time.Time) (bool, error) {
	found := false
	r.s.read(func(st *state) {
		for _, snap := range st.reservations {
			if snap.VehicleID == vehicleID && domain.IsActive(snap.Status) &&
				snap.StartDate.Before(end) && snap.EndDate.After(start) {
				found = true
				return
			}
		}
	})
	return found, nil
}

func (r *reservationRepo) ListPaymentOverdue(ctx context.Context, now time.Time, limit int) ([]domain.ReservationID, error) {
	var due []domain.ReservationSnapshot
	r.s.read(func(st *state) {
		for _, snap := range st.reservations {
			if domain.IsExpirable(snap.Status) && snap.PaymentDeadline != nil && !snap.PaymentDeadline.After(now) {
				due = append(due, snap)
			}
		}
	})
	sort.Slice(due, func(i, j int) bool { return due[i].PaymentDeadline.Before(*due[j].PaymentDeadline) })
	return limitIDs(due, limit), nil
}

func (r *reservationRepo) ListFinalizedWithoutCredit(ctx context.Context, limit int) ([]domain.ReservationID, error) {
	var out []domain.ReservationSnapshot
	r.s.read(func(st *state) {
		credited := make(map[domain.ReservationID]bool)
		for _, e := range st.ledger {
			if e.ReservationID != nil && e.Type == domain.EntryCreditRental {
				credited[*e.ReservationID] = true
			}
		}
		for _, snap := range st.reservations {
			if snap.CheckInFinalizedAt != nil && !credited[snap.ID] {
				out = append(out, snap)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CheckInFinalizedAt.Before(*out[j].CheckInFinalizedAt) })
	return limitIDs(out, limit), nil
}

func limitIDs(snaps []domain.ReservationSnapshot, limit int) []domain.ReservationID {
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[:limit]
	}
	ids := make([]domain.ReservationID, len(snaps))
	for i, s := range snaps {
		ids[i] = s.ID
	}
	return ids
}

type vehicleRepo struct{ s *scope }

func (r *vehicleRepo) FindByID(ctx context.Context, id domain.VehicleID) (*domain.Vehicle, error) {
	var (
		v  domain.Vehicle
		ok bool
	)
	r.s.read(func(st *state) { v, ok = st.vehicles[id] })
	if !ok {
		return nil, domain.ErrVehicleNotFound
	}
	v.Tiers = slices.Clone(v.Tiers)
	return &v, nil
}

// LockForBooking mirrors SELECT ... FOR UPDATE SKIP LOCKED: a held or
// unbookable vehicle yields false without waiting.
func (r *vehicleRepo) LockForBooking(ctx context.Context, id domain.VehicleID) (bool, error) {
	v, err := r.FindByID(ctx, id)
	if err != nil {
		return false, nil
	}
	if !v.Bookable() || r.s.vehicleHeld(id) {
		return false, nil
	}
	return true, nil
}

type paymentRepo struct{ s *scope }

func (r *paymentRepo) Create(ctx context.Context, p *domain.Payment) error {
	return r.s.write(func(st *state) error {
		st.payments[p.ReservationID] = *p
		return nil
	})
}

func (r *paymentRepo) Update(ctx context.Context, p *domain.Payment) error {
	return r.s.write(func(st *state) error {
		if _, ok := st.payments[p.ReservationID]; !ok {
			return domain.ErrPaymentNotFound
		}
		st.payments[p.ReservationID] = *p
		return nil
	})
}

func (r *paymentRepo) FindByReservationID(ctx context.Context, id domain.ReservationID) (*domain.Payment, error) {
	var (
		p  domain.Payment
		ok bool
	)
	r.s.read(func(st *state) { p, ok = st.payments[id] })
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return &p, nil
}

func (r *paymentRepo) FindByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	var (
		p  domain.Payment
		ok bool
	)
	r.s.read(func(st *state) {
		for _, candidate := range st.payments {
			if candidate.ProviderTransactionID == transactionID {
				p, ok = candidate, true
				return
			}
		}
	})
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return &p, nil
}

type idempotencyRepo struct{ s *scope }

func (r *idempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	var (
		rec domain.IdempotencyRecord
		ok  bool
	)
	r.s.read(func(st *state) { rec, ok = st.idempotency[key] })
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *idempotencyRepo) SetIfAbsent(ctx context.Context, rec *domain.IdempotencyRecord) (bool, *domain.IdempotencyRecord, error) {
	var existing domain.IdempotencyRecord
	created := false
	err := r.s.write(func(st *state) error {
		if e, ok := st.idempotency[rec.Key]; ok && !e.Expired(rec.CreatedAt) {
			existing = e
			return nil
		}
		st.idempotency[rec.Key] = *rec
		existing, created = *rec, true
		return nil
	})
	return created, &existing, err
}

func (r *idempotencyRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.s.write(func(st *state) error {
		for k, rec := range st.idempotency {
			if rec.Expired(now) {
				delete(st.idempotency, k)
				n++
			}
		}
		return nil
	})
	return n, err
}

type walletRepo struct{ s *scope }

func (r *walletRepo) Upsert(ctx context.Context, owner domain.PartyID, currency string, now time.Time) (*domain.Wallet, error) {
	var w domain.Wallet
	err := r.s.write(func(st *state) error {
		existing, ok := st.wallets[owner]
		if !ok {
			existing = domain.Wallet{
				ID:        domain.NewRecordID(),
				OwnerID:   owner,
				Balance:   decimal.Zero,
				Currency:  currency,
				CreatedAt: now,
				UpdatedAt: now,
			}
			st.wallets[owner] = existing
		}
		w = existing
		return nil
	})
	return &w, err
}

func (r *walletRepo) FindByOwner(ctx context.Context, owner domain.PartyID) (*domain.Wallet, error) {
	var (
		w  domain.Wallet
		ok bool
	)
	r.s.read(func(st *state) { w, ok = st.wallets[owner] })
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	return &w, nil
}

func (r *walletRepo) FindByOwnerForUpdate(ctx context.Context, owner domain.PartyID) (*domain.Wallet, error) {
	return r.FindByOwner(ctx, owner)
}

func (r *walletRepo) UpdateBalance(ctx context.Context, walletID string, balance decimal.Decimal, now time.Time) error {
	return r.s.write(func(st *state) error {
		for owner, w := range st.wallets {
			if w.ID == walletID {
				w.Balance = balance
				w.UpdatedAt = now
				st.wallets[owner] = w
				return nil
			}
		}
		return domain.ErrWalletNotFound
	})
}

type ledgerRepo struct{ s *scope }

func (r *ledgerRepo) Append(ctx context.Context, entry *domain.WalletTransaction) error {
	return r.s.write(func(st *state) error {
		if entry.ReservationID != nil {
			for _, e := range st.ledger {
				if e.ReservationID != nil && *e.ReservationID == *entry.ReservationID && e.Type == entry.Type {
					return domain.ErrDuplicateLedgerEntry
				}
			}
		}
		st.ledger = append(st.ledger, *entry)
		return nil
	})
}

func (r *ledgerRepo) FindByReservation(ctx context.Context, id domain.ReservationID, typ domain.LedgerEntryType) (*domain.WalletTransaction, error) {
	var found *domain.WalletTransaction
	r.s.read(func(st *state) {
		for _, e := range st.ledger {
			if e.ReservationID != nil && *e.ReservationID == id && e.Type == typ {
				entry := e
				found = &entry
				return
			}
		}
	})
	return found, nil
}

func (r *ledgerRepo) ListByWallet(ctx context.Context, walletID string, limit int) ([]*domain.WalletTransaction, error) {
	var out []*domain.WalletTransaction
	r.s.read(func(st *state) {
		for i := len(st.ledger) - 1; i >= 0; i-- {
			if st.ledger[i].WalletID != walletID {
				continue
			}
			entry := st.ledger[i]
			out = append(out, &entry)
			if limit > 0 && len(out) == limit {
				return
			}
		}
	})
	return out, nil
}

type historyRepo struct{ s *scope }

func (r *historyRepo) Append(ctx context.Context, entry *domain.HistoryEntry) error {
	return r.s.write(func(st *state) error {
		st.history = append(st.history, *entry)
		return nil
	})
}

func (r *historyRepo) ListByReservation(ctx context.Context, id domain.ReservationID) ([]*domain.HistoryEntry, error) {
	var out []*domain.HistoryEntry
	r.s.read(func(st *state) {
		for _, e := range st.history {
			if e.ReservationID == id {
				entry := e
				out = append(out, &entry)
			}
		}
	})
	return out, nil
}

func (r *historyRepo) HasEvent(ctx context.Context, id domain.ReservationID, event string) (bool, error) {
	found := false
	r.s.read(func(st *state) {
		for _, e := range st.history {
			if e.ReservationID == id && e.Event == event {
				found = true
				return
			}
		}
	})
	return found, nil
}

type partyRepo struct{ s *scope }

func (r *partyRepo) FindByID(ctx context.Context, id domain.PartyID) (*domain.Party, error) {
	var (
		p  domain.Party
		ok bool
	)
	r.s.read(func(st *state) { p, ok = st.parties[id] })
	if !ok {
		return nil, domain.ErrPartyNotFound
	}
	return &p, nil
}

func (r *partyRepo) FindBySubject(ctx context.Context, subject string) (*domain.Party, error) {
	var (
		p  domain.Party
		ok bool
	)
	r.s.read(func(st *state) {
		for _, candidate := range st.parties {
			if strings.EqualFold(candidate.Subject, subject) {
				p, ok = candidate, true
				return
			}
		}
	})
	if !ok {
		return nil, domain.ErrPartyNotFound
	}
	return &p, nil
}

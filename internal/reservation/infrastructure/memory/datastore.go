package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"rentlane/internal/reservation/domain"
)

// state is one consistent version of every table.
type state struct {
	reservations map[domain.ReservationID]domain.ReservationSnapshot
	payments     map[domain.ReservationID]domain.Payment
	idempotency  map[string]domain.IdempotencyRecord
	wallets      map[domain.PartyID]domain.Wallet
	ledger       []domain.WalletTransaction
	history      []domain.HistoryEntry
	vehicles     map[domain.VehicleID]domain.Vehicle
	parties      map[domain.PartyID]domain.Party
}

func newState() *state {
	return &state{
		reservations: make(map[domain.ReservationID]domain.ReservationSnapshot),
		payments:     make(map[domain.ReservationID]domain.Payment),
		idempotency:  make(map[string]domain.IdempotencyRecord),
		wallets:      make(map[domain.PartyID]domain.Wallet),
		vehicles:     make(map[domain.VehicleID]domain.Vehicle),
		parties:      make(map[domain.PartyID]domain.Party),
	}
}

func (s *state) clone() *state {
	return &state{
		reservations: maps.Clone(s.reservations),
		payments:     maps.Clone(s.payments),
		idempotency:  maps.Clone(s.idempotency),
		wallets:      maps.Clone(s.wallets),
		ledger:       slices.Clone(s.ledger),
		history:      slices.Clone(s.history),
		vehicles:     maps.Clone(s.vehicles),
		parties:      maps.Clone(s.parties),
	}
}

// DataStore implements domain.Store in memory for tests and scenarios.
// Transactions are fully serialized: Begin takes an exclusive lock and a
// private copy of the committed state, and Commit publishes the copy. Row
// locks are therefore implicit, except for vehicle booking locks, which can
// be held from outside with HoldVehicleLock to simulate a concurrent booking.
//
// Reads through the DataStore itself see committed state and never block on
// an open transaction.
type DataStore struct {
	txMu sync.Mutex

	mu           sync.RWMutex
	committed    *state
	heldVehicles map[domain.VehicleID]int
	commitErrs   []error

	pool *scope
}

// NewDataStore creates a new in-memory DataStore.
func NewDataStore() *DataStore {
	ds := &DataStore{
		committed:    newState(),
		heldVehicles: make(map[domain.VehicleID]int),
	}
	ds.pool = &scope{ds: ds}
	return ds
}

// Begin starts a transaction. The isolation level is ignored; every memory
// transaction is serializable.
func (ds *DataStore) Begin(ctx context.Context, _ domain.IsolationLevel) (domain.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ds.txMu.Lock()

	ds.mu.RLock()
	st := ds.committed.clone()
	ds.mu.RUnlock()

	return &transaction{scope: scope{ds: ds, tx: st}}, nil
}

// InjectCommitErrors makes the next len(errs) commits fail with errs in
// order. A nil entry lets that commit succeed.
func (ds *DataStore) InjectCommitErrors(errs ...error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.commitErrs = append(ds.commitErrs, errs...)
}

// HoldVehicleLock marks the vehicle as locked by another transaction until
// the returned release function is called.
func (ds *DataStore) HoldVehicleLock(id domain.VehicleID) (release func()) {
	ds.mu.Lock()
	ds.heldVehicles[id]++
	ds.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			ds.mu.Lock()
			defer ds.mu.Unlock()
			if ds.heldVehicles[id]--; ds.heldVehicles[id] <= 0 {
				delete(ds.heldVehicles, id)
			}
		})
	}
}

// AddVehicle seeds a vehicle listing.
func (ds *DataStore) AddVehicle(v domain.Vehicle) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.committed.vehicles[v.ID] = v
}

// AddParty seeds a party profile.
func (ds *DataStore) AddParty(p domain.Party) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.committed.parties[p.ID] = p
}

// LedgerEntries returns every committed ledger entry for a reservation.
func (ds *DataStore) LedgerEntries(id domain.ReservationID) []domain.WalletTransaction {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	var out []domain.WalletTransaction
	for _, e := range ds.committed.ledger {
		if e.ReservationID != nil && *e.ReservationID == id {
			out = append(out, e)
		}
	}
	return out
}

func (ds *DataStore) Reservations() domain.ReservationRepository { return &reservationRepo{ds.pool} }
func (ds *DataStore) Vehicles() domain.VehicleRepository         { return &vehicleRepo{ds.pool} }
func (ds *DataStore) Payments() domain.PaymentRepository         { return &paymentRepo{ds.pool} }
func (ds *DataStore) Idempotency() domain.IdempotencyRepository  { return &idempotencyRepo{ds.pool} }
func (ds *DataStore) Wallets() domain.WalletRepository           { return &walletRepo{ds.pool} }
func (ds *DataStore) Ledger() domain.LedgerRepository            { return &ledgerRepo{ds.pool} }
func (ds *DataStore) History() domain.HistoryRepository          { return &historyRepo{ds.pool} }
func (ds *DataStore) Parties() domain.PartyRepository            { return &partyRepo{ds.pool} }

// scope gives repositories access to either a transaction's private state
// or, when tx is nil, the committed state under the store lock.
type scope struct {
	ds *DataStore
	tx *state
}

func (s *scope) read(fn func(st *state)) {
	if s.tx != nil {
		fn(s.tx)
		return
	}
	s.ds.mu.RLock()
	defer s.ds.mu.RUnlock()
	fn(s.ds.committed)
}

func (s *scope) write(fn func(st *state) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	s.ds.mu.Lock()
	defer s.ds.mu.Unlock()
	return fn(s.ds.committed)
}

func (s *scope) vehicleHeld(id domain.VehicleID) bool {
	s.ds.mu.RLock()
	defer s.ds.mu.RUnlock()
	return s.ds.heldVehicles[id] > 0
}

type transaction struct {
	scope
	done bool
}

func (t *transaction) Reservations() domain.ReservationRepository { return &reservationRepo{&t.scope} }
func (t *transaction) Vehicles() domain.VehicleRepository         { return &vehicleRepo{&t.scope} }
func (t *transaction) Payments() domain.PaymentRepository         { return &paymentRepo{&t.scope} }
func (t *transaction) Idempotency() domain.IdempotencyRepository  { return &idempotencyRepo{&t.scope} }
func (t *transaction) Wallets() domain.WalletRepository           { return &walletRepo{&t.scope} }
func (t *transaction) Ledger() domain.LedgerRepository            { return &ledgerRepo{&t.scope} }
func (t *transaction) History() domain.HistoryRepository          { return &historyRepo{&t.scope} }
func (t *transaction) Parties() domain.PartyRepository            { return &partyRepo{&t.scope} }

// Commit publishes the transaction's state.
func (t *transaction) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.ds.txMu.Unlock()

	t.ds.mu.Lock()
	defer t.ds.mu.Unlock()
	if len(t.ds.commitErrs) > 0 {
		err := t.ds.commitErrs[0]
		t.ds.commitErrs = t.ds.commitErrs[1:]
		if err != nil {
			return err
		}
	}
	t.ds.committed = t.tx
	return nil
}

// Rollback discards the transaction. It is a no-op after Commit.
func (t *transaction) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.ds.txMu.Unlock()
	return nil
}

// Verify interface implementations.
var (
	_ domain.Store = (*DataStore)(nil)
	_ domain.Tx    = (*transaction)(nil)
)

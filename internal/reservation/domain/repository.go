package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ReservationRepository persists reservations.
type ReservationRepository interface {
	Create(ctx context.Context, r *Reservation) error
	Update(ctx context.Context, r *Reservation) error
	// FindByID returns ErrReservationNotFound when no record exists.
	FindByID(ctx context.Context, id ReservationID) (*Reservation, error)
	// FindByIDForUpdate row-locks the reservation for the rest of the
	// transaction, waiting for a concurrent holder to finish.
	FindByIDForUpdate(ctx context.Context, id ReservationID) (*Reservation, error)
	// HasOverlap reports whether an active reservation of the vehicle
	// intersects the half-open range [start, end).
	HasOverlap(ctx context.Context, vehicleID VehicleID, start, end time.Time) (bool, error)
	// ListPaymentOverdue returns unpaid reservations whose payment deadline passed.
	ListPaymentOverdue(ctx context.Context, now time.Time, limit int) ([]ReservationID, error)
	// ListFinalizedWithoutCredit returns checked-in reservations with no CREDIT_RENTAL entry.
	ListFinalizedWithoutCredit(ctx context.Context, limit int) ([]ReservationID, error)
}

// VehicleRepository reads listings and takes booking locks on them.
type VehicleRepository interface {
	// FindByID returns ErrVehicleNotFound when no record exists.
	FindByID(ctx context.Context, id VehicleID) (*Vehicle, error)
	// LockForBooking row-locks a bookable vehicle without waiting. It returns
	// false when the vehicle is locked by another transaction or not bookable.
	LockForBooking(ctx context.Context, id VehicleID) (bool, error)
}

// PaymentRepository persists payments.
type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	Update(ctx context.Context, p *Payment) error
	// FindByReservationID returns ErrPaymentNotFound when no record exists.
	FindByReservationID(ctx context.Context, id ReservationID) (*Payment, error)
	// FindByTransactionID returns ErrPaymentNotFound when no record exists.
	FindByTransactionID(ctx context.Context, transactionID string) (*Payment, error)
}

// IdempotencyRepository stores durable idempotency records.
type IdempotencyRepository interface {
	// Get returns (nil, nil) when no record exists.
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)
	// SetIfAbsent atomically stores rec unless a record for its key is still
	// live at rec.CreatedAt; an expired record is replaced.
	// Returns (true, rec, nil) if stored, (false, existing, nil) otherwise.
	SetIfAbsent(ctx context.Context, rec *IdempotencyRecord) (created bool, existing *IdempotencyRecord, err error)
	// DeleteExpired removes records that expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// WalletRepository persists owner wallets.
type WalletRepository interface {
	// Upsert returns the owner's wallet, creating it with a zero balance if
	// absent. The row stays locked until the transaction ends.
	Upsert(ctx context.Context, owner PartyID, currency string, now time.Time) (*Wallet, error)
	// FindByOwner returns ErrWalletNotFound when no record exists.
	FindByOwner(ctx context.Context, owner PartyID) (*Wallet, error)
	// FindByOwnerForUpdate is FindByOwner with a row lock.
	FindByOwnerForUpdate(ctx context.Context, owner PartyID) (*Wallet, error)
	UpdateBalance(ctx context.Context, walletID string, balance decimal.Decimal, now time.Time) error
}

// LedgerRepository appends wallet transactions.
type LedgerRepository interface {
	// Append returns ErrDuplicateLedgerEntry when an entry of the same type
	// already exists for the reservation.
	Append(ctx context.Context, entry *WalletTransaction) error
	// FindByReservation returns (nil, nil) when no entry exists.
	FindByReservation(ctx context.Context, id ReservationID, typ LedgerEntryType) (*WalletTransaction, error)
	ListByWallet(ctx context.Context, walletID string, limit int) ([]*WalletTransaction, error)
}

// HistoryRepository appends and reads the reservation audit trail.
type HistoryRepository interface {
	Append(ctx context.Context, entry *HistoryEntry) error
	ListByReservation(ctx context.Context, id ReservationID) ([]*HistoryEntry, error)
	// HasEvent reports whether an entry with the given event exists.
	HasEvent(ctx context.Context, id ReservationID, event string) (bool, error)
}

// PartyRepository reads tenant and owner profiles.
type PartyRepository interface {
	// FindByID returns ErrPartyNotFound when no record exists.
	FindByID(ctx context.Context, id PartyID) (*Party, error)
	// FindBySubject maps an authentication subject to a profile.
	// Returns ErrPartyNotFound when no record exists.
	FindBySubject(ctx context.Context, subject string) (*Party, error)
}

// Repositories provides access to all repositories within a transaction.
type Repositories interface {
	Reservations() ReservationRepository
	Vehicles() VehicleRepository
	Payments() PaymentRepository
	Idempotency() IdempotencyRepository
	Wallets() WalletRepository
	Ledger() LedgerRepository
	History() HistoryRepository
	Parties() PartyRepository
}

// IsolationLevel selects the transaction isolation.
type IsolationLevel int

const (
	ReadCommitted IsolationLevel = iota
	RepeatableRead
	Serializable
)

func (l IsolationLevel) String() string {
	switch l {
	case RepeatableRead:
		return "repeatable read"
	case Serializable:
		return "serializable"
	default:
		return "read committed"
	}
}

// Tx is an open transaction. Its repositories share the transaction.
// Rollback after Commit is a no-op, so callers defer Rollback right after Begin:
//
//	tx, err := store.Begin(ctx, domain.RepeatableRead)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback(ctx)
//	...
//	return tx.Commit(ctx)
type Tx interface {
	Repositories
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxBeginner opens transactions.
type TxBeginner interface {
	Begin(ctx context.Context, level IsolationLevel) (Tx, error)
}

// Store is the full persistence surface: pool-scoped repositories for reads
// outside a transaction, and transactions for writes.
type Store interface {
	Repositories
	TxBeginner
}

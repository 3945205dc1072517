package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"rentlane/internal/common/logging"
	"rentlane/internal/common/metrics"
	"rentlane/internal/common/types"
	"rentlane/internal/reservation/domain"
)

// WalletLedger credits and debits owner wallets exactly once per triggering
// reservation event.
type WalletLedger struct {
	store domain.Store
	now   func() time.Time
}

func NewWalletLedger(store domain.Store) *WalletLedger {
	return &WalletLedger{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreditResult is the outcome of a check-in credit.
type CreditResult struct {
	WalletID        string
	Balance         types.Money
	AlreadyCredited bool
}

// CreditForCheckIn credits the owner-net amount of a finalized check-in.
// Calling it again for the same reservation returns AlreadyCredited with the
// balance unchanged.
func (l *WalletLedger) CreditForCheckIn(ctx context.Context, id domain.ReservationID) (*CreditResult, error) {
	start := time.Now()
	defer observeTx("wallet_credit", start)

	tx, err := l.store.Begin(ctx, domain.ReadCommitted)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	r, err := tx.Reservations().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.IsFinalized() {
		return nil, domain.ErrInvalidStatus.WithMessage("reservation %s has not completed check-in", id)
	}

	res, err := l.credit(ctx, tx, r)
	if errors.Is(err, domain.ErrDuplicateLedgerEntry) {
		_ = tx.Rollback(ctx)
		return l.alreadyCredited(ctx, r)
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit wallet credit: %w", err)
	}

	metrics.RecordWalletCredit("credited")
	logging.InfoContext(ctx, "Owner wallet credited",
		"reservation_id", id.String(),
		"owner_id", r.OwnerID().String(),
		"amount", r.OwnerNet().String(),
		"balance", res.Balance.String(),
	)
	return res, nil
}

func (l *WalletLedger) credit(ctx context.Context, tx domain.Repositories, r *domain.Reservation) (*CreditResult, error) {
	// Upsert locks the wallet row for the rest of the transaction
	w, err := tx.Wallets().Upsert(ctx, r.OwnerID(), r.Currency(), l.now())
	if err != nil {
		return nil, err
	}

	id := r.ID()
	entry, balance := domain.NewWalletTransaction(w, &id, domain.EntryCreditRental, r.Quote().OwnerNet, l.now())
	if err := tx.Ledger().Append(ctx, entry); err != nil {
		return nil, err
	}
	if err := tx.Wallets().UpdateBalance(ctx, w.ID, balance, l.now()); err != nil {
		return nil, err
	}
	return &CreditResult{WalletID: w.ID, Balance: types.NewMoney(balance, w.Currency)}, nil
}

func (l *WalletLedger) alreadyCredited(ctx context.Context, r *domain.Reservation) (*CreditResult, error) {
	w, err := l.store.Wallets().FindByOwner(ctx, r.OwnerID())
	if err != nil {
		return nil, err
	}
	metrics.RecordWalletCredit("already_credited")
	logging.InfoContext(ctx, "Owner wallet already credited",
		"reservation_id", r.ID().String(),
		"owner_id", r.OwnerID().String(),
	)
	return &CreditResult{
		WalletID:        w.ID,
		Balance:         types.NewMoney(w.Balance, w.Currency),
		AlreadyCredited: true,
	}, nil
}

// DebitPenalty debits an owner penalty inside the caller's transaction. It
// only debits when the owner was already credited for the reservation and
// reports whether a debit was written.
func (l *WalletLedger) DebitPenalty(ctx context.Context, tx domain.Repositories, r *domain.Reservation, amount decimal.Decimal) (bool, error) {
	if !amount.IsPositive() {
		return false, nil
	}
	credit, err := tx.Ledger().FindByReservation(ctx, r.ID(), domain.EntryCreditRental)
	if err != nil {
		return false, err
	}
	if credit == nil {
		return false, nil
	}

	w, err := tx.Wallets().FindByOwnerForUpdate(ctx, r.OwnerID())
	if err != nil {
		return false, err
	}
	id := r.ID()
	entry, balance := domain.NewWalletTransaction(w, &id, domain.EntryDebitPenalty, amount, l.now())
	if err := tx.Ledger().Append(ctx, entry); err != nil {
		if errors.Is(err, domain.ErrDuplicateLedgerEntry) {
			return false, nil
		}
		return false, err
	}
	if err := tx.Wallets().UpdateBalance(ctx, w.ID, balance, l.now()); err != nil {
		return false, err
	}
	return true, nil
}

// Withdraw moves amount out of the owner's wallet.
func (l *WalletLedger) Withdraw(ctx context.Context, owner domain.PartyID, amount decimal.Decimal) (*domain.WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidValue.WithMessage("withdrawal amount must be positive")
	}

	start := time.Now()
	defer observeTx("wallet_withdraw", start)

	tx, err := l.store.Begin(ctx, domain.ReadCommitted)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	w, err := tx.Wallets().FindByOwnerForUpdate(ctx, owner)
	if err != nil {
		return nil, err
	}
	if w.Balance.LessThan(amount) {
		return nil, domain.ErrInsufficientBalance.WithMessage("balance %s is below %s", w.Balance.StringFixed(2), amount.StringFixed(2))
	}

	entry, balance := domain.NewWalletTransaction(w, nil, domain.EntryDebitWithdrawal, amount, l.now())
	if err := tx.Ledger().Append(ctx, entry); err != nil {
		return nil, err
	}
	if err := tx.Wallets().UpdateBalance(ctx, w.ID, balance, l.now()); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit withdrawal: %w", err)
	}

	logging.InfoContext(ctx, "Wallet withdrawal recorded",
		"owner_id", owner.String(),
		"amount", amount.StringFixed(2),
		"balance", balance.StringFixed(2),
	)
	return entry, nil
}

// Balance returns the owner's wallet.
func (l *WalletLedger) Balance(ctx context.Context, owner domain.PartyID) (*domain.Wallet, error) {
	return l.store.Wallets().FindByOwner(ctx, owner)
}

// Transactions lists the most recent ledger entries of the owner's wallet.
func (l *WalletLedger) Transactions(ctx context.Context, owner domain.PartyID, limit int) ([]*domain.WalletTransaction, error) {
	w, err := l.store.Wallets().FindByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	return l.store.Ledger().ListByWallet(ctx, w.ID, limit)
}

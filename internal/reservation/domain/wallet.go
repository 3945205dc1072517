package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntryType classifies a wallet transaction.
type LedgerEntryType string

const (
	EntryCreditRental    LedgerEntryType = "CREDIT_RENTAL"
	EntryDebitPenalty    LedgerEntryType = "DEBIT_PENALTY"
	EntryDebitWithdrawal LedgerEntryType = "DEBIT_WITHDRAWAL"
)

// Direction returns whether the entry adds to or removes from the balance.
func (t LedgerEntryType) Direction() Direction {
	if t == EntryCreditRental {
		return DirectionCredit
	}
	return DirectionDebit
}

// Direction is the sign of a wallet transaction.
type Direction string

const (
	DirectionCredit Direction = "CREDIT"
	DirectionDebit  Direction = "DEBIT"
)

// Wallet holds an owner's available balance. It is created on first credit.
type Wallet struct {
	ID        string
	OwnerID   PartyID
	Balance   decimal.Decimal
	Currency  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WalletTransaction is an append-only ledger entry. At most one entry per
// (reservation, type) exists for reservation-linked types.
type WalletTransaction struct {
	ID            string
	WalletID      string
	ReservationID *ReservationID
	Type          LedgerEntryType
	Direction     Direction
	Amount        decimal.Decimal
	BalanceAfter  decimal.Decimal
	CreatedAt     time.Time
}

// NewWalletTransaction builds an entry against w and returns the resulting balance.
func NewWalletTransaction(w *Wallet, reservationID *ReservationID, typ LedgerEntryType, amount decimal.Decimal, now time.Time) (*WalletTransaction, decimal.Decimal) {
	balance := w.Balance.Add(amount)
	if typ.Direction() == DirectionDebit {
		balance = w.Balance.Sub(amount)
	}
	return &WalletTransaction{
		ID:            NewRecordID(),
		WalletID:      w.ID,
		ReservationID: reservationID,
		Type:          typ,
		Direction:     typ.Direction(),
		Amount:        amount,
		BalanceAfter:  balance,
		CreatedAt:     now,
	}, balance
}

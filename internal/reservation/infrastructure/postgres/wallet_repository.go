package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"rentlane/internal/reservation/domain"
)

// WalletRepository implements domain.WalletRepository using PostgreSQL.
type WalletRepository struct {
	db Executor
}

// NewWalletRepository creates a new WalletRepository.
func NewWalletRepository(db Executor) *WalletRepository {
	return &WalletRepository{db: db}
}

// Upsert returns the owner's wallet, creating an empty one if absent.
// The no-op DO UPDATE takes the row lock in both cases.
func (r *WalletRepository) Upsert(ctx context.Context, owner domain.PartyID, currency string, now time.Time) (*domain.Wallet, error) {
	w, err := scanWallet(r.db.QueryRow(ctx, `
		INSERT INTO reservation.wallets (id, owner_id, balance, currency, created_at, updated_at)
		VALUES ($1, $2, 0, $3, $4, $4)
		ON CONFLICT (owner_id) DO UPDATE SET updated_at = reservation.wallets.updated_at
		RETURNING id, owner_id, balance, currency, created_at, updated_at`,
		domain.NewRecordID(), string(owner), currency, now,
	))
	if err != nil {
		return nil, translateError(err)
	}
	return w, nil
}

// FindByOwner retrieves an owner's wallet.
func (r *WalletRepository) FindByOwner(ctx context.Context, owner domain.PartyID) (*domain.Wallet, error) {
	return r.findOne(ctx, `
		SELECT id, owner_id, balance, currency, created_at, updated_at
		FROM reservation.wallets WHERE owner_id = $1`, owner)
}

// FindByOwnerForUpdate retrieves an owner's wallet and row-locks it.
func (r *WalletRepository) FindByOwnerForUpdate(ctx context.Context, owner domain.PartyID) (*domain.Wallet, error) {
	return r.findOne(ctx, `
		SELECT id, owner_id, balance, currency, created_at, updated_at
		FROM reservation.wallets WHERE owner_id = $1 FOR UPDATE`, owner)
}

// UpdateBalance sets the wallet balance.
func (r *WalletRepository) UpdateBalance(ctx context.Context, walletID string, balance decimal.Decimal, now time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE reservation.wallets SET balance = $2, updated_at = $3 WHERE id = $1`,
		walletID, decimalToNumeric(balance), now,
	)
	if err != nil {
		return translateError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWalletNotFound.WithMessage("wallet %s", walletID)
	}
	return nil
}

func (r *WalletRepository) findOne(ctx context.Context, query string, owner domain.PartyID) (*domain.Wallet, error) {
	w, err := scanWallet(r.db.QueryRow(ctx, query, string(owner)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrWalletNotFound.WithMessage("wallet of %s", owner)
	}
	if err != nil {
		return nil, translateError(err)
	}
	return w, nil
}

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var (
		w       domain.Wallet
		ownerID string
		balance pgtype.Numeric
	)
	if err := row.Scan(&w.ID, &ownerID, &balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if w.Balance, err = numericToDecimal(balance); err != nil {
		return nil, err
	}
	w.OwnerID = domain.PartyID(ownerID)
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return &w, nil
}

// LedgerRepository implements domain.LedgerRepository using PostgreSQL.
type LedgerRepository struct {
	db Executor
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(db Executor) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const ledgerColumns = `id, wallet_id, reservation_id, type, direction, amount, balance_after, created_at`

// Append inserts a ledger entry. A second entry of the same type for the same
// reservation is skipped by the partial unique index and reported as
// ErrDuplicateLedgerEntry, leaving the transaction usable.
func (r *LedgerRepository) Append(ctx context.Context, e *domain.WalletTransaction) error {
	var reservationID *string
	if e.ReservationID != nil {
		id := e.ReservationID.String()
		reservationID = &id
	}
	tag, err := r.db.Exec(ctx, `
		INSERT INTO reservation.wallet_transactions (`+ledgerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (reservation_id, type) WHERE reservation_id IS NOT NULL DO NOTHING`,
		e.ID, e.WalletID, reservationID, string(e.Type), string(e.Direction),
		decimalToNumeric(e.Amount), decimalToNumeric(e.BalanceAfter), e.CreatedAt,
	)
	if err != nil {
		return translateError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateLedgerEntry.WithMessage("%s already recorded for reservation %s", e.Type, e.ReservationID)
	}
	return nil
}

// FindByReservation returns the entry of typ for a reservation, or (nil, nil).
func (r *LedgerRepository) FindByReservation(ctx context.Context, id domain.ReservationID, typ domain.LedgerEntryType) (*domain.WalletTransaction, error) {
	e, err := scanLedgerEntry(r.db.QueryRow(ctx, `
		SELECT `+ledgerColumns+` FROM reservation.wallet_transactions
		WHERE reservation_id = $1 AND type = $2`,
		id.String(), string(typ),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, translateError(err)
	}
	return e, nil
}

// ListByWallet returns the newest entries of a wallet first.
func (r *LedgerRepository) ListByWallet(ctx context.Context, walletID string, limit int) ([]*domain.WalletTransaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+ledgerColumns+` FROM reservation.wallet_transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2`,
		walletID, limit,
	)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	var entries []*domain.WalletTransaction
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, translateError(rows.Err())
}

func scanLedgerEntry(row pgx.Row) (*domain.WalletTransaction, error) {
	var (
		e                    domain.WalletTransaction
		reservationID        pgtype.Text
		typ, direction       string
		amount, balanceAfter pgtype.Numeric
	)
	if err := row.Scan(&e.ID, &e.WalletID, &reservationID, &typ, &direction, &amount, &balanceAfter, &e.CreatedAt); err != nil {
		return nil, err
	}
	if reservationID.Valid {
		id, err := domain.ParseReservationID(reservationID.String)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCorruptData, err)
		}
		e.ReservationID = &id
	}
	if err := numerics(
		numericTarget{amount, &e.Amount},
		numericTarget{balanceAfter, &e.BalanceAfter},
	); err != nil {
		return nil, err
	}
	e.Type = domain.LedgerEntryType(typ)
	e.Direction = domain.Direction(direction)
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

var (
	_ domain.WalletRepository = (*WalletRepository)(nil)
	_ domain.LedgerRepository = (*LedgerRepository)(nil)
)

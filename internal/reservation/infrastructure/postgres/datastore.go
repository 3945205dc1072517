package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"rentlane/internal/reservation/domain"
)

// Executor is satisfied by both *pgxpool.Pool and pgx.Tx.
type Executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ Executor = (*pgxpool.Pool)(nil)
	_ Executor = (pgx.Tx)(nil)
)

// repositories binds every repository to one Executor, either the pool or an open transaction.
type repositories struct {
	reservations *ReservationRepository
	vehicles     *VehicleRepository
	payments     *PaymentRepository
	idempotency  *IdempotencyStore
	wallets      *WalletRepository
	ledger       *LedgerRepository
	history      *HistoryRepository
	parties      *PartyRepository
}

func newRepositories(db Executor) repositories {
	return repositories{
		reservations: NewReservationRepository(db),
		vehicles:     NewVehicleRepository(db),
		payments:     NewPaymentRepository(db),
		idempotency:  NewIdempotencyStore(db),
		wallets:      NewWalletRepository(db),
		ledger:       NewLedgerRepository(db),
		history:      NewHistoryRepository(db),
		parties:      NewPartyRepository(db),
	}
}

func (r repositories) Reservations() domain.ReservationRepository { return r.reservations }
func (r repositories) Vehicles() domain.VehicleRepository         { return r.vehicles }
func (r repositories) Payments() domain.PaymentRepository         { return r.payments }
func (r repositories) Idempotency() domain.IdempotencyRepository  { return r.idempotency }
func (r repositories) Wallets() domain.WalletRepository           { return r.wallets }
func (r repositories) Ledger() domain.LedgerRepository            { return r.ledger }
func (r repositories) History() domain.HistoryRepository          { return r.history }
func (r repositories) Parties() domain.PartyRepository            { return r.parties }

// DataStore is the Postgres implementation of domain.Store. Its own
// repositories run on the pool; Begin hands out transaction-scoped ones.
type DataStore struct {
	repositories
	pool *pgxpool.Pool
}

// NewDataStore creates a new DataStore with the given connection pool.
func NewDataStore(pool *pgxpool.Pool) *DataStore {
	return &DataStore{
		repositories: newRepositories(pool),
		pool:         pool,
	}
}

// Pool returns the underlying pool.
func (ds *DataStore) Pool() *pgxpool.Pool {
	return ds.pool
}

// Jobs returns the scheduled job queue on the pool.
func (ds *DataStore) Jobs() *JobQueue {
	return NewJobQueue(ds.pool)
}

// Ping checks database connectivity.
func (ds *DataStore) Ping(ctx context.Context) error {
	return ds.pool.Ping(ctx)
}

// Begin opens a transaction at the requested isolation level.
func (ds *DataStore) Begin(ctx context.Context, level domain.IsolationLevel) (domain.Tx, error) {
	tx, err := ds.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: isoLevel(level)})
	if err != nil {
		return nil, fmt.Errorf("begin %s transaction: %w", level, translateError(err))
	}
	return &transaction{repositories: newRepositories(tx), tx: tx}, nil
}

func isoLevel(level domain.IsolationLevel) pgx.TxIsoLevel {
	switch level {
	case domain.Serializable:
		return pgx.Serializable
	case domain.RepeatableRead:
		return pgx.RepeatableRead
	default:
		return pgx.ReadCommitted
	}
}

type transaction struct {
	repositories
	tx pgx.Tx
}

// Commit commits the transaction. A serialization failure reported at
// commit time surfaces as domain.ErrSerializationFailure.
func (t *transaction) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", translateError(err))
	}
	return nil
}

// Rollback aborts the transaction. It is a no-op after Commit.
func (t *transaction) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

var (
	_ domain.Store = (*DataStore)(nil)
	_ domain.Tx    = (*transaction)(nil)
)

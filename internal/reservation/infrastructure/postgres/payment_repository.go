package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"rentlane/internal/common/types"
	"rentlane/internal/reservation/domain"
)

const paymentColumns = `
	id, reservation_id, provider, provider_transaction_id,
	amount, currency, status, refunded_amount, created_at, updated_at`

// PaymentRepository implements domain.PaymentRepository using PostgreSQL.
type PaymentRepository struct {
	db Executor
}

// NewPaymentRepository creates a new PaymentRepository.
func NewPaymentRepository(db Executor) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts a payment. A reservation has at most one payment.
func (r *PaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO reservation.payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.ReservationID.String(), p.Provider, textFromString(p.ProviderTransactionID),
		decimalToNumeric(p.Amount.Amount), p.Amount.Currency, string(p.Status),
		decimalToNumeric(p.RefundedAmount), p.CreatedAt, p.UpdatedAt,
	)
	return translateError(err)
}

// Update writes the payment status, refund and the provider transaction id
// back-filled from a webhook.
func (r *PaymentRepository) Update(ctx context.Context, p *domain.Payment) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE reservation.payments
		SET status = $2, refunded_amount = $3, updated_at = $4, provider_transaction_id = $5
		WHERE id = $1`,
		p.ID, string(p.Status), decimalToNumeric(p.RefundedAmount), p.UpdatedAt,
		textFromString(p.ProviderTransactionID),
	)
	if err != nil {
		return translateError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentNotFound.WithMessage("payment %s", p.ID)
	}
	return nil
}

// FindByReservationID retrieves the payment of a reservation.
func (r *PaymentRepository) FindByReservationID(ctx context.Context, id domain.ReservationID) (*domain.Payment, error) {
	return r.findOne(ctx, `SELECT `+paymentColumns+` FROM reservation.payments WHERE reservation_id = $1`, id.String())
}

// FindByTransactionID retrieves a payment by the provider's transaction ID.
func (r *PaymentRepository) FindByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	return r.findOne(ctx, `SELECT `+paymentColumns+` FROM reservation.payments WHERE provider_transaction_id = $1`, transactionID)
}

func (r *PaymentRepository) findOne(ctx context.Context, query string, args ...any) (*domain.Payment, error) {
	var (
		p                domain.Payment
		reservationID    string
		transactionID    pgtype.Text
		amount, refunded pgtype.Numeric
		currency, status string
	)
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&p.ID, &reservationID, &p.Provider, &transactionID,
		&amount, &currency, &status, &refunded, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPaymentNotFound.WithMessage("payment for %v", args[0])
	}
	if err != nil {
		return nil, translateError(err)
	}

	if p.ReservationID, err = domain.ParseReservationID(reservationID); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptData, err)
	}
	value := types.Zero(currency)
	if err := numerics(
		numericTarget{amount, &value.Amount},
		numericTarget{refunded, &p.RefundedAmount},
	); err != nil {
		return nil, err
	}
	p.Amount = value
	p.ProviderTransactionID = transactionID.String
	p.Status = domain.PaymentStatus(status)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

var _ domain.PaymentRepository = (*PaymentRepository)(nil)

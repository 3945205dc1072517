package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"rentlane/internal/common/types"
)

// PaymentStatus is the provider-side state of a reservation's payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentConfirmed PaymentStatus = "CONFIRMED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

// Payment is one-to-one with a Reservation.
type Payment struct {
	ID                    string
	ReservationID         ReservationID
	Provider              string
	ProviderTransactionID string
	Amount                types.Money
	Status                PaymentStatus
	RefundedAmount        decimal.Decimal
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NewPayment creates a PENDING payment for a reservation.
func NewPayment(reservationID ReservationID, session PaymentSession, amount types.Money, now time.Time) *Payment {
	return &Payment{
		ID:                    NewRecordID(),
		ReservationID:         reservationID,
		Provider:              session.Provider,
		ProviderTransactionID: session.TransactionID,
		Amount:                amount,
		Status:                PaymentPending,
		RefundedAmount:        decimal.Zero,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// Confirm marks the payment captured. A FAILED payment can still be captured
// when the tenant retries successfully at the provider.
func (p *Payment) Confirm(now time.Time) error {
	if p.Status != PaymentPending && p.Status != PaymentFailed {
		return ErrInvalidStatus.WithMessage("payment is %s, expected PENDING or FAILED", p.Status)
	}
	p.Status = PaymentConfirmed
	p.UpdatedAt = now
	return nil
}

// Fail marks a pending payment as failed. Failing an already failed payment is a no-op.
func (p *Payment) Fail(now time.Time) error {
	switch p.Status {
	case PaymentFailed:
		return nil
	case PaymentPending:
		p.Status = PaymentFailed
		p.UpdatedAt = now
		return nil
	default:
		return ErrInvalidStatus.WithMessage("payment is %s, cannot fail", p.Status)
	}
}

// Refund records a refund of amount against a confirmed payment.
func (p *Payment) Refund(amount decimal.Decimal, now time.Time) error {
	if p.Status != PaymentConfirmed {
		return ErrInvalidStatus.WithMessage("payment is %s, only CONFIRMED payments are refunded", p.Status)
	}
	if amount.IsNegative() || amount.GreaterThan(p.Amount.Amount) {
		return ErrInvalidValue.WithMessage("refund %s outside [0, %s]", amount, p.Amount.Amount)
	}
	p.Status = PaymentRefunded
	p.RefundedAmount = amount
	p.UpdatedAt = now
	return nil
}

// WebhookStatus is the normalized status carried by a payment provider callback.
type WebhookStatus string

const (
	WebhookSuccess  WebhookStatus = "SUCCESS"
	WebhookFailed   WebhookStatus = "FAILED"
	WebhookRefunded WebhookStatus = "REFUNDED"
)

// PaymentWebhook is a provider callback after normalization.
type PaymentWebhook struct {
	TransactionID string
	Status        WebhookStatus
	Amount        types.Money
	ReferenceID   string
}

package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rentlane/internal/common/logging"
	"rentlane/internal/common/types"
	"rentlane/internal/reservation/domain"
)

// ConfirmPaymentResult is the outcome of a payment webhook.
type ConfirmPaymentResult struct {
	ReservationID    string
	Status           domain.Status
	PaymentStatus    domain.PaymentStatus
	AlreadyProcessed bool
}

// ConfirmPayment applies a normalized payment-provider webhook. Deliveries
// for the same transaction are serialized by a distributed lock; the
// transaction runs at Serializable and re-reads the payment, so a duplicate
// or late delivery observes the committed state and does nothing.
func (s *Service) ConfirmPayment(ctx context.Context, hook domain.PaymentWebhook) (*ConfirmPaymentResult, error) {
	lockKey := hook.TransactionID
	if lockKey == "" {
		lockKey = hook.ReferenceID
	}
	if lockKey == "" {
		return nil, domain.ErrInvalidValue.WithMessage("webhook carries neither transaction nor reference id")
	}
	switch hook.Status {
	case domain.WebhookSuccess, domain.WebhookFailed, domain.WebhookRefunded:
	default:
		return nil, domain.ErrInvalidValue.WithMessage("unknown webhook status %q", hook.Status)
	}

	lock, err := s.deps.Locker.Acquire(ctx, "lock:payment:"+lockKey, s.opts.PaymentLockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			logging.WarnContext(ctx, "failed to release payment lock", "lock_key", lockKey, "error", err)
		}
	}()

	// Fast path for webhook storms
	idemKey := fmt.Sprintf("webhook:%s:%s", lockKey, hook.Status)
	if cached, err := s.idem.CheckExisting(ctx, idemKey); err == nil && cached != nil {
		return &ConfirmPaymentResult{
			ReservationID:    cached.ReservationID,
			Status:           domain.Status(cached.Status),
			PaymentStatus:    domain.PaymentConfirmed,
			AlreadyProcessed: true,
		}, nil
	}

	var out *paymentOutcome
	for attempt := 1; ; attempt++ {
		out, err = s.confirmPaymentOnce(ctx, hook)
		if err != nil && s.shouldRetry("confirm_payment", attempt, err) {
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}

	r := out.reservation
	res := &ConfirmPaymentResult{
		ReservationID:    r.ID().String(),
		Status:           r.Status(),
		PaymentStatus:    out.payment.Status,
		AlreadyProcessed: out.alreadyProcessed,
	}
	if out.alreadyProcessed || !out.transitioned {
		return res, nil
	}

	recordTransition(out.from, r.Status())
	logging.InfoContext(ctx, "Payment confirmed",
		"reservation_id", r.ID().String(),
		"transaction_id", hook.TransactionID,
		"amount", hook.Amount.String(),
	)
	s.runPostCommit(ctx, "confirm_payment", r.ID(),
		s.idempotencyStep(idemKey, IdempotentResult{ReservationID: r.ID().String(), Status: string(r.Status())}),
		s.contractStep(r, domain.WatermarkActive),
		s.scheduleStep(domain.JobSignatureExpiry, r.ID(), s.opts.SignatureExpiry),
		s.notifyStep(domain.NotifyPaymentConfirmed, r.TenantID(), r.ID(), nil),
		s.notifyStep(domain.NotifyPaymentConfirmed, r.OwnerID(), r.ID(), nil),
	)
	return res, nil
}

type paymentOutcome struct {
	reservation      *domain.Reservation
	payment          *domain.Payment
	from             domain.Status
	transitioned     bool
	alreadyProcessed bool
}

func (s *Service) confirmPaymentOnce(ctx context.Context, hook domain.PaymentWebhook) (*paymentOutcome, error) {
	start := time.Now()
	defer observeTx("confirm_payment", start)

	tx, err := s.deps.Store.Begin(ctx, domain.Serializable)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	payment, err := findWebhookPayment(ctx, tx, hook)
	if err != nil {
		return nil, err
	}
	r, err := tx.Reservations().FindByIDForUpdate(ctx, payment.ReservationID)
	if err != nil {
		return nil, err
	}
	out := &paymentOutcome{reservation: r, payment: payment, from: r.Status()}
	now := s.now()

	switch hook.Status {
	case domain.WebhookRefunded:
		logging.InfoContext(ctx, "Refund acknowledged by provider",
			"reservation_id", r.ID().String(),
			"transaction_id", payment.ProviderTransactionID,
			"payment_status", string(payment.Status),
		)
		return out, nil

	case domain.WebhookFailed:
		if payment.Status == domain.PaymentFailed {
			out.alreadyProcessed = true
			return out, nil
		}
		if err := payment.Fail(now); err != nil {
			return nil, err
		}
		if err := tx.Payments().Update(ctx, payment); err != nil {
			return nil, err
		}
		if err := tx.History().Append(ctx, domain.NewHistoryEntry(r.ID(), r.Status(), r.Status(), domain.SystemActor, domain.EventPaymentFailed, "", now)); err != nil {
			return nil, err
		}
		return out, commit(ctx, tx, "payment failure")
	}

	// SUCCESS
	if payment.Status == domain.PaymentConfirmed {
		out.alreadyProcessed = true
		return out, nil
	}
	if !webhookAmountMatches(hook.Amount, payment.Amount) {
		return nil, domain.ErrPaymentAmountMismatch.WithMessage("webhook amount %s does not match payment %s", hook.Amount, payment.Amount)
	}
	if !domain.IsExpirable(r.Status()) {
		return nil, domain.ErrInvalidStatus.WithMessage("reservation %s is %s and no longer accepts payment", r.ID(), r.Status())
	}
	if err := r.MarkPaid(now); err != nil {
		return nil, err
	}
	if err := payment.Confirm(now); err != nil {
		return nil, err
	}
	if hook.TransactionID != "" && payment.ProviderTransactionID == "" {
		payment.ProviderTransactionID = hook.TransactionID
	}
	if err := tx.Reservations().Update(ctx, r); err != nil {
		return nil, err
	}
	if err := tx.Payments().Update(ctx, payment); err != nil {
		return nil, err
	}
	if err := tx.History().Append(ctx, domain.NewHistoryEntry(r.ID(), out.from, r.Status(), domain.SystemActor, domain.EventPaymentConfirmed, "", now)); err != nil {
		return nil, err
	}
	out.transitioned = true
	return out, commit(ctx, tx, "payment confirmation")
}

// webhookAmountMatches compares amounts numerically. Normalized webhooks may
// omit the currency; when present it must match too.
func webhookAmountMatches(got, want types.Money) bool {
	if got.Currency != "" && got.Currency != want.Currency {
		return false
	}
	return got.Amount.Equal(want.Amount)
}

func findWebhookPayment(ctx context.Context, tx domain.Repositories, hook domain.PaymentWebhook) (*domain.Payment, error) {
	if hook.TransactionID != "" {
		p, err := tx.Payments().FindByTransactionID(ctx, hook.TransactionID)
		if err == nil || !errors.Is(err, domain.ErrPaymentNotFound) || hook.ReferenceID == "" {
			return p, err
		}
	}
	id, err := domain.ParseReservationID(hook.ReferenceID)
	if err != nil {
		return nil, domain.ErrPaymentNotFound.WithMessage("no payment for transaction %q", hook.TransactionID)
	}
	return tx.Payments().FindByReservationID(ctx, id)
}

func commit(ctx context.Context, tx domain.Tx, what string) error {
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", what, err)
	}
	return nil
}

package domain

import (
	"time"
)

// IdempotencyRecord is the durable record of a completed idempotent Create.
type IdempotencyRecord struct {
	Key           string
	ReservationID ReservationID
	PaymentURL    string
	ExpiresAt     time.Time
	CreatedAt     time.Time
}

// Expired reports whether the record is past its expiry at now.
func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// HistoryEntry is an audit row for a status transition or a recorded event
// that does not change status (a single check-in confirmation, a reminder).
type HistoryEntry struct {
	ID            string
	ReservationID ReservationID
	FromStatus    Status
	ToStatus      Status
	Actor         PartyID
	Event         string
	Note          string
	CreatedAt     time.Time
}

// History events.
const (
	EventCreated           = "CREATED"
	EventAwaitingPayment   = "AWAITING_PAYMENT"
	EventPaymentConfirmed  = "PAYMENT_CONFIRMED"
	EventPaymentFailed     = "PAYMENT_FAILED"
	EventContractConfirmed = "CONTRACT_CONFIRMED"
	EventCancelled         = "CANCELLED"
	EventExpired           = "EXPIRED"
	EventCheckInConfirmed  = "CHECKIN_CONFIRMED"
	EventCheckInFinalized  = "CHECKIN_FINALIZED"
	EventCheckedOut        = "CHECKED_OUT"
	EventDisputeOpened     = "DISPUTE_OPENED"
	EventDisputeResolved   = "DISPUTE_RESOLVED"
	EventReminderSent      = "REMINDER_SENT"
)

// NewHistoryEntry builds an audit row.
func NewHistoryEntry(id ReservationID, from, to Status, actor PartyID, event, note string, now time.Time) *HistoryEntry {
	return &HistoryEntry{
		ID:            NewRecordID(),
		ReservationID: id,
		FromStatus:    from,
		ToStatus:      to,
		Actor:         actor,
		Event:         event,
		Note:          note,
		CreatedAt:     now,
	}
}

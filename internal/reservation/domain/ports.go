package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"rentlane/internal/common/types"
)

// Cache is a volatile key-value store with TTLs.
type Cache interface {
	// Get returns ok=false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// SetNX sets key only if absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Locker acquires expiring distributed locks.
type Locker interface {
	// Acquire returns ErrLockHeld when another holder owns key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock is a held distributed lock. Release frees it only if still owned.
type Lock interface {
	Release(ctx context.Context) error
}

// PaymentSession is the provider's answer to a payment initiation.
type PaymentSession struct {
	Provider      string
	TransactionID string
	PaymentURL    string
}

// PaymentProvider is the external payment gateway.
type PaymentProvider interface {
	Initiate(ctx context.Context, amount types.Money, referenceID, callbackURL string) (PaymentSession, error)
	// Refund refunds amount, or the full captured amount when amount is nil.
	Refund(ctx context.Context, transactionID string, amount *types.Money) error
}

// ContractWatermark marks the state a rendered contract reflects.
type ContractWatermark string

const (
	WatermarkActive    ContractWatermark = "ACTIVE"
	WatermarkCancelled ContractWatermark = "CANCELLED"
	WatermarkExpired   ContractWatermark = "EXPIRED"
)

// ContractData is what the contract renderer needs.
type ContractData struct {
	ReservationID ReservationID
	TenantID      PartyID
	OwnerID       PartyID
	VehicleID     VehicleID
	StartDate     time.Time
	EndDate       time.Time
	Days          int
	DailyRate     decimal.Decimal
	BaseAmount    decimal.Decimal
	Commission    decimal.Decimal
	TenantTotal   decimal.Decimal
	Currency      string
	Watermark     ContractWatermark
	GeneratedAt   time.Time
}

// NewContractData extracts contract fields from r.
func NewContractData(r *Reservation, watermark ContractWatermark, now time.Time) ContractData {
	q := r.Quote()
	return ContractData{
		ReservationID: r.ID(),
		TenantID:      r.TenantID(),
		OwnerID:       r.OwnerID(),
		VehicleID:     r.VehicleID(),
		StartDate:     r.StartDate(),
		EndDate:       r.EndDate(),
		Days:          q.Days,
		DailyRate:     q.DailyRate,
		BaseAmount:    q.BaseAmount,
		Commission:    q.CommissionAmount,
		TenantTotal:   q.TenantTotal,
		Currency:      r.Currency(),
		Watermark:     watermark,
		GeneratedAt:   now,
	}
}

// ContractRenderer renders a contract document.
type ContractRenderer interface {
	Generate(ctx context.Context, data ContractData) (doc []byte, contentType string, err error)
}

// ContractStore persists rendered contracts and returns a reference to them.
type ContractStore interface {
	Put(ctx context.Context, key string, doc []byte, contentType string) (ref string, err error)
}

// NotificationType names a notification template.
type NotificationType string

const (
	NotifyReservationCreated NotificationType = "reservation.created"
	NotifyPaymentConfirmed   NotificationType = "reservation.payment_confirmed"
	NotifyContractConfirmed  NotificationType = "reservation.contract_confirmed"
	NotifySignatureReminder  NotificationType = "reservation.signature_reminder"
	NotifyCancelled          NotificationType = "reservation.cancelled"
	NotifyCheckInRequested   NotificationType = "reservation.checkin_requested"
	NotifyCheckInCompleted   NotificationType = "reservation.checkin_completed"
	NotifyCheckOutReminder   NotificationType = "reservation.checkout_reminder"
	NotifyCheckedOut         NotificationType = "reservation.checked_out"
	NotifyReviewRequested    NotificationType = "reservation.review_requested"
	NotifyDisputeOpened      NotificationType = "reservation.dispute_opened"
	NotifyDisputeResolved    NotificationType = "reservation.dispute_resolved"
)

// Notification is the payload handed to the dispatcher.
type Notification struct {
	Recipient     PartyID           `json:"recipient"`
	ReservationID string            `json:"reservation_id"`
	Data          map[string]string `json:"data,omitempty"`
}

// NotificationDispatcher delivers notifications. Delivery is best-effort.
type NotificationDispatcher interface {
	Send(ctx context.Context, typ NotificationType, payload Notification) error
}

// CacheInvalidator deletes cached search results by key pattern.
type CacheInvalidator interface {
	InvalidatePattern(ctx context.Context, pattern string) (int, error)
}

// PageCache asks the external page renderer to rebuild cached pages.
type PageCache interface {
	Revalidate(ctx context.Context, paths ...string) error
}

// JobType names a one-shot scheduled job.
type JobType string

const (
	JobPaymentExpiry   JobType = "payment_expiry"
	JobSignatureExpiry JobType = "signature_expiry"
	JobAutoClose       JobType = "auto_close"
	JobPostCheckout    JobType = "post_checkout"
)

// ReservationJobPayload is the payload of every reservation job.
type ReservationJobPayload struct {
	ReservationID string `json:"reservation_id"`
}

// ScheduledJob is a one-shot job due at RunAt.
type ScheduledJob struct {
	ID        string
	Type      JobType
	Payload   json.RawMessage
	RunAt     time.Time
	Attempts  int
	LastError string
	CreatedAt time.Time
}

// SchedulerClient schedules one-shot jobs.
type SchedulerClient interface {
	ScheduleOnce(ctx context.Context, jobType JobType, payload any, delay time.Duration) (jobID string, err error)
}

// JobQueue is the consumer side of the scheduler.
type JobQueue interface {
	// ClaimDue leases up to limit due jobs to the caller until now+lease.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*ScheduledJob, error)
	Complete(ctx context.Context, id string) error
	// Retry releases the lease and reschedules the job at runAt.
	Retry(ctx context.Context, id string, runAt time.Time, lastError string) error
}

// AuthResolver verifies a bearer credential and returns its subject.
type AuthResolver interface {
	Resolve(ctx context.Context, credential string) (subject string, err error)
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"rentlane/internal/common/types"
)

// checkInWindow is how long before the start date either party may check in.
const checkInWindow = 24 * time.Hour

// Cancellation reasons recorded by system-driven transitions.
const (
	ReasonPaymentExpired = "PAYMENT_EXPIRED"
)

// Reservation is the booking aggregate. It is mutated only through its
// methods, each of which validates the status transition it performs.
type Reservation struct {
	id        ReservationID
	tenantID  PartyID
	ownerID   PartyID
	vehicleID VehicleID

	startDate time.Time
	endDate   time.Time
	quote     Quote
	currency  string

	status Status

	ownerCheckInAt     *time.Time
	tenantCheckInAt    *time.Time
	checkInFinalizedAt *time.Time
	checkedOutAt       *time.Time

	cancelledBy        PartyID
	cancelledAt        *time.Time
	cancellationReason string

	contractRef     string
	paymentDeadline *time.Time

	createdAt time.Time
	updatedAt time.Time
}

// NewReservationParams describes a booking request that has already passed
// eligibility checks.
type NewReservationParams struct {
	ID        ReservationID // generated when empty
	TenantID  PartyID
	OwnerID   PartyID
	VehicleID VehicleID
	Period    RentalPeriod
	Quote     Quote
	Currency  string
	Now       time.Time
}

// NewReservation creates a reservation in INITIATED.
func NewReservation(p NewReservationParams) (*Reservation, error) {
	if !p.Period.End.After(p.Period.Start) {
		return nil, ErrInvalidDates.WithMessage("end date must be after start date")
	}
	if p.TenantID == p.OwnerID {
		return nil, ErrSelfBooking.WithMessage("owner cannot book their own vehicle")
	}
	id := p.ID
	if id.IsEmpty() {
		id = NewReservationID()
	}
	return &Reservation{
		id:        id,
		tenantID:  p.TenantID,
		ownerID:   p.OwnerID,
		vehicleID: p.VehicleID,
		startDate: MidnightUTC(p.Period.Start),
		endDate:   MidnightUTC(p.Period.End),
		quote:     p.Quote,
		currency:  p.Currency,
		status:    StatusInitiated,
		createdAt: p.Now,
		updatedAt: p.Now,
	}, nil
}

func (r *Reservation) ID() ReservationID          { return r.id }
func (r *Reservation) TenantID() PartyID          { return r.tenantID }
func (r *Reservation) OwnerID() PartyID           { return r.ownerID }
func (r *Reservation) VehicleID() VehicleID       { return r.vehicleID }
func (r *Reservation) StartDate() time.Time       { return r.startDate }
func (r *Reservation) EndDate() time.Time         { return r.endDate }
func (r *Reservation) Days() int                  { return r.quote.Days }
func (r *Reservation) Quote() Quote               { return r.quote }
func (r *Reservation) Currency() string           { return r.currency }
func (r *Reservation) Status() Status             { return r.status }
func (r *Reservation) ContractRef() string        { return r.contractRef }
func (r *Reservation) CreatedAt() time.Time       { return r.createdAt }
func (r *Reservation) UpdatedAt() time.Time       { return r.updatedAt }
func (r *Reservation) CancelledBy() PartyID       { return r.cancelledBy }
func (r *Reservation) CancellationReason() string { return r.cancellationReason }

// TenantTotal is the amount the tenant pays.
func (r *Reservation) TenantTotal() types.Money {
	return types.NewMoney(r.quote.TenantTotal, r.currency)
}

// OwnerNet is the amount credited to the owner.
func (r *Reservation) OwnerNet() types.Money {
	return types.NewMoney(r.quote.OwnerNet, r.currency)
}

// OwnerCheckInAt returns when the owner confirmed the handover, if they have.
func (r *Reservation) OwnerCheckInAt() *time.Time { return r.ownerCheckInAt }

// TenantCheckInAt returns when the tenant confirmed the handover, if they have.
func (r *Reservation) TenantCheckInAt() *time.Time { return r.tenantCheckInAt }

// CheckInFinalizedAt is set once both parties have confirmed.
func (r *Reservation) CheckInFinalizedAt() *time.Time { return r.checkInFinalizedAt }

func (r *Reservation) CheckedOutAt() *time.Time    { return r.checkedOutAt }
func (r *Reservation) CancelledAt() *time.Time     { return r.cancelledAt }
func (r *Reservation) PaymentDeadline() *time.Time { return r.paymentDeadline }

// IsFinalized reports whether both parties have checked in.
func (r *Reservation) IsFinalized() bool {
	return r.checkInFinalizedAt != nil
}

// RoleOf returns the role party holds in this reservation.
func (r *Reservation) RoleOf(party PartyID) (Role, bool) {
	switch party {
	case r.tenantID:
		return RoleTenant, true
	case r.ownerID:
		return RoleOwner, true
	default:
		return "", false
	}
}

// Authorize checks that actor is a party holding the claimed role.
func (r *Reservation) Authorize(actor PartyID, claimed Role) error {
	role, ok := r.RoleOf(actor)
	if !ok {
		return ErrNotAParty.WithMessage("party %s is not part of reservation %s", actor, r.id)
	}
	if claimed != "" && role != claimed {
		return ErrRoleMismatch.WithMessage("party %s is not the %s of reservation %s", actor, claimed, r.id)
	}
	return nil
}

// Counterparty returns the other party of the reservation.
func (r *Reservation) Counterparty(role Role) PartyID {
	if role == RoleTenant {
		return r.ownerID
	}
	return r.tenantID
}

func (r *Reservation) moveTo(to Status, now time.Time) error {
	if err := Transition(r.status, to); err != nil {
		return err
	}
	r.status = to
	r.updatedAt = now
	return nil
}

// AwaitPayment moves INITIATED to AWAITING_PAYMENT with a payment deadline.
func (r *Reservation) AwaitPayment(deadline, now time.Time) error {
	if err := r.moveTo(StatusAwaitingPayment, now); err != nil {
		return err
	}
	r.paymentDeadline = &deadline
	return nil
}

// MarkPaid records a confirmed payment. Only INITIATED or AWAITING_PAYMENT
// reservations accept payment; INITIATED passes through AWAITING_PAYMENT.
func (r *Reservation) MarkPaid(now time.Time) error {
	if r.status == StatusInitiated {
		if err := r.moveTo(StatusAwaitingPayment, now); err != nil {
			return err
		}
	}
	return r.moveTo(StatusPaid, now)
}

// ConfirmContract moves PAID to CONFIRMED once the tenant accepts the contract.
func (r *Reservation) ConfirmContract(now time.Time) error {
	return r.moveTo(StatusConfirmed, now)
}

// Cancel cancels the reservation on behalf of by.
func (r *Reservation) Cancel(by PartyID, reason string, now time.Time) error {
	if !IsCancellable(r.status) {
		return ErrNotCancellable.WithMessage("reservation in %s cannot be cancelled", r.status)
	}
	if err := r.moveTo(StatusCancelled, now); err != nil {
		return err
	}
	r.cancelledBy = by
	r.cancelledAt = &now
	r.cancellationReason = reason
	return nil
}

// Expire cancels an unpaid reservation on behalf of the system.
func (r *Reservation) Expire(now time.Time) error {
	if !IsExpirable(r.status) {
		return ErrInvalidStatus.WithMessage("reservation in %s cannot expire", r.status)
	}
	return r.Cancel(SystemActor, ReasonPaymentExpired, now)
}

// ConfirmCheckIn records role's handover confirmation. The second
// confirmation, from either side, finalizes check-in and starts the rental.
func (r *Reservation) ConfirmCheckIn(role Role, now time.Time) (finalized bool, err error) {
	if !role.Valid() {
		return false, ErrInvalidValue.WithMessage("unknown role %q", role)
	}
	if r.checkInFinalizedAt != nil {
		return false, ErrCheckInFinalized
	}
	mine, theirs := &r.tenantCheckInAt, &r.ownerCheckInAt
	if role == RoleOwner {
		mine, theirs = theirs, mine
	}
	if *mine != nil {
		return false, ErrCheckInAlreadyDone.WithMessage("%s already confirmed check-in", role)
	}
	if r.status != StatusConfirmed {
		return false, ErrInvalidStatus.WithMessage("check-in requires CONFIRMED, reservation is %s", r.status)
	}
	if now.Before(r.startDate.Add(-checkInWindow)) {
		return false, ErrCheckInTooEarly.WithMessage("check-in opens 24 hours before %s", r.startDate.Format(time.DateOnly))
	}
	if now.After(r.endDate) {
		return false, ErrCheckInTooLate.WithMessage("rental period ended on %s", r.endDate.Format(time.DateOnly))
	}

	at := now
	*mine = &at
	r.updatedAt = now
	if *theirs == nil {
		return false, nil
	}
	if err := r.moveTo(StatusInProgress, now); err != nil {
		return false, err
	}
	r.checkInFinalizedAt = &at
	return true, nil
}

// CheckOut closes an in-progress rental.
func (r *Reservation) CheckOut(now time.Time) error {
	if err := r.moveTo(StatusCompleted, now); err != nil {
		return err
	}
	r.checkedOutAt = &now
	return nil
}

// OpenDispute moves an in-progress rental to DISPUTED.
func (r *Reservation) OpenDispute(now time.Time) error {
	if r.status == StatusDisputed {
		return ErrDisputeAlreadyOpen
	}
	return r.moveTo(StatusDisputed, now)
}

// ResolveDispute closes a disputed rental.
func (r *Reservation) ResolveDispute(now time.Time) error {
	return r.moveTo(StatusCompleted, now)
}

// SetContractRef records the latest generated contract document.
func (r *Reservation) SetContractRef(ref string, now time.Time) {
	r.contractRef = ref
	r.updatedAt = now
}

// ReservationSnapshot is the flat persisted form of a Reservation.
type ReservationSnapshot struct {
	ID                 ReservationID
	TenantID           PartyID
	OwnerID            PartyID
	VehicleID          VehicleID
	StartDate          time.Time
	EndDate            time.Time
	Days               int
	DailyRate          decimal.Decimal
	BaseAmount         decimal.Decimal
	CommissionRate     decimal.Decimal
	CommissionAmount   decimal.Decimal
	TenantTotal        decimal.Decimal
	OwnerNet           decimal.Decimal
	Currency           string
	Status             Status
	OwnerCheckInAt     *time.Time
	TenantCheckInAt    *time.Time
	CheckInFinalizedAt *time.Time
	CheckedOutAt       *time.Time
	CancelledBy        PartyID
	CancelledAt        *time.Time
	CancellationReason string
	ContractRef        string
	PaymentDeadline    *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Snapshot returns the persisted form of r.
func (r *Reservation) Snapshot() ReservationSnapshot {
	return ReservationSnapshot{
		ID:                 r.id,
		TenantID:           r.tenantID,
		OwnerID:            r.ownerID,
		VehicleID:          r.vehicleID,
		StartDate:          r.startDate,
		EndDate:            r.endDate,
		Days:               r.quote.Days,
		DailyRate:          r.quote.DailyRate,
		BaseAmount:         r.quote.BaseAmount,
		CommissionRate:     r.quote.CommissionRate,
		CommissionAmount:   r.quote.CommissionAmount,
		TenantTotal:        r.quote.TenantTotal,
		OwnerNet:           r.quote.OwnerNet,
		Currency:           r.currency,
		Status:             r.status,
		OwnerCheckInAt:     copyTime(r.ownerCheckInAt),
		TenantCheckInAt:    copyTime(r.tenantCheckInAt),
		CheckInFinalizedAt: copyTime(r.checkInFinalizedAt),
		CheckedOutAt:       copyTime(r.checkedOutAt),
		CancelledBy:        r.cancelledBy,
		CancelledAt:        copyTime(r.cancelledAt),
		CancellationReason: r.cancellationReason,
		ContractRef:        r.contractRef,
		PaymentDeadline:    copyTime(r.paymentDeadline),
		CreatedAt:          r.createdAt,
		UpdatedAt:          r.updatedAt,
	}
}

// ReconstructReservation rehydrates a Reservation from persisted state.
// It bypasses business validation since the data is assumed valid from the database.
func ReconstructReservation(s ReservationSnapshot) *Reservation {
	return &Reservation{
		id:        s.ID,
		tenantID:  s.TenantID,
		ownerID:   s.OwnerID,
		vehicleID: s.VehicleID,
		startDate: s.StartDate,
		endDate:   s.EndDate,
		quote: Quote{
			DailyRate:        s.DailyRate,
			Days:             s.Days,
			BaseAmount:       s.BaseAmount,
			CommissionRate:   s.CommissionRate,
			CommissionAmount: s.CommissionAmount,
			TenantTotal:      s.TenantTotal,
			OwnerNet:         s.OwnerNet,
		},
		currency:           s.Currency,
		status:             s.Status,
		ownerCheckInAt:     copyTime(s.OwnerCheckInAt),
		tenantCheckInAt:    copyTime(s.TenantCheckInAt),
		checkInFinalizedAt: copyTime(s.CheckInFinalizedAt),
		checkedOutAt:       copyTime(s.CheckedOutAt),
		cancelledBy:        s.CancelledBy,
		cancelledAt:        copyTime(s.CancelledAt),
		cancellationReason: s.CancellationReason,
		contractRef:        s.ContractRef,
		paymentDeadline:    copyTime(s.PaymentDeadline),
		createdAt:          s.CreatedAt,
		updatedAt:          s.UpdatedAt,
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

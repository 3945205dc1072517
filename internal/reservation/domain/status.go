package domain

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusInitiated       Status = "INITIATED"
	StatusAwaitingPayment Status = "AWAITING_PAYMENT"
	StatusPaid            Status = "PAID"
	StatusConfirmed       Status = "CONFIRMED"
	StatusInProgress      Status = "IN_PROGRESS"
	StatusDisputed        Status = "DISPUTED"
	StatusCompleted       Status = "COMPLETED"
	StatusCancelled       Status = "CANCELLED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusInitiated,
	StatusAwaitingPayment,
	StatusPaid,
	StatusConfirmed,
	StatusInProgress,
	StatusDisputed,
	StatusCompleted,
	StatusCancelled,
}

var transitions = map[Status][]Status{
	StatusInitiated:       {StatusAwaitingPayment, StatusCancelled},
	StatusAwaitingPayment: {StatusPaid, StatusCancelled},
	StatusPaid:            {StatusConfirmed, StatusCancelled},
	StatusConfirmed:       {StatusInProgress, StatusCancelled},
	StatusInProgress:      {StatusCompleted, StatusDisputed},
	StatusDisputed:        {StatusCompleted},
	StatusCompleted:       {},
	StatusCancelled:       {},
}

// ActiveStatuses hold a vehicle for their period and participate in overlap checks.
var ActiveStatuses = []Status{
	StatusAwaitingPayment,
	StatusPaid,
	StatusConfirmed,
	StatusInProgress,
}

// ExpirableStatuses can be cancelled by the payment-expiry job.
var ExpirableStatuses = []Status{
	StatusInitiated,
	StatusAwaitingPayment,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus validates a persisted status value.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", ErrInvalidStatus.WithMessage("unknown status %q", v)
	}
	return s, nil
}

// Allowed returns the statuses reachable from s in one step.
func Allowed(from Status) []Status {
	next := transitions[from]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to. It does not mutate anything.
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return ErrInvalidTransition.WithMessage("cannot transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminal reports whether no further transitions are possible.
func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsCancellable reports whether a party may still cancel.
func IsCancellable(s Status) bool {
	switch s {
	case StatusInitiated, StatusAwaitingPayment, StatusPaid, StatusConfirmed:
		return true
	default:
		return false
	}
}

// IsActive reports whether s blocks the vehicle for its period.
func IsActive(s Status) bool {
	return containsStatus(ActiveStatuses, s)
}

// IsExpirable reports whether the payment-expiry job may cancel a reservation in s.
func IsExpirable(s Status) bool {
	return containsStatus(ExpirableStatuses, s)
}

func containsStatus(set []Status, s Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

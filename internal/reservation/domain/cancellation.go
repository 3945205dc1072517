package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Role is the side a party takes in a reservation.
type Role string

const (
	RoleTenant Role = "TENANT"
	RoleOwner  Role = "OWNER"
)

func (r Role) Valid() bool {
	return r == RoleTenant || r == RoleOwner
}

// Other returns the counterparty role.
func (r Role) Other() Role {
	if r == RoleTenant {
		return RoleOwner
	}
	return RoleTenant
}

// CancellationInput carries everything the policy needs. The policy never
// reads the clock itself.
type CancellationInput struct {
	Now              time.Time
	StartDate        time.Time
	BaseAmount       decimal.Decimal
	CommissionAmount decimal.Decimal
	TenantTotal      decimal.Decimal
	Initiator        Role
	ForceMajeure     bool
}

// CancellationDecision is the outcome of the cancellation policy.
// RefundAmount is what goes back to the tenant. PenaltyAmount is charged to
// the owner and is informational when CanCancel is false.
type CancellationDecision struct {
	CanCancel          bool
	Initiator          Role
	ForceMajeure       bool
	DaysUntilStart     float64
	RefundPercentage   decimal.Decimal
	RefundAmount       decimal.Decimal
	RetainedCommission decimal.Decimal
	PenaltyPercentage  decimal.Decimal
	PenaltyAmount      decimal.Decimal
	Warnings           []string
}

var (
	pct0   = decimal.Zero
	pct20  = decimal.NewFromInt(20)
	pct40  = decimal.NewFromInt(40)
	pct50  = decimal.NewFromInt(50)
	pct75  = decimal.NewFromInt(75)
	pct100 = decimal.NewFromInt(100)
)

// DaysUntilStart returns fractional days from now to start, floored at zero.
func DaysUntilStart(start, now time.Time) float64 {
	return math.Max(0, start.Sub(now).Hours()/24)
}

// EvaluateCancellation applies the cancellation policy.
func EvaluateCancellation(in CancellationInput) CancellationDecision {
	days := DaysUntilStart(in.StartDate, in.Now)
	if in.ForceMajeure {
		return CancellationDecision{
			CanCancel:          true,
			Initiator:          in.Initiator,
			ForceMajeure:       true,
			DaysUntilStart:     days,
			RefundPercentage:   pct100,
			RefundAmount:       in.TenantTotal,
			RetainedCommission: decimal.Zero,
			PenaltyPercentage:  pct0,
			PenaltyAmount:      decimal.Zero,
			Warnings:           []string{"Force majeure cancellation: full refund including service fee."},
		}
	}
	if in.Initiator == RoleOwner {
		return ownerCancellation(in, days)
	}
	return tenantCancellation(in, days)
}

func tenantCancellation(in CancellationInput, days float64) CancellationDecision {
	d := CancellationDecision{
		CanCancel:         true,
		Initiator:         RoleTenant,
		DaysUntilStart:    days,
		PenaltyPercentage: pct0,
		PenaltyAmount:     decimal.Zero,
		Warnings:          []string{},
	}

	switch {
	case days > 5:
		d.RefundPercentage = pct100
		d.RefundAmount = in.BaseAmount
		d.RetainedCommission = in.TenantTotal.Sub(in.BaseAmount)
	case days >= 2:
		d.RefundPercentage = pct75
		d.RefundAmount = percentOf(in.TenantTotal, pct75)
		d.RetainedCommission = in.TenantTotal.Sub(d.RefundAmount)
		d.Warnings = append(d.Warnings, "Cancelling 2 to 5 days before the start refunds 75% of the total paid.")
	case days >= 1:
		d.RefundPercentage = pct50
		d.RefundAmount = percentOf(in.TenantTotal, pct50)
		d.RetainedCommission = in.TenantTotal.Sub(d.RefundAmount)
		d.Warnings = append(d.Warnings, "Cancelling less than 2 days before the start refunds 50% of the total paid.")
	default:
		d.RefundPercentage = pct0
		d.RefundAmount = decimal.Zero
		d.RetainedCommission = in.TenantTotal
		d.Warnings = append(d.Warnings, "Cancelling less than 24 hours before the start is not refunded.")
	}
	return d
}

func ownerCancellation(in CancellationInput, days float64) CancellationDecision {
	d := CancellationDecision{
		CanCancel:          true,
		Initiator:          RoleOwner,
		DaysUntilStart:     days,
		RefundPercentage:   pct100,
		RefundAmount:       in.TenantTotal,
		RetainedCommission: decimal.Zero,
		Warnings:           []string{},
	}

	switch {
	case days < 1:
		d.CanCancel = false
		d.PenaltyPercentage = pct40
		d.Warnings = append(d.Warnings, "Same-day cancellation is impossible on the platform and requires mutual agreement with the tenant.")
	case days < 3:
		d.PenaltyPercentage = pct40
		d.Warnings = append(d.Warnings, "Cancelling less than 3 days before the start incurs a 40% penalty on the rental amount.")
	case days <= 7:
		d.PenaltyPercentage = pct20
		d.Warnings = append(d.Warnings, "Cancelling 3 to 7 days before the start incurs a 20% penalty on the rental amount.")
	default:
		d.PenaltyPercentage = pct0
		d.Warnings = append(d.Warnings, "The tenant will be fully refunded. Frequent cancellations may affect your listing.")
	}
	d.PenaltyAmount = percentOf(in.BaseAmount, d.PenaltyPercentage)
	return d
}

func percentOf(amount, pct decimal.Decimal) decimal.Decimal {
	return roundHalfUp(amount.Mul(pct).Div(pct100))
}

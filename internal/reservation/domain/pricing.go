package domain

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CommissionRate is the platform cut added on top of the base amount.
var CommissionRate = decimal.RequireFromString("0.15")

// Tier is a duration band with its own daily rate.
// MaxDays of zero means the band is unbounded above.
type Tier struct {
	MinDays int             `json:"min_days"`
	MaxDays int             `json:"max_days,omitempty"`
	Rate    decimal.Decimal `json:"rate"`
}

func (t Tier) contains(days int) bool {
	if days < t.MinDays {
		return false
	}
	return t.MaxDays == 0 || days <= t.MaxDays
}

// Quote is the priced breakdown of a rental.
type Quote struct {
	DailyRate        decimal.Decimal
	Days             int
	BaseAmount       decimal.Decimal
	CommissionRate   decimal.Decimal
	CommissionAmount decimal.Decimal
	TenantTotal      decimal.Decimal
	OwnerNet         decimal.Decimal
}

// ResolveRate returns the rate of the first tier, in ascending MinDays order,
// whose range contains days. Tiers with equal MinDays keep their given order.
// Overlapping tiers are not rejected.
func ResolveRate(baseRate decimal.Decimal, days int, tiers []Tier) decimal.Decimal {
	if len(tiers) == 0 {
		return baseRate
	}
	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinDays < sorted[j].MinDays
	})
	for _, t := range sorted {
		if t.contains(days) {
			return t.Rate
		}
	}
	return baseRate
}

// Calculate prices a rental. Only the commission is rounded (half-up, two
// places); the totals are sums of the base and the rounded commission.
func Calculate(rate decimal.Decimal, days int, tiers []Tier) Quote {
	resolved := ResolveRate(rate, days, tiers)
	base := resolved.Mul(decimal.NewFromInt(int64(days)))
	commission := roundHalfUp(base.Mul(CommissionRate))
	return Quote{
		DailyRate:        resolved,
		Days:             days,
		BaseAmount:       base,
		CommissionRate:   CommissionRate,
		CommissionAmount: commission,
		TenantTotal:      base.Add(commission),
		OwnerNet:         base,
	}
}

// roundHalfUp rounds to two places. decimal.Round rounds half away from
// zero, which equals half-up for the non-negative amounts used here.
func roundHalfUp(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// RentalPeriod is a normalized date range.
type RentalPeriod struct {
	Start time.Time
	End   time.Time
	Days  int
}

// ParseDatesAndDuration parses two dates (YYYY-MM-DD or RFC 3339), normalizes
// both to UTC midnight and returns the whole-day duration.
func ParseDatesAndDuration(startISO, endISO string) (RentalPeriod, error) {
	start, err := parseDate(startISO)
	if err != nil {
		return RentalPeriod{}, ErrInvalidDates.WithMessage("invalid start date %q", startISO)
	}
	end, err := parseDate(endISO)
	if err != nil {
		return RentalPeriod{}, ErrInvalidDates.WithMessage("invalid end date %q", endISO)
	}
	if !end.After(start) {
		return RentalPeriod{}, ErrInvalidDates.WithMessage("end date must be after start date")
	}
	days := int(math.Round(end.Sub(start).Hours() / 24))
	return RentalPeriod{Start: start, End: end, Days: days}, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, err
		}
	}
	return MidnightUTC(t), nil
}

// MidnightUTC truncates t to the start of its UTC day.
func MidnightUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// CalculateAge returns the age in whole years on today.
func CalculateAge(birthDate, today time.Time) int {
	age := today.Year() - birthDate.Year()
	if today.Month() < birthDate.Month() ||
		(today.Month() == birthDate.Month() && today.Day() < birthDate.Day()) {
		age--
	}
	return age
}

package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CurrencyEUR is the platform's default settlement currency.
const CurrencyEUR = "EUR"

// MinorUnits is the number of decimal places every stored amount carries.
const MinorUnits = 2

// Money is a decimal amount in an ISO 4217 currency.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// NewMoney creates a new Money instance.
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// ParseMoney parses a decimal string such as "345.00".
func ParseMoney(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return NewMoney(d, currency), nil
}

// Zero returns a zero Money in the given currency.
func Zero(currency string) Money {
	return NewMoney(decimal.Zero, currency)
}

func (m Money) IsPositive() bool {
	return m.Amount.IsPositive()
}

// Equal compares amounts numerically, so 345 and 345.00 are equal.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

// Fixed renders the amount with MinorUnits places, as sent to providers.
func (m Money) Fixed() string {
	return m.Amount.StringFixed(MinorUnits)
}

func (m Money) String() string {
	return m.Fixed() + " " + m.Currency
}

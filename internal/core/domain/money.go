package domain

import (
	"fmt"
	"math"
	"strings"

	"ledger-settlement-engine/pkg/apperror"

	"github.com/shopspring/decimal"
)

// Currency is an ISO-4217 alphabetic code, always upper case.
type Currency string

// minorUnitExponent lists currencies whose minor unit is not 1/100.
var minorUnitExponent = map[Currency]int32{
	"JPY": 0, "KRW": 0, "VND": 0, "CLP": 0, "ISK": 0, "UGX": 0,
	"BHD": 3, "KWD": 3, "JOD": 3, "OMR": 3, "TND": 3,
}

// Valid reports whether c looks like an ISO-4217 code.
func (c Currency) Valid() bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Exponent is the number of decimal places of the currency's minor unit.
func (c Currency) Exponent() int32 {
	if exp, ok := minorUnitExponent[c]; ok {
		return exp
	}
	return 2
}

// ParseCurrency normalizes and validates a currency code.
func ParseCurrency(code string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(code)))
	if !c.Valid() {
		return "", apperror.Validation(fmt.Sprintf("invalid currency code %q", code))
	}
	return c, nil
}

// Money is an exact amount in minor units. There is no float conversion.
type Money struct {
	Amount   int64    `json:"amount"`
	Currency Currency `json:"currency"`
}

// NewMoney builds a Money value; negative amounts are allowed (balances can be).
func NewMoney(amount int64, currency string) (Money, error) {
	c, err := ParseCurrency(currency)
	if err != nil {
		return Money{}, err
	}
	return Money{Amount: amount, Currency: c}, nil
}

// NewEntryAmount builds the amount of a ledger entry, which must be positive.
func NewEntryAmount(amount int64, currency string) (Money, error) {
	if amount <= 0 {
		return Money{}, apperror.Validation("entry amount must be positive")
	}
	return NewMoney(amount, currency)
}

// MustMoney panics on an invalid currency. Intended for constants and tests.
func MustMoney(amount int64, currency string) Money {
	m, err := NewMoney(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero amount of the currency.
func Zero(currency Currency) Money {
	return Money{Currency: currency}
}

// FromMajor converts a decimal amount of major units (e.g. 12.345 USD) into minor
// units, rounding half to even. This is the only place rounding happens.
func FromMajor(major decimal.Decimal, currency string) (Money, error) {
	c, err := ParseCurrency(currency)
	if err != nil {
		return Money{}, err
	}
	minor := major.Shift(c.Exponent()).RoundBank(0)
	if minor.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || minor.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return Money{}, apperror.Validation("amount out of range")
	}
	return Money{Amount: minor.IntPart(), Currency: c}, nil
}

// Major returns the amount in major units as an exact decimal.
func (m Money) Major() decimal.Decimal {
	return decimal.New(m.Amount, -m.Currency.Exponent())
}

func (m Money) String() string {
	return m.Major().StringFixed(m.Currency.Exponent()) + " " + string(m.Currency)
}

func (m Money) sameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return apperror.ErrCurrencyMismatch(string(m.Currency), string(other.Currency))
	}
	return nil
}

// Add returns m + other.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	sum := m.Amount + other.Amount
	if (other.Amount > 0 && sum < m.Amount) || (other.Amount < 0 && sum > m.Amount) {
		return Money{}, apperror.Validation("amount overflow")
	}
	return Money{Amount: sum, Currency: m.Currency}, nil
}

// Sub returns m - other.
func (m Money) Sub(other Money) (Money, error) {
	if other.Amount == math.MinInt64 {
		return Money{}, apperror.Validation("amount overflow")
	}
	return m.Add(other.Negate())
}

// Cmp compares m and other: -1, 0 or +1.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	switch {
	case m.Amount < other.Amount:
		return -1, nil
	case m.Amount > other.Amount:
		return 1, nil
	}
	return 0, nil
}

// Equal is exact equality of amount and currency.
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && m.Currency == other.Currency
}

func (m Money) Negate() Money    { return Money{Amount: -m.Amount, Currency: m.Currency} }
func (m Money) IsZero() bool     { return m.Amount == 0 }
func (m Money) IsNegative() bool { return m.Amount < 0 }
func (m Money) IsPositive() bool { return m.Amount > 0 }

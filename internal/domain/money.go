package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Arithmetic errors. These live in the domain package (not ports) because the
// Money type itself raises them; adapters and the ledger wrap them as needed.
var (
	ErrOverflow       = errors.New("money value exceeds precision bounds")
	ErrDivisionByZero = errors.New("division by zero")
)

const (
	// MoneyScale is the number of fractional decimal digits carried by Money.
	MoneyScale = 8
	// MoneyPrecision is the total number of significant decimal digits.
	MoneyPrecision = 18
)

// maxAbs is the exclusive bound on |value|: 18 total digits minus 8 fractional
// leaves 10 integer digits.
var maxAbs = decimal.New(1, MoneyPrecision-MoneyScale) // 10^10

// Money is a fixed-point decimal used for every price, quantity and monetary
// amount in the ledger. Scale 8, precision 18, rounding half-up. The zero
// value is 0.
//
// Binary floating point never enters or leaves this type; construct from
// strings or integers only.
type Money struct {
	d decimal.Decimal
}

// NewMoneyFromString parses a decimal string into Money, rounding half-up to
// scale 8. Returns ErrOverflow if the value exceeds 18-digit precision.
func NewMoneyFromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return bounded(d)
}

// NewMoneyFromInt converts an int64 into Money.
func NewMoneyFromInt(i int64) (Money, error) {
	return bounded(decimal.NewFromInt(i))
}

// MustMoney parses a decimal string and panics on failure. Intended for
// constants and tests only.
func MustMoney(s string) Money {
	m, err := NewMoneyFromString(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns the zero amount.
func Zero() Money { return Money{} }

// bounded rounds to MoneyScale and enforces the precision bound.
func bounded(d decimal.Decimal) (Money, error) {
	d = d.Round(MoneyScale)
	if d.Abs().Cmp(maxAbs) >= 0 {
		return Money{}, fmt.Errorf("%s: %w", d.String(), ErrOverflow)
	}
	return Money{d: d}, nil
}

// Add returns m + o.
func (m Money) Add(o Money) (Money, error) {
	return bounded(m.d.Add(o.d))
}

// Sub returns m - o.
func (m Money) Sub(o Money) (Money, error) {
	return bounded(m.d.Sub(o.d))
}

// Mul returns m * o rounded half-up at scale 8.
func (m Money) Mul(o Money) (Money, error) {
	return bounded(m.d.Mul(o.d))
}

// DivRound returns m / o rounded half-up at scale 8. Returns
// ErrDivisionByZero when o is zero.
func (m Money) DivRound(o Money) (Money, error) {
	if o.d.IsZero() {
		return Money{}, ErrDivisionByZero
	}
	return bounded(m.d.DivRound(o.d, MoneyScale))
}

// Neg returns -m.
func (m Money) Neg() Money { return Money{d: m.d.Neg()} }

// Cmp compares m and o: -1 if m < o, 0 if equal, +1 if m > o.
func (m Money) Cmp(o Money) int { return m.d.Cmp(o.d) }

// Equal reports whether m and o represent the same amount.
func (m Money) Equal(o Money) bool { return m.d.Equal(o.d) }

// IsZero reports whether m is exactly zero.
func (m Money) IsZero() bool { return m.d.IsZero() }

// IsNegative reports whether m < 0.
func (m Money) IsNegative() bool { return m.d.IsNegative() }

// IsPositive reports whether m > 0.
func (m Money) IsPositive() bool { return m.d.IsPositive() }

// Min returns the smaller of m and o.
func (m Money) Min(o Money) Money {
	if m.d.Cmp(o.d) <= 0 {
		return m
	}
	return o
}

// String renders the amount as a plain decimal string.
func (m Money) String() string { return m.d.String() }

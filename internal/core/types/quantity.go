// Package types provides common value types shared by the ledger, custody and BOQ packages.
package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Quantity is a fixed-point quantity with 4 decimal places (scale = 1e4).
// Stored as BIGINT (scaled integer); JSON remains a number.
type Quantity int64

const QuantityScale int64 = 10_000

// ErrQuantityOutOfRange is returned when a value does not fit the scaled int64.
var ErrQuantityOutOfRange = errors.New("quantity out of range")

var (
	minScaled = decimal.NewFromInt(math.MinInt64)
	maxScaled = decimal.NewFromInt(math.MaxInt64)
)

// NewQuantity creates a Quantity from a whole number of units.
func NewQuantity(units int64) Quantity { return Quantity(units * QuantityScale) }

// QuantityFromDecimal rounds d to 4 decimal places.
func QuantityFromDecimal(d decimal.Decimal) (Quantity, error) {
	scaled := d.Shift(4).Round(0)
	if scaled.LessThan(minScaled) || scaled.GreaterThan(maxScaled) {
		return 0, fmt.Errorf("%w: %s", ErrQuantityOutOfRange, d.String())
	}
	return Quantity(scaled.IntPart()), nil
}

// AddChecked returns q + other, or false when the sum overflows.
func (q Quantity) AddChecked(other Quantity) (Quantity, bool) {
	sum := q + other
	if (other > 0 && sum < q) || (other < 0 && sum > q) {
		return 0, false
	}
	return sum, true
}

// ParseQuantity parses a decimal string such as "12.5".
func ParseQuantity(s string) (Quantity, error) {
	return parseQuantityString(s)
}

func (q Quantity) Decimal() decimal.Decimal { return decimal.New(int64(q), -4) }

func (q Quantity) IsZero() bool { return q == 0 }

func (q Quantity) IsPositive() bool { return q > 0 }

func (q Quantity) IsNegative() bool { return q < 0 }

func (q Quantity) Neg() Quantity { return -q }

// MinQuantity returns the smaller of a and b.
func MinQuantity(a, b Quantity) Quantity {
	if a < b {
		return a
	}
	return b
}

// MaxQuantity returns the larger of a and b.
func MaxQuantity(a, b Quantity) Quantity {
	if a > b {
		return a
	}
	return b
}

// String returns a decimal string with 4 fractional digits.
func (q Quantity) String() string {
	neg := q < 0
	v := q
	if neg {
		v = -v
	}
	intPart := int64(v) / QuantityScale
	frac := int64(v) % QuantityScale
	if neg {
		return fmt.Sprintf("-%d.%04d", intPart, frac)
	}
	return fmt.Sprintf("%d.%04d", intPart, frac)
}

// MarshalJSON encodes Quantity as JSON number (not string), preserving 4 digits.
func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalJSON accepts either a JSON number or string and parses to fixed-point (4 digits).
func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*q = 0
		return nil
	}

	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}

	parsed, err := parseQuantityString(string(data))
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

func parseQuantityString(s string) (Quantity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty quantity")
	}

	if strings.ContainsAny(s, "eE") {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return 0, fmt.Errorf("parse quantity: %w", err)
		}
		return QuantityFromDecimal(d)
	}

	sign := int64(1)
	if strings.HasPrefix(s, "-") {
		sign = -1
		s = strings.TrimPrefix(s, "-")
	} else {
		s = strings.TrimPrefix(s, "+")
	}

	intPartStr, fracStr, _ := strings.Cut(s, ".")
	if intPartStr == "" {
		intPartStr = "0"
	}
	if !isDigits(intPartStr) {
		return 0, fmt.Errorf("parse quantity integer part: invalid digits %q", intPartStr)
	}
	intPart, err := strconv.ParseInt(intPartStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrQuantityOutOfRange, s)
	}
	if !isDigits(fracStr) {
		return 0, fmt.Errorf("parse quantity fractional part: invalid digits %q", fracStr)
	}

	// Normalize fractional part to 4 digits (pad right, truncate extra digits).
	if len(fracStr) > 4 {
		fracStr = fracStr[:4]
	}
	for len(fracStr) < 4 {
		fracStr += "0"
	}
	frac, err := strconv.ParseInt(fracStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse quantity fractional part: %w", err)
	}
	if intPart > (math.MaxInt64-frac)/QuantityScale {
		return 0, fmt.Errorf("%w: %s", ErrQuantityOutOfRange, s)
	}

	return Quantity(sign * (intPart*QuantityScale + frac)), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Money is a pass-through monetary value (unit price, line amount).
type Money = decimal.Decimal

// MustMoney creates a Money value from a string, panics on error.
// Use only for constants and tests.
func MustMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Amount returns q × price.
func Amount(q Quantity, price Money) Money {
	return q.Decimal().Mul(price)
}

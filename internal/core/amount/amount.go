// Package amount converts between display amounts and raw ledger units.
//
// All arithmetic is exact: display amounts are decimal.Decimal values and raw
// amounts are big integers, so no conversion ever passes through float64.
package amount

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxRaw is the largest raw amount a u128 balance can hold.
var MaxRaw = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// ErrOutOfRange is returned for amounts that cannot be a balance.
var ErrOutOfRange = errors.New("amount out of range")

const (
	// maxInput bounds the text accepted by Parse.
	maxInput = 96
	// maxRawDigits is the number of decimal digits of MaxRaw.
	maxRawDigits = 39
)

// Parse reads a display amount such as "2.5". Exponent notation is
// rejected.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount is empty")
	}
	if len(s) > maxInput {
		return decimal.Zero, fmt.Errorf("%w: amount has more than %d characters", ErrOutOfRange, maxInput)
	}
	if strings.ContainsAny(s, "eE") {
		return decimal.Zero, fmt.Errorf("invalid amount %q: exponent notation is not accepted", s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// ToRaw converts a display amount to raw units: round(amount * 10^decimals).
// Rounding is half away from zero and only affects digits beyond the
// network's precision.
func ToRaw(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if decimals < 0 {
		return nil, fmt.Errorf("invalid decimals %d", decimals)
	}
	// Bound the work before scaling: a decimal with a large exponent
	// expands to an arbitrarily large integer.
	exp := int64(amount.Exponent())
	if exp < -maxInput {
		return nil, fmt.Errorf("%w: more than %d fractional digits", ErrOutOfRange, maxInput)
	}
	if int64(amount.NumDigits())+exp+int64(decimals) > maxRawDigits {
		return nil, fmt.Errorf("%w: %s exceeds the largest balance", ErrOutOfRange, amount)
	}
	return amount.Shift(decimals).Round(0).BigInt(), nil
}

// Exact reports whether amount is representable in raw units without rounding.
func Exact(amount decimal.Decimal, decimals int32) bool {
	shifted := amount.Shift(decimals)
	return shifted.Equal(shifted.Truncate(0))
}

// FromRaw converts raw units to a display amount.
func FromRaw(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// Format renders raw units as a display string with trailing zeros trimmed,
// e.g. 5000000000000 with 12 decimals is "5".
func Format(raw *big.Int, decimals int32) string {
	return FromRaw(raw, decimals).String()
}

// FormatWithSymbol is Format followed by the token symbol.
func FormatWithSymbol(raw *big.Int, decimals int32, symbol string) string {
	if symbol == "" {
		return Format(raw, decimals)
	}
	return Format(raw, decimals) + " " + symbol
}

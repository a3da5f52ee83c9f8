package tokenledger

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// DefaultDecimals is the decimal precision used when none is configured.
const DefaultDecimals = 18

// Display converts a base-unit amount to its display-unit decimal value
// (e.g. wei to whole tokens).
func Display(amount *big.Int, decimals int) decimal.Decimal {
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

// ToDisplay converts a base-unit amount to a display-unit decimal string.
func ToDisplay(amount *big.Int, decimals int) string {
	return Display(amount, decimals).String()
}

// FromDisplay converts a display-unit decimal string to a base-unit amount.
// Fails when the value carries more fractional digits than the token allows
// or is negative.
func FromDisplay(value string, decimals int) (*big.Int, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("parse decimal: %w", err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount: %s", value)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount %s exceeds %d decimal places", value, decimals)
	}
	return scaled.BigInt(), nil
}

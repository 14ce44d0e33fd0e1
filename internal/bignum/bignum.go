// Package bignum handles the fixed-point integers that dominate the data
// model: decimal strings on the wire and in streams, *big.Int in memory,
// shopspring decimals for fractional derived quantities.
package bignum

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Parse parses a decimal-string integer. Empty input is rejected; this is
// the validation path for event fields.
func Parse(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty big integer string")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid big integer %q", s)
	}
	return v, nil
}

// MustParse parses a decimal-string integer known to be valid (values read
// back from the store).
func MustParse(s string) *big.Int {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Format renders a big integer as a decimal string; nil renders as "0".
func Format(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// Scale converts a raw fixed-point integer to its human quantity by shifting
// the decimal point left, e.g. Scale(1e18, 18) = 1.
func Scale(v *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(v, 0).Shift(-decimals)
}

// ScaleProduct converts a price*quantity product using the combined decimals
// of both legs, yielding the quote-denominated quantity.
func ScaleProduct(price, qty *big.Int, priceDecimals, qtyDecimals int32) decimal.Decimal {
	product := new(big.Int).Mul(price, qty)
	return decimal.NewFromBigInt(product, 0).Shift(-(priceDecimals + qtyDecimals))
}

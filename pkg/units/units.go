// Package units converts between decimal token amounts and integer base units.
package units

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// ToBaseUnits renders amount as an integer count of the token's smallest unit.
func ToBaseUnits(amount float64, decimals int) (*big.Int, error) {
	if amount < 0 || decimals < 0 {
		return nil, fmt.Errorf("invalid amount %v with %d decimals", amount, decimals)
	}
	text := strconv.FormatFloat(amount, 'f', decimals, 64)
	text = strings.Replace(text, ".", "", 1)
	value, ok := new(big.Int).SetString(text, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", text)
	}
	return value, nil
}

// FromBaseUnits converts a base unit integer string back to a token amount.
func FromBaseUnits(raw string, decimals int) (float64, error) {
	value, ok := new(big.Float).SetString(strings.TrimSpace(raw))
	if !ok {
		return 0, fmt.Errorf("invalid base unit amount %q", raw)
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(value, scale).Float64()
	return out, nil
}

/*
This file contains common utility functions for converting between base-unit
integer amounts and decimal quantities, with strict precision handling.
*/

package utils

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
)

// Pow10Dec returns 10^decimals as a LegacyDec. decimals must be in [0, 18].
func Pow10Dec(decimals int) (sdkmath.LegacyDec, error) {
	if decimals < 0 || decimals > 18 {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, decimals)
	}
	factor := sdkmath.LegacyNewDec(1)
	ten := sdkmath.LegacyNewDec(10)
	for i := 0; i < decimals; i++ {
		factor = factor.Mul(ten)
	}
	return factor, nil
}

// AmountToDec converts a base-unit integer amount into a whole-token decimal
// quantity (e.g. 1_500_000 uusdc at 6 decimals -> 1.5).
func AmountToDec(amount sdkmath.Int, decimals int) (sdkmath.LegacyDec, error) {
	if amount.IsNil() {
		return sdkmath.LegacyDec{}, ErrAmountNil
	}
	if amount.IsNegative() {
		return sdkmath.LegacyDec{}, ErrAmountNegative
	}
	factor, err := Pow10Dec(decimals)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return sdkmath.LegacyNewDecFromInt(amount).Quo(factor), nil
}

// DecToAmountFloor converts a whole-token decimal quantity into base units,
// truncating toward zero. Callers rely on the floor behavior for payout math.
func DecToAmountFloor(quantity sdkmath.LegacyDec, decimals int) (sdkmath.Int, error) {
	if quantity.IsNil() {
		return sdkmath.Int{}, ErrAmountNil
	}
	if quantity.IsNegative() {
		return sdkmath.Int{}, ErrAmountNegative
	}
	factor, err := Pow10Dec(decimals)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return quantity.Mul(factor).TruncateInt(), nil
}

package utils_test

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/cvm/internal/utils"
)

func TestPow10Dec(t *testing.T) {
	factor, err := utils.Pow10Dec(0)
	require.NoError(t, err)
	require.True(t, factor.Equal(sdkmath.LegacyOneDec()))

	factor, err = utils.Pow10Dec(6)
	require.NoError(t, err)
	require.True(t, factor.Equal(sdkmath.LegacyNewDec(1_000_000)))

	_, err = utils.Pow10Dec(-1)
	require.ErrorIs(t, err, utils.ErrInvalidPrecision)

	_, err = utils.Pow10Dec(19)
	require.ErrorIs(t, err, utils.ErrInvalidPrecision)
}

func TestAmountToDec(t *testing.T) {
	quantity, err := utils.AmountToDec(sdkmath.NewInt(1_500_000), 6)
	require.NoError(t, err)
	require.True(t, quantity.Equal(sdkmath.LegacyMustNewDecFromStr("1.5")))

	quantity, err = utils.AmountToDec(sdkmath.ZeroInt(), 6)
	require.NoError(t, err)
	require.True(t, quantity.IsZero())

	_, err = utils.AmountToDec(sdkmath.Int{}, 6)
	require.ErrorIs(t, err, utils.ErrAmountNil)

	_, err = utils.AmountToDec(sdkmath.NewInt(-1), 6)
	require.ErrorIs(t, err, utils.ErrAmountNegative)
}

func TestDecToAmountFloor(t *testing.T) {
	amount, err := utils.DecToAmountFloor(sdkmath.LegacyMustNewDecFromStr("1.5"), 6)
	require.NoError(t, err)
	require.True(t, amount.Equal(sdkmath.NewInt(1_500_000)))

	// Sub-base-unit remainders truncate toward zero.
	amount, err = utils.DecToAmountFloor(sdkmath.LegacyMustNewDecFromStr("0.0000019"), 6)
	require.NoError(t, err)
	require.True(t, amount.Equal(sdkmath.NewInt(1)))

	_, err = utils.DecToAmountFloor(sdkmath.LegacyDec{}, 6)
	require.ErrorIs(t, err, utils.ErrAmountNil)

	_, err = utils.DecToAmountFloor(sdkmath.LegacyNewDec(-1), 6)
	require.ErrorIs(t, err, utils.ErrAmountNegative)
}

func TestRoundTripWithinOneBaseUnit(t *testing.T) {
	amount := sdkmath.NewInt(123_456_789)
	quantity, err := utils.AmountToDec(amount, 6)
	require.NoError(t, err)

	back, err := utils.DecToAmountFloor(quantity, 6)
	require.NoError(t, err)
	require.True(t, amount.Sub(back).Abs().LTE(sdkmath.OneInt()))
}

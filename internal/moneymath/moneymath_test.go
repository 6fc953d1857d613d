package moneymath

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestRoundToTickDown(t *testing.T) {
	require.True(t, RoundToTickDown(d("47689.374"), d("0.01")).Equal(d("47689.37")))
	require.True(t, RoundToTickDown(d("100"), d("0.01")).Equal(d("100")))
}

func TestRoundToTickUp(t *testing.T) {
	require.True(t, RoundToTickUp(d("47689.371"), d("0.01")).Equal(d("47689.38")))
	require.True(t, RoundToTickUp(d("100"), d("0.01")).Equal(d("100")))
}

func TestRoundToStepDown(t *testing.T) {
	require.True(t, RoundToStepDown(d("0.0020991234"), d("0.00001")).Equal(d("0.00209")))
}

func TestDivSafeByZero(t *testing.T) {
	_, err := DivSafe(d("100"), decimal.Zero, 8)
	require.ErrorIs(t, err, ErrDivideByZero)
}

func TestWeightedReferencePriceFallsBackToATH(t *testing.T) {
	ref := WeightedReferencePrice(decimal.Zero, decimal.Zero, d("50000"))
	require.True(t, ref.Equal(d("50000")))
}

func TestWeightedReferencePriceComputesWeightedAverage(t *testing.T) {
	ref := WeightedReferencePrice(d("100.10"), d("0.002099"), d("50000"))
	require.True(t, ref.GreaterThan(d("47000")))
	require.True(t, ref.LessThan(d("48000")))
}

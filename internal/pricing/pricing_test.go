package pricing

import (
	"testing"

	"dcabot/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func candle(high string) core.Candle {
	return core.Candle{High: dec(high), Open: dec(high), Low: dec(high), Close: dec(high), Closed: true}
}

func TestComputeATHEmptyWindow(t *testing.T) {
	_, ok := ComputeATH(nil)
	require.False(t, ok)
}

func TestComputeATHTakesMax(t *testing.T) {
	window := []core.Candle{candle("49000"), candle("50000"), candle("48500")}
	ath, ok := ComputeATH(window)
	require.True(t, ok)
	require.True(t, ath.Equal(dec("50000")))
}

func TestReferenceFlatUsesATH(t *testing.T) {
	state := core.CycleState{BTCAccumulated: decimal.Zero, ATHPrice: dec("50000")}
	require.True(t, Reference(state).Equal(dec("50000")))
}

func TestReferenceHoldingUsesWeightedAverage(t *testing.T) {
	state := core.CycleState{
		BTCAccumulated: dec("0.002099"),
		CostAccumUSDT:  dec("100.10"),
		BTCAccumNet:    dec("0.002099"),
		ATHPrice:       dec("50000"),
	}
	ref := Reference(state)
	require.False(t, ref.Equal(dec("50000")))
	require.True(t, ref.GreaterThan(dec("47000")))
}

func TestSnapshotFlatCycleHasNoCostBasis(t *testing.T) {
	state := core.CycleState{
		CycleID: "cycle-flat", Status: core.StatusReady,
		BTCAccumulated: decimal.Zero, ATHPrice: dec("50000"), PurchasesRemaining: 3,
	}
	cfg := core.StrategyConfig{MaxPurchases: 3}
	snap := Snapshot(state, cfg, dec("48000"))
	require.True(t, snap.CostBasis.IsZero())
	require.True(t, snap.UnrealizedPnLPct.IsZero())
	require.Equal(t, 0, snap.PurchasesMade)
}

func TestSnapshotHoldingComputesUnrealizedPnL(t *testing.T) {
	state := core.CycleState{
		CycleID: "cycle-holding", Status: core.StatusHolding,
		BTCAccumulated: dec("0.002099"), CostAccumUSDT: dec("100.10"),
		BTCAccumNet: dec("0.002099"), ATHPrice: dec("50000"), PurchasesRemaining: 1,
	}
	cfg := core.StrategyConfig{MaxPurchases: 3}
	snap := Snapshot(state, cfg, dec("52000"))
	require.Equal(t, "cycle-holding", snap.CycleID)
	require.Equal(t, 2, snap.PurchasesMade)
	require.False(t, snap.CostBasis.IsZero())
	require.True(t, snap.UnrealizedPnLPct.GreaterThan(decimal.Zero), "price above cost basis must report positive unrealized PnL")
}

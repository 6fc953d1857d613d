package drift

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

func TestCheckOKWithinTolerance(t *testing.T) {
	state := core.CycleState{CapitalAvailableUSDT: dec("1000"), BTCAccumulated: dec("0.01")}
	live := core.Balances{USDT: dec("1002"), BTC: dec("0.01")}
	res := Check(live, state)
	require.False(t, res.Halted)
}

func TestCheckHaltsOnUSDTDrift(t *testing.T) {
	// Scenario D: capital=1000, live USDT=1006 => drift=0.6% > 0.5%.
	state := core.CycleState{CapitalAvailableUSDT: dec("1000"), BTCAccumulated: dec("0.01")}
	live := core.Balances{USDT: dec("1006"), BTC: dec("0.01")}
	res := Check(live, state)
	require.True(t, res.Halted)
	require.Equal(t, WhichUSDT, res.Which)
}

func TestCheckHaltsOnBTCDrift(t *testing.T) {
	state := core.CycleState{CapitalAvailableUSDT: dec("1000"), BTCAccumulated: dec("1.0")}
	live := core.Balances{USDT: dec("1000"), BTC: dec("1.01")}
	res := Check(live, state)
	require.True(t, res.Halted)
	require.Equal(t, WhichBTC, res.Which)
}

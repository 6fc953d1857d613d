// Package drift compares live exchange balances against the cycle
// accumulator and halts the controller when they diverge beyond the
// fixed threshold (spec §4.6). Grounded on the teacher's
// ReconcileOrders drift-logging pattern, generalized from single-asset
// position drift to the two-asset (USDT, BTC) formula below.
package drift

import (
	"dcabot/internal/core"

	"github.com/shopspring/decimal"
)

// Threshold is the fixed, non-configurable drift tolerance from spec §4.6.
var Threshold = decimal.RequireFromString("0.005")

// Which identifies which balance diverged.
type Which string

const (
	WhichUSDT Which = "usdt"
	WhichBTC  Which = "btc"
)

// Result is OK when both balances are within tolerance, or a HALT
// carrying the offending balance, its drift value, and the threshold.
type Result struct {
	Halted    bool
	Which     Which
	Value     decimal.Decimal
	Threshold decimal.Decimal
}

var epsilonBTC = decimal.RequireFromString("0.00000001")

// Check computes drift_usdt and drift_btc per spec §4.6 and returns the
// first HALT found (USDT checked before BTC — order does not matter
// functionally since both must pass for OK, but a stable order keeps the
// reported reason deterministic).
func Check(live core.Balances, state core.CycleState) Result {
	usdtDenom := decimal.Max(state.CapitalAvailableUSDT, decimal.NewFromInt(1))
	driftUSDT := live.USDT.Sub(state.CapitalAvailableUSDT).Abs().Div(usdtDenom)
	if driftUSDT.GreaterThan(Threshold) {
		return Result{Halted: true, Which: WhichUSDT, Value: driftUSDT, Threshold: Threshold}
	}

	btcDenom := decimal.Max(state.BTCAccumulated, epsilonBTC)
	driftBTC := live.BTC.Sub(state.BTCAccumulated).Abs().Div(btcDenom)
	if driftBTC.GreaterThan(Threshold) {
		return Result{Halted: true, Which: WhichBTC, Value: driftBTC, Threshold: Threshold}
	}

	return Result{Halted: false}
}

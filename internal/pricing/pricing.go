// Package pricing computes the dynamic ATH and the reference price used
// by the Trigger Evaluator (spec §4.3). Pure functions over a candle
// window and a CycleState snapshot; no I/O, so no external libraries.
package pricing

import (
	"dcabot/internal/core"
	"dcabot/internal/moneymath"

	"github.com/shopspring/decimal"
)

// ComputeATH returns the maximum High over the supplied window of closed
// candles. The window is expected to already be capped at
// core.ATHWindow by the intake component; ComputeATH itself does not
// reslice, it only reduces. Returns (zero, false) when the window is
// empty so callers can distinguish "no data yet" from "a zero-value ATH".
func ComputeATH(window []core.Candle) (decimal.Decimal, bool) {
	if len(window) == 0 {
		return decimal.Zero, false
	}
	ath := window[0].High
	for _, c := range window[1:] {
		if c.High.GreaterThan(ath) {
			ath = c.High
		}
	}
	return ath, true
}

// ReferenceWhenFlat returns the anchor used while btc_accumulated == 0:
// the cached ATH price (spec §4.3).
func ReferenceWhenFlat(state core.CycleState) decimal.Decimal {
	return state.ATHPrice
}

// ReferenceWhenHolding returns the weighted-average cost basis, folding
// in fees already accumulated into CostAccumUSDT/BTCAccumNet (spec §4.3,
// §9 "keep the two accumulators in lockstep per fill").
func ReferenceWhenHolding(state core.CycleState) decimal.Decimal {
	return moneymath.WeightedReferencePrice(state.CostAccumUSDT, state.BTCAccumNet, state.ATHPrice)
}

// Reference dispatches to ReferenceWhenFlat/ReferenceWhenHolding based on
// whether the cycle currently holds any BTC.
func Reference(state core.CycleState) decimal.Decimal {
	if state.BTCAccumulated.IsZero() {
		return ReferenceWhenFlat(state)
	}
	return ReferenceWhenHolding(state)
}

var hundred = decimal.NewFromInt(100)

// Snapshot builds the read-only Position Snapshot (SPEC_FULL §3) for
// operator/event consumption: cost basis is the weighted-average entry
// price for whatever BTC the cycle currently holds, unrealized PnL is
// that cost basis measured against livePrice, and purchases_made is
// simply the complement of purchases_remaining. A flat cycle
// (btc_accumulated == 0) has no position to mark, so cost basis and PnL
// are both zero rather than falling back to the ATH anchor.
func Snapshot(state core.CycleState, cfg core.StrategyConfig, livePrice decimal.Decimal) core.PositionSnapshot {
	snap := core.PositionSnapshot{
		CycleID:       state.CycleID,
		Status:        state.Status,
		PurchasesMade: cfg.MaxPurchases - state.PurchasesRemaining,
	}
	if state.BTCAccumulated.IsZero() {
		return snap
	}
	snap.CostBasis = ReferenceWhenHolding(state)
	if pnlPct, err := moneymath.DivSafe(livePrice.Sub(snap.CostBasis).Mul(hundred), snap.CostBasis, 4); err == nil {
		snap.UnrealizedPnLPct = pnlPct
	}
	return snap
}

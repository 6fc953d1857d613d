// Package trigger evaluates a closed candle against the current cycle
// state and strategy config to decide the next action (spec §4.8). Pure
// function, no I/O.
package trigger

import (
	"dcabot/internal/core"
	"dcabot/internal/pricing"

	"github.com/shopspring/decimal"
)

// Kind is the decision kind returned by Evaluate.
type Kind int

const (
	None Kind = iota
	Sell
	Buy
)

// Decision is the outcome of evaluating one closed candle. For Sell, Qty
// is the entire btc_accumulated. For Buy, USDT is the amount to spend.
type Decision struct {
	Kind Kind
	Qty  decimal.Decimal
	USDT decimal.Decimal
}

// Evaluate implements spec §4.8's ordering: sell first, then buy. It
// returns at most one decision per call — the Cycle Controller is
// responsible for re-evaluating after a sell resets the cycle if it
// wants a same-candle buy (spec §4.8's tie-break note). minNotional is
// the exchange's minimum order value for the symbol, used alongside
// min_buy_usdt per spec §4.8's "skip buy if amount < max(min_buy_usdt,
// min_notional)".
func Evaluate(candle core.Candle, state core.CycleState, cfg core.StrategyConfig, minNotional decimal.Decimal, haveFullWindow bool) Decision {
	if !cfg.IsActive {
		return Decision{Kind: None}
	}

	ref := pricing.Reference(state)

	if d, ok := evaluateSell(candle, state, cfg, ref); ok {
		return d
	}
	if d, ok := evaluateBuy(candle, state, cfg, ref, minNotional, haveFullWindow); ok {
		return d
	}
	return Decision{Kind: None}
}

func evaluateSell(candle core.Candle, state core.CycleState, cfg core.StrategyConfig, ref decimal.Decimal) (Decision, bool) {
	if !state.BTCAccumulated.GreaterThan(decimal.Zero) {
		return Decision{}, false
	}
	threshold := ref.Mul(decimal.NewFromInt(1).Add(cfg.RisePct))
	if candle.Close.GreaterThanOrEqual(threshold) {
		return Decision{Kind: Sell, Qty: state.BTCAccumulated}, true
	}
	return Decision{}, false
}

func evaluateBuy(candle core.Candle, state core.CycleState, cfg core.StrategyConfig, ref, minNotional decimal.Decimal, haveFullWindow bool) (Decision, bool) {
	if !haveFullWindow {
		// Fewer than 20 candles: sells still allowed to flatten a recovered
		// HOLDING cycle, but buys are blocked (spec §4.9 tie-break policy).
		return Decision{}, false
	}
	if state.PurchasesRemaining <= 0 {
		return Decision{}, false
	}
	threshold := ref.Mul(decimal.NewFromInt(1).Sub(cfg.DropPct))
	if candle.Close.GreaterThan(threshold) {
		return Decision{}, false
	}

	floor := cfg.MinBuyUSDT
	if minNotional.GreaterThan(floor) {
		floor = minNotional
	}

	amount := state.BuyAmountUSDT
	if state.PurchasesRemaining == 1 {
		amount = state.CapitalAvailableUSDT
	}
	if amount.LessThan(floor) {
		return Decision{}, false
	}
	return Decision{Kind: Buy, USDT: amount}, true
}

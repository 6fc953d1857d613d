package cyclectl

import (
	"context"
	"fmt"
	"time"

	"dcabot/internal/core"
	"dcabot/internal/moneymath"

	"github.com/shopspring/decimal"
)

// skipsAccounting reports whether an OrderOutcome represents "nothing
// happened" from the accounting ledger's point of view: never reached
// the exchange, expired with zero fill, or was never even attempted.
// These still get a TradeRecord (the attempt itself is worth recording)
// but never mutate capital_available_usdt/btc_accumulated/cost_accum_usdt.
func skipsAccounting(o core.OrderOutcome) bool {
	if o.FilledQty.Sign() <= 0 {
		return true
	}
	switch o.Status {
	case core.TradeRejectedLocally, core.TradeRejectedRemote:
		return true
	}
	return false
}

// applySell is spec §4.9's sell-leg accounting, shared between the
// live per-candle path (Controller.handleSell) and crash-recovery
// reconciliation (Reconcile). It is idempotent on clientOrderID: a
// second call with the same client_order_id is a no-op against
// CycleState, since store.TradeByClientOrderID already carries the
// first application's record (spec Scenario E / §8 "idempotent fill
// application").
func applySell(ctx context.Context, store core.CycleStore, cfg core.StrategyConfig, rules core.ExchangeRules, state core.CycleState, clientOrderID string, requestedPrice, requestedQty decimal.Decimal, outcome core.OrderOutcome) (core.CycleState, bool, decimal.Decimal, error) {
	if _, recorded, err := store.TradeByClientOrderID(ctx, clientOrderID); err == nil && recorded {
		return state, false, decimal.Zero, nil
	}

	now := time.Now()
	if err := store.SaveTrade(ctx, core.TradeRecord{
		CycleID:         state.CycleID,
		Side:            core.SideSell,
		ClientOrderID:   clientOrderID,
		ExchangeOrderID: outcome.OrderID,
		RequestedPrice:  requestedPrice,
		RequestedQty:    requestedQty,
		FilledPrice:     outcome.AvgPrice,
		FilledQty:       outcome.FilledQty,
		FeeBase:         outcome.FeeBase,
		FeeQuote:        outcome.FeeQuote,
		FeeOther:        outcome.FeeOther,
		Status:          outcome.Status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}); err != nil {
		return state, false, decimal.Zero, fmt.Errorf("cyclectl: save sell trade: %w", err)
	}
	if err := store.ResolveIntent(ctx, clientOrderID); err != nil {
		return state, false, decimal.Zero, fmt.Errorf("cyclectl: resolve sell intent: %w", err)
	}

	if skipsAccounting(outcome) {
		return state, false, decimal.Zero, nil
	}

	dustEpsilon := rules.Step
	if dustEpsilon.IsZero() {
		dustEpsilon = decimal.RequireFromString("0.00000001")
	}

	var fullSale bool
	var realizedProfit decimal.Decimal
	newState, err := store.Apply(ctx, state.Version, func(s core.CycleState) (core.CycleState, error) {
		referenceAtSale := moneymath.WeightedReferencePrice(s.CostAccumUSDT, s.BTCAccumNet, s.ATHPrice)
		netBTCSold := outcome.FilledQty.Sub(outcome.FeeBase)
		netUSDTReceived := outcome.QuoteQty.Sub(outcome.FeeQuote)

		s.BTCAccumulated = s.BTCAccumulated.Sub(netBTCSold)
		s.BTCSoldThisCycle = s.BTCSoldThisCycle.Add(netBTCSold)

		if s.BTCAccumulated.Abs().LessThanOrEqual(dustEpsilon) {
			// Full sale: the cycle resets (spec §4.9 step 3b).
			principal := referenceAtSale.Mul(s.BTCSoldThisCycle)
			realizedProfit = decimal.Max(decimal.Zero, netUSDTReceived.Sub(principal))

			s.CapitalAvailableUSDT = s.CapitalAvailableUSDT.Add(principal).Add(realizedProfit)
			s.BTCAccumulated = decimal.Zero
			s.CostAccumUSDT = decimal.Zero
			s.BTCAccumNet = decimal.Zero
			s.BTCSoldThisCycle = decimal.Zero
			s.PurchasesRemaining = cfg.MaxPurchases
			s.ReferencePrice = s.ATHPrice
			s.BuyAmountUSDT = s.CapitalAvailableUSDT.DivRound(decimal.NewFromInt(int64(cfg.MaxPurchases)), 8)
			s.Status = core.StatusReady
			fullSale = true
			return s, nil
		}

		// Partial sale: status HOLDING, reference_price and
		// purchases_remaining unchanged, capital_available_usdt untouched
		// (spec §4.9 step 3d / Scenario C — no profit realized yet). The
		// sold BTC's proceeds are not forgotten: they stay implicit in
		// btc_sold_this_cycle and settle in one lump sum, net of the full
		// position's cost basis, when the position is fully closed.
		s.Status = core.StatusHolding
		fullSale = false
		return s, nil
	})
	if err != nil {
		return state, false, decimal.Zero, err
	}
	return newState, fullSale, realizedProfit, nil
}

// applyBuy is spec §4.9's buy-leg accounting. Idempotent on
// clientOrderID for the same reasons as applySell.
func applyBuy(ctx context.Context, store core.CycleStore, cfg core.StrategyConfig, state core.CycleState, clientOrderID string, requestedPrice, requestedQty decimal.Decimal, outcome core.OrderOutcome) (core.CycleState, error) {
	if _, recorded, err := store.TradeByClientOrderID(ctx, clientOrderID); err == nil && recorded {
		return state, nil
	}

	now := time.Now()
	if err := store.SaveTrade(ctx, core.TradeRecord{
		CycleID:         state.CycleID,
		Side:            core.SideBuy,
		ClientOrderID:   clientOrderID,
		ExchangeOrderID: outcome.OrderID,
		RequestedPrice:  requestedPrice,
		RequestedQty:    requestedQty,
		FilledPrice:     outcome.AvgPrice,
		FilledQty:       outcome.FilledQty,
		FeeBase:         outcome.FeeBase,
		FeeQuote:        outcome.FeeQuote,
		FeeOther:        outcome.FeeOther,
		Status:          outcome.Status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}); err != nil {
		return state, fmt.Errorf("cyclectl: save buy trade: %w", err)
	}
	if err := store.ResolveIntent(ctx, clientOrderID); err != nil {
		return state, fmt.Errorf("cyclectl: resolve buy intent: %w", err)
	}

	if skipsAccounting(outcome) {
		return state, nil
	}

	newState, err := store.Apply(ctx, state.Version, func(s core.CycleState) (core.CycleState, error) {
		netBTCReceived := outcome.FilledQty.Sub(outcome.FeeBase)
		usdtSpent := outcome.QuoteQty.Add(outcome.FeeQuote)

		s.CostAccumUSDT = s.CostAccumUSDT.Add(outcome.QuoteQty).Add(outcome.FeeQuote).Add(outcome.FeeBase.Mul(outcome.AvgPrice))
		s.BTCAccumNet = s.BTCAccumNet.Add(netBTCReceived)
		s.BTCAccumulated = s.BTCAccumulated.Add(netBTCReceived)
		s.CapitalAvailableUSDT = s.CapitalAvailableUSDT.Sub(usdtSpent)
		s.ReferencePrice = moneymath.WeightedReferencePrice(s.CostAccumUSDT, s.BTCAccumNet, s.ATHPrice)
		s.PurchasesRemaining--
		s.Status = core.StatusHolding
		return s, nil
	})
	if err != nil {
		return state, err
	}
	return newState, nil
}

// Reconcile applies a crash-recovered PendingIntent's now-resolved
// outcome to CycleState (spec §4.9 Scenario E). It shares applySell and
// applyBuy's idempotent accounting with the normal per-candle path, so a
// reconciled fill — or a confirmed-never-placed order, which arrives
// here as a REJECTED_REMOTELY outcome and is simply discarded by
// skipsAccounting — updates CycleState exactly as it would have had the
// process never crashed mid-flight. Called by internal/supervisor's
// startup bootstrap once per pending intent, in intent creation order.
func Reconcile(ctx context.Context, store core.CycleStore, cfg core.StrategyConfig, rules core.ExchangeRules, state core.CycleState, intent core.PendingIntent, outcome core.OrderOutcome) (core.CycleState, error) {
	switch intent.Side {
	case core.OrderSideSell:
		newState, _, _, err := applySell(ctx, store, cfg, rules, state, intent.ClientOrderID, intent.Price, intent.Qty, outcome)
		return newState, err
	case core.OrderSideBuy:
		return applyBuy(ctx, store, cfg, state, intent.ClientOrderID, intent.Price, intent.Qty, outcome)
	default:
		return state, fmt.Errorf("cyclectl: reconcile: unknown order side %q", intent.Side)
	}
}

// Package safety runs pre-trade validation before the cycle controller
// starts acting on live candles. Adapted from the teacher's
// internal/safety/checker.go (SafetyChecker.CheckAccountSafety /
// CheckExchangeConnectivity), stripped of the futures/leverage/grid
// concerns that have no analogue in a single-pair spot DCA strategy
// (positions, account leverage, price-interval profitability) and
// re-grounded on the spot balance/exchange-rules checks SPEC_FULL
// actually needs before the first candle is processed.
package safety

import (
	"context"
	"fmt"

	"dcabot/internal/core"

	"github.com/shopspring/decimal"
)

// Checker validates exchange connectivity and account state before
// the supervisor starts the cycle controller.
type Checker struct {
	logger core.Logger
}

// NewChecker builds a Checker.
func NewChecker(logger core.Logger) *Checker {
	return &Checker{logger: logger.WithFields("component", "safety_checker")}
}

// CheckStartupSafety verifies the exchange is reachable, the symbol's
// trading rules can be fetched, and available USDT balance covers the
// strategy's configured initial capital. It does not check BTC balance:
// a fresh READY cycle never requires pre-existing BTC.
func (c *Checker) CheckStartupSafety(ctx context.Context, exchange core.ExchangeClient, cfg core.StrategyConfig, symbol string) error {
	c.logger.Info("running startup safety checks", "symbol", symbol)

	if err := exchange.Ping(ctx); err != nil {
		return fmt.Errorf("safety: exchange unreachable: %w", err)
	}

	rules, err := exchange.ExchangeRules(ctx, symbol)
	if err != nil {
		return fmt.Errorf("safety: failed to fetch exchange rules: %w", err)
	}
	if rules.Tick.IsZero() || rules.Step.IsZero() {
		return fmt.Errorf("safety: exchange rules for %s are incomplete (tick=%s step=%s)", symbol, rules.Tick, rules.Step)
	}

	balances, err := exchange.Balances(ctx)
	if err != nil {
		return fmt.Errorf("safety: failed to fetch account balances: %w", err)
	}

	if cfg.InitialCapitalUSDT.GreaterThan(decimal.Zero) && balances.USDT.LessThan(cfg.InitialCapitalUSDT) {
		return fmt.Errorf("safety: insufficient USDT balance: have %s, need %s",
			balances.USDT, cfg.InitialCapitalUSDT)
	}

	if err := ValidateBuySlotEconomics(cfg, rules); err != nil {
		return err
	}

	c.logger.Info("startup safety checks passed", "usdt_balance", balances.USDT, "symbol", symbol)
	return nil
}

// ValidateBuySlotEconomics checks that a single buy slot, if it were
// sized at the minimum floor, would still clear the exchange's
// min-notional filter — otherwise every buy trigger would be silently
// skipped per spec §4.8's "slot not consumed" rule and the strategy
// could never place an order.
func ValidateBuySlotEconomics(cfg core.StrategyConfig, rules core.ExchangeRules) error {
	floor := cfg.MinBuyUSDT
	if rules.MinNotional.GreaterThan(floor) {
		floor = rules.MinNotional
	}

	perSlot := cfg.InitialCapitalUSDT
	if cfg.MaxPurchases > 0 {
		perSlot = cfg.InitialCapitalUSDT.Div(decimal.NewFromInt(int64(cfg.MaxPurchases)))
	}

	if perSlot.LessThan(floor) {
		return fmt.Errorf("safety: per-slot buy amount %s is below the effective minimum %s (min_buy_usdt=%s, min_notional=%s) for max_purchases=%d — every buy would be skipped",
			perSlot, floor, cfg.MinBuyUSDT, rules.MinNotional, cfg.MaxPurchases)
	}
	return nil
}

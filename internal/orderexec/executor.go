// Package orderexec turns a trigger decision into an exchange order
// (spec §4.7): build and locally validate a limit-IOC order, then
// submit it with a rate limiter and a bounded, classification-driven
// retry loop. Grounded on the teacher's order.ExchangeOrderExecutor
// (rate.NewLimiter gating PlaceOrder, a retry loop keyed off error
// classification) adapted from the teacher's string-matched error
// codes to pkg/apperrors.Classify, and from the teacher's
// unconditional resubmit-on-any-error to ambiguity resolution via
// GetOrder before ever resubmitting under the same client_order_id.
//
// Building and submitting are split on purpose: Build performs no I/O
// and never needs a write-ahead record, so a locally rejected order
// (min_qty/max_qty/min_notional) never touches the store. Submit is
// handed an already-prepared order whose ClientOrderID the caller has
// already write-ahead persisted (spec §4.5/§4.7), keeping the
// persist-before-contact discipline at the call site where the
// store.Apply transaction boundary actually lives.
package orderexec

import (
	"context"
	"fmt"
	"time"

	"dcabot/internal/core"
	"dcabot/internal/moneymath"
	"dcabot/pkg/apperrors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const maxSubmitAttempts = 3

var retryBackoff = []time.Duration{200 * time.Millisecond, 800 * time.Millisecond}

// PreparedOrder is the result of a successful Build*, ready to be
// write-ahead persisted and then submitted.
type PreparedOrder struct {
	Symbol        string
	Side          core.OrderSide
	Price         decimal.Decimal
	Qty           decimal.Decimal
	ClientOrderID string
}

// Executor builds and submits limit-IOC orders against one
// core.ExchangeClient.
type Executor struct {
	exchange core.ExchangeClient
	logger   core.Logger
	limiter  *rate.Limiter
}

// New builds an Executor. DCA places at most one order per candle
// close, so the default limiter (5 req/s, burst 10) is far below the
// teacher's 25 req/s market-making rate — scaled down for a single-pair,
// single-order-at-a-time workload rather than copied verbatim.
func New(exchange core.ExchangeClient, logger core.Logger) *Executor {
	return &Executor{
		exchange: exchange,
		logger:   logger.WithFields("component", "orderexec"),
		limiter:  rate.NewLimiter(rate.Limit(5), 10),
	}
}

// WithLimiter overrides the default rate limiter, for tests that want
// to assert on throttling without waiting in real time.
func (e *Executor) WithLimiter(l *rate.Limiter) *Executor {
	e.limiter = l
	return e
}

// BuildBuy computes the buy limit price and quantity per spec §4.7
// (limit_price = round_to_tick_up(ref_close*(1+slippage)), qty =
// round_to_step_down(desired_usdt/limit_price)) and validates the
// result against the exchange's rules before any network call. A
// non-nil rejected return means the order never reaches the network;
// the caller records it as-is with no write-ahead step.
func (e *Executor) BuildBuy(symbol string, rules core.ExchangeRules, desiredUSDT, refClose, slippagePct decimal.Decimal) (PreparedOrder, *core.OrderOutcome) {
	limitPrice := moneymath.RoundToTickUp(refClose.Mul(decimal.NewFromInt(1).Add(slippagePct)), rules.Tick)
	if limitPrice.Sign() <= 0 {
		return PreparedOrder{}, rejectedLocally()
	}
	qty := moneymath.RoundToStepDown(desiredUSDT.DivRound(limitPrice, 16), rules.Step)
	return e.build(symbol, core.OrderSideBuy, limitPrice, qty, rules)
}

// BuildSell computes the sell limit price and quantity per spec §4.7
// (limit_price = round_to_tick_down(ref_close*(1-slippage)), qty =
// round_to_step_down(btc_to_sell)).
func (e *Executor) BuildSell(symbol string, rules core.ExchangeRules, btcToSell, refClose, slippagePct decimal.Decimal) (PreparedOrder, *core.OrderOutcome) {
	limitPrice := moneymath.RoundToTickDown(refClose.Mul(decimal.NewFromInt(1).Sub(slippagePct)), rules.Tick)
	if limitPrice.Sign() <= 0 {
		return PreparedOrder{}, rejectedLocally()
	}
	qty := moneymath.RoundToStepDown(btcToSell, rules.Step)
	return e.build(symbol, core.OrderSideSell, limitPrice, qty, rules)
}

func (e *Executor) build(symbol string, side core.OrderSide, price, qty decimal.Decimal, rules core.ExchangeRules) (PreparedOrder, *core.OrderOutcome) {
	if qty.Sign() <= 0 {
		return PreparedOrder{}, rejectedLocally()
	}
	if rules.MinQty.IsPositive() && qty.LessThan(rules.MinQty) {
		return PreparedOrder{}, rejectedLocally()
	}
	if rules.MaxQty.IsPositive() && qty.GreaterThan(rules.MaxQty) {
		return PreparedOrder{}, rejectedLocally()
	}
	if rules.MinNotional.IsPositive() && qty.Mul(price).LessThan(rules.MinNotional) {
		return PreparedOrder{}, rejectedLocally()
	}
	return PreparedOrder{
		Symbol:        symbol,
		Side:          side,
		Price:         price,
		Qty:           qty,
		ClientOrderID: uuid.NewString(),
	}, nil
}

func rejectedLocally() *core.OrderOutcome {
	return &core.OrderOutcome{Status: core.TradeRejectedLocally}
}

// Submit places a prepared order, retrying on a retryable classified
// error up to maxSubmitAttempts, and resolving an ambiguous submission
// (one that may have reached the exchange despite the error) via
// GetOrder before ever resubmitting under the same client_order_id.
// The caller must have write-ahead persisted prepared.ClientOrderID
// before calling Submit.
func (e *Executor) Submit(ctx context.Context, prepared PreparedOrder) (core.OrderOutcome, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return core.OrderOutcome{}, fmt.Errorf("orderexec: rate limiter wait: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxSubmitAttempts; attempt++ {
		outcome, err := e.exchange.PlaceLimitIOC(ctx, prepared.Symbol, prepared.Side, prepared.Price, prepared.Qty, prepared.ClientOrderID)
		if err == nil {
			return outcome, nil
		}
		lastErr = err

		switch apperrors.Classify(err) {
		case apperrors.ClassAmbiguous:
			resolved, lookupErr := e.exchange.GetOrder(ctx, prepared.Symbol, prepared.ClientOrderID)
			if lookupErr != nil {
				e.logger.Error("orderexec: ambiguous submission, GetOrder lookup also failed; not resubmitting", "client_order_id", prepared.ClientOrderID, "error", lookupErr)
				return core.OrderOutcome{}, fmt.Errorf("orderexec: ambiguous submission for client_order_id %s could not be resolved: %w", prepared.ClientOrderID, err)
			}
			if resolved.Status != core.TradeRejectedRemote {
				// The order really exists on the exchange; this is the
				// authoritative outcome. Resubmitting would duplicate it.
				return resolved, nil
			}
			// GetOrder confirms it never reached the exchange: safe to
			// resubmit under the same client_order_id.
			e.logger.Warn("orderexec: ambiguous submission resolved as not-placed, resubmitting", "client_order_id", prepared.ClientOrderID)
		case apperrors.ClassNonRetryable:
			e.logger.Error("orderexec: non-retryable order error, aborting", "client_order_id", prepared.ClientOrderID, "error", err)
			return core.OrderOutcome{Status: core.TradeRejectedRemote}, err
		case apperrors.ClassRetryable:
			e.logger.Warn("orderexec: retryable order error", "client_order_id", prepared.ClientOrderID, "attempt", attempt+1, "error", err)
		}

		if attempt < maxSubmitAttempts-1 {
			delay := retryBackoff[attempt%len(retryBackoff)]
			select {
			case <-ctx.Done():
				return core.OrderOutcome{}, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return core.OrderOutcome{}, fmt.Errorf("orderexec: exhausted %d submit attempts for client_order_id %s: %w", maxSubmitAttempts, prepared.ClientOrderID, lastErr)
}

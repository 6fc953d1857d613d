// Package mock is an in-memory core.ExchangeClient used by
// internal/cyclectl and internal/orderexec tests to drive the scenario
// suite without network access. Grounded on the teacher's
// internal/mock/engine_mocks.go (MockOrderExecutor: an in-memory
// id-keyed order map behind a mutex, instant-fill-by-default
// placement), adapted from the teacher's protobuf Order/PlaceOrderRequest
// shape to dcabot's core.OrderOutcome/core.OrderSide and extended with
// scriptable fill/error injection since dcabot's scenario suite (spec
// §7) requires precise control over partial fills, rejections, and
// ambiguous submissions that the teacher's always-succeeds mock never
// needed.
package mock

import (
	"context"
	"fmt"
	"sync"

	"dcabot/internal/core"

	"github.com/shopspring/decimal"
)

// FillPlan describes how the mock should resolve the next
// PlaceLimitIOC call. Zero value fully fills at the requested price
// with no fees.
type FillPlan struct {
	Status    core.TradeStatus
	FilledQty decimal.Decimal // zero means "fill the full requested qty"
	AvgPrice  decimal.Decimal // zero means "fill at the requested price"
	FeeBase   decimal.Decimal
	FeeQuote  decimal.Decimal
	Err       error // if set, PlaceLimitIOC returns this error instead
}

// Exchange is a scriptable in-memory core.ExchangeClient.
type Exchange struct {
	mu sync.Mutex

	rules     core.ExchangeRules
	balances  core.Balances
	pingErr   error
	nextID    int64
	orders    map[string]core.OrderOutcome // keyed by client_order_id
	fillPlans []FillPlan                   // consumed front-to-back per PlaceLimitIOC call; default plan used once exhausted

	candles chan core.Candle
	recent  []core.Candle
}

// New builds an Exchange pre-seeded with the given rules and balances.
func New(rules core.ExchangeRules, balances core.Balances) *Exchange {
	return &Exchange{
		rules:    rules,
		balances: balances,
		orders:   make(map[string]core.OrderOutcome),
		candles:  make(chan core.Candle, 64),
	}
}

// SetPingError makes Ping return err (nil to clear).
func (e *Exchange) SetPingError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pingErr = err
}

// SetBalances overwrites the current balance snapshot.
func (e *Exchange) SetBalances(b core.Balances) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances = b
}

// QueueFill schedules the outcome of the next PlaceLimitIOC call.
// Calls beyond the queued plans fill fully at the requested price.
func (e *Exchange) QueueFill(plan FillPlan) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fillPlans = append(e.fillPlans, plan)
}

// SeedOrder makes GetOrder return outcome for clientOrderID without
// having gone through PlaceLimitIOC — used to simulate an ambiguous
// submission that, on lookup, turns out to have actually reached the
// exchange.
func (e *Exchange) SeedOrder(clientOrderID string, outcome core.OrderOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orders[clientOrderID] = outcome
}

// SeedRecentKlines sets the candles FetchRecentKlines returns.
func (e *Exchange) SeedRecentKlines(candles []core.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recent = candles
}

// PushCandle delivers a candle to any active SubscribeKlines stream,
// simulating a closed kline arriving over the WebSocket.
func (e *Exchange) PushCandle(c core.Candle) {
	e.candles <- c
}

func (e *Exchange) Ping(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pingErr
}

func (e *Exchange) Balances(ctx context.Context) (core.Balances, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balances, nil
}

func (e *Exchange) ExchangeRules(ctx context.Context, symbol string) (core.ExchangeRules, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rules, nil
}

func (e *Exchange) FetchRecentKlines(ctx context.Context, symbol, timeframe string, n int) ([]core.Candle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n >= len(e.recent) {
		return append([]core.Candle{}, e.recent...), nil
	}
	return append([]core.Candle{}, e.recent[len(e.recent)-n:]...), nil
}

func (e *Exchange) SubscribeKlines(ctx context.Context, symbol, timeframe string) (<-chan core.Candle, error) {
	return e.candles, nil
}

func (e *Exchange) PlaceLimitIOC(ctx context.Context, symbol string, side core.OrderSide, price, qty decimal.Decimal, clientOrderID string) (core.OrderOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var plan FillPlan
	if len(e.fillPlans) > 0 {
		plan = e.fillPlans[0]
		e.fillPlans = e.fillPlans[1:]
		if plan.Status == "" {
			plan.Status = core.TradeFilled
		}
	} else {
		plan = FillPlan{Status: core.TradeFilled}
	}

	if plan.Err != nil {
		return core.OrderOutcome{}, plan.Err
	}

	filledQty := plan.FilledQty
	if filledQty.IsZero() && plan.Status != core.TradeExpired && plan.Status != core.TradeRejectedLocally && plan.Status != core.TradeRejectedRemote {
		filledQty = qty
	}
	avgPrice := plan.AvgPrice
	if avgPrice.IsZero() {
		avgPrice = price
	}

	e.nextID++
	quoteQty := filledQty.Mul(avgPrice)
	outcome := core.OrderOutcome{
		Status:    plan.Status,
		FilledQty: filledQty,
		QuoteQty:  quoteQty,
		AvgPrice:  avgPrice,
		FeeBase:   plan.FeeBase,
		FeeQuote:  plan.FeeQuote,
		OrderID:   fmt.Sprintf("mock-%d", e.nextID),
	}
	e.orders[clientOrderID] = outcome

	if filledQty.GreaterThan(decimal.Zero) {
		// A real exchange account's balance moves the instant an order
		// fills; mirror that here so a second query later in the same
		// tick (e.g. the controller's pre-buy drift check after a
		// same-candle sell) sees the proceeds.
		netBTC := filledQty.Sub(plan.FeeBase)
		netQuote := quoteQty.Sub(plan.FeeQuote)
		switch side {
		case core.OrderSideBuy:
			e.balances.BTC = e.balances.BTC.Add(netBTC)
			e.balances.USDT = e.balances.USDT.Sub(quoteQty.Add(plan.FeeQuote))
		case core.OrderSideSell:
			e.balances.BTC = e.balances.BTC.Sub(netBTC)
			e.balances.USDT = e.balances.USDT.Add(netQuote)
		}
	}

	return outcome, nil
}

func (e *Exchange) GetOrder(ctx context.Context, symbol, clientOrderID string) (core.OrderOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	outcome, ok := e.orders[clientOrderID]
	if !ok {
		return core.OrderOutcome{Status: core.TradeRejectedRemote}, nil
	}
	return outcome, nil
}

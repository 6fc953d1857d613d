// Package cyclectl implements the Cycle Controller (spec §4.9): the
// single writer of CycleState. It orchestrates every other component —
// asking internal/pricing for the reference price, internal/trigger for
// the sell/buy decision, internal/drift for the pre-trade safety check,
// internal/orderexec to place the order, and internal/pause to halt on
// a fatal condition — and is the only place a tick's outcome is ever
// persisted. Grounded on the teacher's internal/engine/simple.SimpleEngine:
// the same persist-before-apply discipline (a candidate snapshot is
// built, written, and only then reflected in any further decision),
// the same per-tick OTel tracer span plus counters/histograms, the same
// mutex-free single-goroutine ownership model (SimpleEngine instead
// guards with a mutex because it fields price/order/position updates
// concurrently; dcabot's supervisor hands candles to one Run loop, so
// there is only ever one goroutine inside onCandle at a time and no
// lock is needed).
package cyclectl

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"dcabot/internal/core"
	"dcabot/internal/drift"
	"dcabot/internal/orderexec"
	"dcabot/internal/pause"
	"dcabot/internal/pricing"
	"dcabot/internal/trigger"
	"dcabot/pkg/apperrors"
	"dcabot/pkg/telemetry"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// defaultRulesTTL bounds how long a cached ExchangeRules snapshot is
// trusted before a refresh is attempted (spec §5 "cached, refreshed on
// a schedule, treated as immutable between refreshes").
const defaultRulesTTL = 5 * time.Minute

// defaultPauseWindow is the rolling window ErrorCounter uses to count
// consecutive non-retryable order failures (spec §4.10 "≥3 ... within a
// configured window").
const defaultPauseWindow = 10 * time.Minute

// Controller is the Cycle Controller. One Controller drives exactly one
// symbol; dcabot is single-pair, so one process runs exactly one.
type Controller struct {
	store    core.CycleStore
	exchange core.ExchangeClient
	executor *orderexec.Executor
	sink     core.EventSink
	logger   core.Logger
	cfg      core.StrategyConfig
	symbol   string

	candles  <-chan core.Candle
	windowFn func() []core.Candle

	errCounter *pause.ErrorCounter

	rulesCache core.ExchangeRules
	rulesAt    time.Time
	rulesTTL   time.Duration

	tracer  trace.Tracer
	metrics *telemetry.MetricsHolder
}

// New builds a Controller. candles is the closed-candle stream (typically
// internal/intake.Intake.Candles()); windowFn returns the current rolling
// ATH window (internal/intake.Intake.Window()).
func New(store core.CycleStore, exchange core.ExchangeClient, executor *orderexec.Executor, sink core.EventSink, logger core.Logger, cfg core.StrategyConfig, symbol string, candles <-chan core.Candle, windowFn func() []core.Candle) *Controller {
	return &Controller{
		store:      store,
		exchange:   exchange,
		executor:   executor,
		sink:       sink,
		logger:     logger.WithFields("component", "cyclectl", "symbol", symbol),
		cfg:        cfg,
		symbol:     symbol,
		candles:    candles,
		windowFn:   windowFn,
		errCounter: pause.NewErrorCounter(defaultPauseWindow),
		rulesTTL:   defaultRulesTTL,
		tracer:     telemetry.GetTracer("cycle-controller"),
		metrics:    telemetry.GetGlobalMetrics(),
	}
}

// Run consumes closed candles until ctx is canceled or the channel
// closes. It implements supervisor.Runner.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case candle, ok := <-c.candles:
			if !ok {
				return nil
			}
			c.onCandle(ctx, candle)
		}
	}
}

// onCandle is spec §4.9's per-candle procedure end to end. Errors are
// logged and surfaced as events, never returned: a single bad tick must
// not take down the process, since PAUSE — not process exit — is the
// controller's own mechanism for "stop trading, stay observable."
func (c *Controller) onCandle(ctx context.Context, candle core.Candle) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "cyclectl.OnCandle",
		trace.WithAttributes(
			attribute.String("symbol", c.symbol),
			attribute.String("close_time", candle.CloseTime.String()),
		),
	)
	defer span.End()

	state, err := c.store.Load(ctx, c.cfg)
	if err != nil {
		c.logger.Error("failed to load cycle state, skipping tick", "error", err)
		span.RecordError(err)
		return
	}

	// Step 1: PAUSED cycles ignore the candle entirely.
	if state.Status == core.StatusPaused {
		c.emitHeartbeat(state)
		return
	}

	window := c.windowFn()
	haveFullWindow := len(window) >= core.ATHWindow

	// Step 2: refresh ATH while flat. HOLDING cycles leave ath_price to
	// lag (spec §4.9 tie-break policy); it is not consulted while holding.
	if state.BTCAccumulated.IsZero() {
		if ath, ok := pricing.ComputeATH(window); ok && !ath.Equal(state.ATHPrice) {
			refreshed, err := c.store.Apply(ctx, state.Version, func(s core.CycleState) (core.CycleState, error) {
				s.ATHPrice = ath
				s.ReferencePrice = ath
				return s, nil
			})
			if err != nil {
				c.handleApplyError(ctx, state, err)
				return
			}
			state = refreshed
		}
	}

	rules, err := c.exchangeRules(ctx)
	if err != nil {
		c.logger.Error("exchange rules unavailable, skipping tick", "error", err)
		span.RecordError(err)
		return
	}

	// Steps 3-4: sell first, then buy — trigger.Evaluate already encodes
	// the ordering and the "at most one decision" contract.
	decision := trigger.Evaluate(candle, state, c.cfg, rules.MinNotional, haveFullWindow)
	switch decision.Kind {
	case trigger.Sell:
		res := c.handleSell(ctx, candle, state, rules, decision)
		state = res.state
		if res.aborted {
			break
		}
		if res.fullSale {
			// Tie-break: a same-candle buy is only considered when the
			// sell fully closed the cycle (spec §4.8/§4.9).
			again := trigger.Evaluate(candle, state, c.cfg, rules.MinNotional, haveFullWindow)
			if again.Kind == trigger.Buy {
				c.handleBuy(ctx, candle, state, rules, again)
			}
		}
	case trigger.Buy:
		c.handleBuy(ctx, candle, state, rules, decision)
	case trigger.None:
	}

	c.metrics.TickToDecisionLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
}

// exchangeRules returns the cached ExchangeRules snapshot, refreshing it
// once rulesTTL has elapsed. A refresh failure falls back to the stale
// cache rather than stalling the tick, since tick/step/min_notional
// change rarely and a momentarily unreachable exchange should not block
// an otherwise-healthy PAUSED-free tick.
func (c *Controller) exchangeRules(ctx context.Context) (core.ExchangeRules, error) {
	if !c.rulesAt.IsZero() && time.Since(c.rulesAt) < c.rulesTTL {
		return c.rulesCache, nil
	}
	rules, err := c.exchange.ExchangeRules(ctx, c.symbol)
	if err != nil {
		if !c.rulesAt.IsZero() {
			c.logger.Warn("exchange rules refresh failed, using stale cache", "error", err)
			return c.rulesCache, nil
		}
		return core.ExchangeRules{}, err
	}
	c.rulesCache = rules
	c.rulesAt = time.Now()
	return rules, nil
}

// sellResult carries handleSell's outcome back to onCandle: the
// post-attempt state, whether it was a full-sale cycle reset, and
// whether processing should stop for this tick (pause or a hard I/O
// fault means no same-candle buy re-evaluation should occur).
type sellResult struct {
	state    core.CycleState
	fullSale bool
	aborted  bool
}

// handleSell implements spec §4.9 step 3.
func (c *Controller) handleSell(ctx context.Context, candle core.Candle, state core.CycleState, rules core.ExchangeRules, decision trigger.Decision) sellResult {
	balances, err := c.exchange.Balances(ctx)
	if err != nil {
		c.logger.Error("balances fetch failed, skipping sell", "error", err)
		c.emitTradeFailed(state, core.SideSell, "balances fetch failed: "+err.Error())
		return sellResult{state: state, aborted: true}
	}
	if result := drift.Check(balances, state); result.Halted {
		c.pauseForDrift(ctx, state, result)
		return sellResult{state: state, aborted: true}
	}

	prepared, rejected := c.executor.BuildSell(c.symbol, rules, decision.Qty, candle.Close, c.cfg.SlippageSellPct)
	if rejected != nil {
		c.emitTradeFailed(state, core.SideSell, "sell rejected locally (min_qty/max_qty/min_notional)")
		return sellResult{state: state, aborted: true}
	}

	if err := c.writeAhead(ctx, state, core.OrderSideSell, prepared); err != nil {
		c.logger.Error("write-ahead persist failed, aborting sell", "error", err)
		return sellResult{state: state, aborted: true}
	}

	outcome, err := c.executor.Submit(ctx, prepared)
	if err != nil {
		c.recordOrderFailure(ctx, state, err)
		_ = c.store.ResolveIntent(ctx, prepared.ClientOrderID)
		c.emitTradeFailed(state, core.SideSell, "sell submission failed: "+err.Error())
		return sellResult{state: state, aborted: true}
	}

	newState, fullSale, profit, err := applySell(ctx, c.store, c.cfg, rules, state, prepared.ClientOrderID, prepared.Price, prepared.Qty, outcome)
	if err != nil {
		c.handleApplyError(ctx, state, err)
		return sellResult{state: state, aborted: true}
	}

	c.errCounter.Reset()
	c.recordFillMetrics(newState, outcome)
	if fullSale {
		c.emitCycleComplete(newState, profit)
	}
	if outcome.FilledQty.IsZero() {
		c.emitTradeFailed(state, core.SideSell, fmt.Sprintf("sell %s with zero fill", outcome.Status))
	} else {
		c.emitTradeExecuted(newState, core.SideSell, outcome, candle.Close)
	}
	return sellResult{state: newState, fullSale: fullSale}
}

// handleBuy implements spec §4.9 step 4.
func (c *Controller) handleBuy(ctx context.Context, candle core.Candle, state core.CycleState, rules core.ExchangeRules, decision trigger.Decision) core.CycleState {
	balances, err := c.exchange.Balances(ctx)
	if err != nil {
		c.logger.Error("balances fetch failed, skipping buy", "error", err)
		c.emitTradeFailed(state, core.SideBuy, "balances fetch failed: "+err.Error())
		return state
	}
	if result := drift.Check(balances, state); result.Halted {
		c.pauseForDrift(ctx, state, result)
		return state
	}

	prepared, rejected := c.executor.BuildBuy(c.symbol, rules, decision.USDT, candle.Close, c.cfg.SlippageBuyPct)
	if rejected != nil {
		c.emitTradeFailed(state, core.SideBuy, "buy rejected locally (min_qty/max_qty/min_notional)")
		return state
	}

	if err := c.writeAhead(ctx, state, core.OrderSideBuy, prepared); err != nil {
		c.logger.Error("write-ahead persist failed, aborting buy", "error", err)
		return state
	}

	outcome, err := c.executor.Submit(ctx, prepared)
	if err != nil {
		c.recordOrderFailure(ctx, state, err)
		_ = c.store.ResolveIntent(ctx, prepared.ClientOrderID)
		c.emitTradeFailed(state, core.SideBuy, "buy submission failed: "+err.Error())
		return state
	}

	newState, err := applyBuy(ctx, c.store, c.cfg, state, prepared.ClientOrderID, prepared.Price, prepared.Qty, outcome)
	if err != nil {
		c.handleApplyError(ctx, state, err)
		return state
	}

	c.errCounter.Reset()
	c.recordFillMetrics(newState, outcome)
	if outcome.FilledQty.IsZero() {
		c.emitTradeFailed(state, core.SideBuy, fmt.Sprintf("buy %s with zero fill", outcome.Status))
	} else {
		c.emitTradeExecuted(newState, core.SideBuy, outcome, candle.Close)
	}
	return newState
}

func (c *Controller) writeAhead(ctx context.Context, state core.CycleState, side core.OrderSide, prepared orderexec.PreparedOrder) error {
	return c.store.WriteAheadIntent(ctx, core.PendingIntent{
		ClientOrderID: prepared.ClientOrderID,
		CycleID:       state.CycleID,
		Side:          side,
		Price:         prepared.Price,
		Qty:           prepared.Qty,
		CreatedAt:     time.Now().Format(time.RFC3339Nano),
	})
}

// recordOrderFailure feeds a terminal submission error into the
// consecutive-error counter and trips PAUSED once the threshold is
// reached (spec §4.10).
func (c *Controller) recordOrderFailure(ctx context.Context, state core.CycleState, cause error) {
	if apperrors.Classify(cause) != apperrors.ClassNonRetryable {
		return
	}
	if !c.errCounter.Record(time.Now()) {
		return
	}
	detail := fmt.Sprintf("consecutive non-retryable order errors, last: %v", cause)
	if _, err := pause.Trip(ctx, c.store, state, core.PauseReasonConsecutiveErrors, detail, time.Now()); err != nil {
		c.logger.Error("failed to persist pause after error burst", "error", err)
		return
	}
	c.emitPause(state, core.PauseReasonConsecutiveErrors, detail)
}

// pauseForDrift trips PAUSED on a drift HALT, per spec §4.9 step 3a/4a
// ("on HALT, pause, return") and §4.10.
func (c *Controller) pauseForDrift(ctx context.Context, state core.CycleState, result drift.Result) {
	detail := fmt.Sprintf("%s drift %s exceeds threshold %s", result.Which, result.Value, result.Threshold)
	if _, err := pause.Trip(ctx, c.store, state, core.PauseReasonDriftHalt, detail, time.Now()); err != nil {
		c.logger.Error("failed to persist pause after drift halt", "error", err)
		return
	}
	c.sink.Accept(core.Event{
		Type:       core.EventDriftHalt,
		Severity:   core.SeverityCritical,
		Message:    detail,
		Metadata:   map[string]string{"cycle_id": state.CycleID, "which": string(result.Which)},
		OccurredAt: time.Now(),
	})
	c.emitPause(state, core.PauseReasonDriftHalt, detail)
}

// handleApplyError maps a store.Apply failure onto spec §7's policy:
// an invariant violation pauses immediately; a version conflict is
// transient (another write raced this one) and simply retried next
// tick, since the controller reloads state at the top of every tick.
func (c *Controller) handleApplyError(ctx context.Context, state core.CycleState, err error) {
	if errors.Is(err, apperrors.ErrInvariantViolation) {
		detail := err.Error()
		if _, perr := pause.Trip(ctx, c.store, state, core.PauseReasonInvariantViolation, detail, time.Now()); perr != nil {
			c.logger.Error("failed to persist pause after invariant violation", "error", perr)
			return
		}
		c.emitPause(state, core.PauseReasonInvariantViolation, detail)
		return
	}
	if errors.Is(err, apperrors.ErrVersionConflict) {
		c.logger.Warn("version conflict applying cycle state, retrying next tick", "cycle_id", state.CycleID)
		return
	}
	c.logger.Error("apply failed", "error", err)
}

func (c *Controller) emitHeartbeat(state core.CycleState) {
	c.sink.Accept(core.Event{
		Type:       core.EventHeartbeat,
		Severity:   core.SeverityInfo,
		Metadata:   map[string]string{"cycle_id": state.CycleID},
		OccurredAt: time.Now(),
	})
}

func (c *Controller) emitPause(state core.CycleState, reason core.PauseReason, detail string) {
	c.sink.Accept(core.Event{
		Type:       core.EventPause,
		Severity:   core.SeverityCritical,
		Message:    detail,
		Metadata:   map[string]string{"cycle_id": state.CycleID, "reason": string(reason)},
		OccurredAt: time.Now(),
	})
}

func (c *Controller) emitTradeExecuted(state core.CycleState, side core.TradeSide, outcome core.OrderOutcome, livePrice decimal.Decimal) {
	snap := pricing.Snapshot(state, c.cfg, livePrice)
	c.sink.Accept(core.Event{
		Type:     core.EventTradeExecuted,
		Severity: core.SeverityInfo,
		Metadata: map[string]string{
			"cycle_id":           state.CycleID,
			"side":               string(side),
			"status":             string(outcome.Status),
			"cost_basis":         snap.CostBasis.String(),
			"unrealized_pnl_pct": snap.UnrealizedPnLPct.String(),
			"purchases_made":     strconv.Itoa(snap.PurchasesMade),
		},
		OccurredAt: time.Now(),
	})
}

func (c *Controller) emitTradeFailed(state core.CycleState, side core.TradeSide, reason string) {
	c.sink.Accept(core.Event{
		Type:       core.EventTradeFailed,
		Severity:   core.SeverityWarning,
		Message:    reason,
		Metadata:   map[string]string{"cycle_id": state.CycleID, "side": string(side)},
		OccurredAt: time.Now(),
	})
}

func (c *Controller) emitCycleComplete(state core.CycleState, realizedProfit decimal.Decimal) {
	snap := pricing.Snapshot(state, c.cfg, decimal.Zero)
	c.sink.Accept(core.Event{
		Type:     core.EventCycleComplete,
		Severity: core.SeverityInfo,
		Metadata: map[string]string{
			"cycle_id":        state.CycleID,
			"realized_profit": realizedProfit.String(),
			"purchases_made":  strconv.Itoa(snap.PurchasesMade),
		},
		OccurredAt: time.Now(),
	})
	profit, _ := realizedProfit.Float64()
	c.metrics.CyclePnLRealizedTotal.Add(context.Background(), profit)
	capital, _ := state.CapitalAvailableUSDT.Float64()
	c.metrics.SetCapitalAvailable(state.CycleID, capital)
}

// recordFillMetrics updates the observability gauges/counters after any
// applied fill (spec SPEC_FULL §9 "ambient stack"). Gauges only; trading
// decisions never read these back.
func (c *Controller) recordFillMetrics(state core.CycleState, outcome core.OrderOutcome) {
	c.metrics.OrdersPlacedTotal.Add(context.Background(), 1)
	if outcome.FilledQty.GreaterThan(decimal.Zero) {
		c.metrics.OrdersFilledTotal.Add(context.Background(), 1)
	}
	capital, _ := state.CapitalAvailableUSDT.Float64()
	btc, _ := state.BTCAccumulated.Float64()
	c.metrics.SetCapitalAvailable(state.CycleID, capital)
	c.metrics.SetBTCAccumulated(state.CycleID, btc)
	c.metrics.SetPurchasesRemaining(state.CycleID, int64(state.PurchasesRemaining))
	c.metrics.SetPauseState(state.CycleID, state.Status == core.StatusPaused)
}

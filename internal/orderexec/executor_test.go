package orderexec

import (
	"context"
	"errors"
	"testing"

	"dcabot/internal/core"
	"dcabot/internal/exchange/mock"
	"dcabot/pkg/apperrors"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type noopLogger struct{}

func (l *noopLogger) Debug(msg string, kv ...interface{})      {}
func (l *noopLogger) Info(msg string, kv ...interface{})       {}
func (l *noopLogger) Warn(msg string, kv ...interface{})       {}
func (l *noopLogger) Error(msg string, kv ...interface{})      {}
func (l *noopLogger) WithFields(kv ...interface{}) core.Logger { return l }
func (l *noopLogger) Sync() error                              { return nil }

var testRules = core.ExchangeRules{
	Tick:        dec("0.01"),
	Step:        dec("0.00001"),
	MinQty:      dec("0.0001"),
	MaxQty:      dec("10"),
	MinNotional: dec("10"),
}

func unthrottled(e *Executor) *Executor {
	return e.WithLimiter(rate.NewLimiter(rate.Inf, 1))
}

func TestBuildBuyRoundsPriceUpAndQtyDown(t *testing.T) {
	e := unthrottled(New(mock.New(testRules, core.Balances{}), &noopLogger{}))

	prepared, rejected := e.BuildBuy("BTCUSDT", testRules, dec("100"), dec("50000"), dec("0.001"))
	if rejected != nil {
		t.Fatalf("unexpected rejection: %+v", rejected)
	}
	// ref_close*(1+slippage) = 50050, tick 0.01 already aligned.
	if !prepared.Price.Equal(dec("50050")) {
		t.Errorf("expected limit price 50050, got %s", prepared.Price)
	}
	if prepared.Qty.GreaterThan(dec("100").DivRound(dec("50050"), 16)) {
		t.Errorf("qty should be floored, got %s", prepared.Qty)
	}
	if prepared.ClientOrderID == "" {
		t.Error("expected a generated client_order_id")
	}
}

func TestBuildSellRoundsPriceDown(t *testing.T) {
	e := unthrottled(New(mock.New(testRules, core.Balances{}), &noopLogger{}))

	prepared, rejected := e.BuildSell("BTCUSDT", testRules, dec("0.01"), dec("50000"), dec("0.001"))
	if rejected != nil {
		t.Fatalf("unexpected rejection: %+v", rejected)
	}
	if !prepared.Price.Equal(dec("49950")) {
		t.Errorf("expected limit price 49950, got %s", prepared.Price)
	}
	if !prepared.Qty.Equal(dec("0.01")) {
		t.Errorf("expected qty 0.01, got %s", prepared.Qty)
	}
}

func TestBuildRejectsLocallyBelowMinNotionalWithoutContactingExchange(t *testing.T) {
	ex := mock.New(testRules, core.Balances{})
	e := unthrottled(New(ex, &noopLogger{}))

	// 6 USDT at 50050 floors to 0.00011 BTC, above min_qty 0.0001, but
	// its notional 5.5055 is below min_notional 10.
	_, rejected := e.BuildBuy("BTCUSDT", testRules, dec("6"), dec("50000"), dec("0.001"))
	if rejected == nil || rejected.Status != core.TradeRejectedLocally {
		t.Fatalf("expected REJECTED_LOCALLY, got %+v", rejected)
	}
}

func TestBuildRejectsLocallyBelowMinQty(t *testing.T) {
	e := unthrottled(New(mock.New(testRules, core.Balances{}), &noopLogger{}))

	_, rejected := e.BuildSell("BTCUSDT", testRules, dec("0.00001"), dec("50000"), dec("0.001"))
	if rejected == nil || rejected.Status != core.TradeRejectedLocally {
		t.Fatalf("expected REJECTED_LOCALLY, got %+v", rejected)
	}
}

func TestBuildRejectsLocallyAboveMaxQty(t *testing.T) {
	e := unthrottled(New(mock.New(testRules, core.Balances{}), &noopLogger{}))

	_, rejected := e.BuildSell("BTCUSDT", testRules, dec("11"), dec("50000"), dec("0.001"))
	if rejected == nil || rejected.Status != core.TradeRejectedLocally {
		t.Fatalf("expected REJECTED_LOCALLY, got %+v", rejected)
	}
}

func TestSubmitReturnsFillOnSuccess(t *testing.T) {
	ex := mock.New(testRules, core.Balances{})
	e := unthrottled(New(ex, &noopLogger{}))

	prepared, rejected := e.BuildBuy("BTCUSDT", testRules, dec("100"), dec("50000"), dec("0.001"))
	if rejected != nil {
		t.Fatalf("unexpected rejection: %+v", rejected)
	}

	outcome, err := e.Submit(context.Background(), prepared)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != core.TradeFilled {
		t.Errorf("expected FILLED, got %s", outcome.Status)
	}
}

func TestSubmitRetriesOnRetryableError(t *testing.T) {
	ex := mock.New(testRules, core.Balances{})
	ex.QueueFill(mock.FillPlan{Err: apperrors.ErrNetwork})
	e := unthrottled(New(ex, &noopLogger{}))

	prepared, _ := e.BuildBuy("BTCUSDT", testRules, dec("100"), dec("50000"), dec("0.001"))
	outcome, err := e.Submit(context.Background(), prepared)
	if err != nil {
		t.Fatalf("expected retry to succeed, got error: %v", err)
	}
	if outcome.Status != core.TradeFilled {
		t.Errorf("expected FILLED after retry, got %s", outcome.Status)
	}
}

func TestSubmitAbortsImmediatelyOnNonRetryableError(t *testing.T) {
	ex := mock.New(testRules, core.Balances{})
	ex.QueueFill(mock.FillPlan{Err: apperrors.ErrInsufficientFunds})
	ex.QueueFill(mock.FillPlan{Status: core.TradeFilled}) // would succeed if (wrongly) retried
	e := unthrottled(New(ex, &noopLogger{}))

	prepared, _ := e.BuildBuy("BTCUSDT", testRules, dec("100"), dec("50000"), dec("0.001"))
	outcome, err := e.Submit(context.Background(), prepared)
	if err == nil {
		t.Fatal("expected non-retryable error to propagate")
	}
	if !errors.Is(err, apperrors.ErrInsufficientFunds) {
		t.Errorf("expected wrapped ErrInsufficientFunds, got %v", err)
	}
	if outcome.Status != core.TradeRejectedRemote {
		t.Errorf("expected REJECTED_REMOTELY outcome, got %s", outcome.Status)
	}
}

func TestSubmitResubmitsAfterAmbiguousResolvesAsNotPlaced(t *testing.T) {
	ex := mock.New(testRules, core.Balances{})
	ex.QueueFill(mock.FillPlan{Err: apperrors.ErrAmbiguousSubmission})
	e := unthrottled(New(ex, &noopLogger{}))

	prepared, _ := e.BuildBuy("BTCUSDT", testRules, dec("100"), dec("50000"), dec("0.001"))
	outcome, err := e.Submit(context.Background(), prepared)
	if err != nil {
		t.Fatalf("expected resubmit to succeed, got error: %v", err)
	}
	if outcome.Status != core.TradeFilled {
		t.Errorf("expected FILLED after resubmit, got %s", outcome.Status)
	}
}

func TestSubmitReturnsAuthoritativeOutcomeWhenAmbiguousResolvesAsPlaced(t *testing.T) {
	ex := mock.New(testRules, core.Balances{})
	e := unthrottled(New(ex, &noopLogger{}))

	prepared, _ := e.BuildBuy("BTCUSDT", testRules, dec("100"), dec("50000"), dec("0.001"))
	// Simulate the order actually having reached the exchange despite the
	// client-visible error: seed its outcome before the ambiguous call.
	ex.SeedOrder(prepared.ClientOrderID, core.OrderOutcome{Status: core.TradePartiallyFilled, FilledQty: dec("0.001")})
	ex.QueueFill(mock.FillPlan{Err: apperrors.ErrAmbiguousSubmission})

	outcome, err := e.Submit(context.Background(), prepared)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != core.TradePartiallyFilled {
		t.Errorf("expected authoritative PARTIALLY_FILLED outcome, got %s", outcome.Status)
	}
}

func TestSubmitExhaustsRetriesAndReturnsError(t *testing.T) {
	ex := mock.New(testRules, core.Balances{})
	for i := 0; i < maxSubmitAttempts; i++ {
		ex.QueueFill(mock.FillPlan{Err: apperrors.ErrNetwork})
	}
	e := unthrottled(New(ex, &noopLogger{}))

	prepared, _ := e.BuildBuy("BTCUSDT", testRules, dec("100"), dec("50000"), dec("0.001"))
	_, err := e.Submit(context.Background(), prepared)
	if err == nil {
		t.Fatal("expected exhausted-retries error")
	}
	if !errors.Is(err, apperrors.ErrNetwork) {
		t.Errorf("expected wrapped ErrNetwork, got %v", err)
	}
}

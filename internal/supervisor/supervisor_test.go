package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"dcabot/internal/core"
	"dcabot/internal/store"

	"github.com/shopspring/decimal"
)

type fakeExchange struct {
	order core.OrderOutcome
}

func (f *fakeExchange) SubscribeKlines(ctx context.Context, symbol, timeframe string) (<-chan core.Candle, error) {
	return nil, nil
}
func (f *fakeExchange) FetchRecentKlines(ctx context.Context, symbol, timeframe string, n int) ([]core.Candle, error) {
	return nil, nil
}
func (f *fakeExchange) ExchangeRules(ctx context.Context, symbol string) (core.ExchangeRules, error) {
	return core.ExchangeRules{
		Tick: decimal.RequireFromString("0.01"), Step: decimal.RequireFromString("0.00001"),
		MinQty: decimal.RequireFromString("0.00001"), MaxQty: decimal.RequireFromString("100"),
		MinNotional: decimal.RequireFromString("10"),
	}, nil
}
func (f *fakeExchange) PlaceLimitIOC(ctx context.Context, symbol string, side core.OrderSide, price, qty decimal.Decimal, clientOrderID string) (core.OrderOutcome, error) {
	return core.OrderOutcome{}, nil
}
func (f *fakeExchange) GetOrder(ctx context.Context, symbol, clientOrderID string) (core.OrderOutcome, error) {
	return f.order, nil
}
func (f *fakeExchange) Balances(ctx context.Context) (core.Balances, error) {
	return core.Balances{USDT: decimal.RequireFromString("1000")}, nil
}
func (f *fakeExchange) Ping(ctx context.Context) error { return nil }

type failingPingExchange struct{ fakeExchange }

func (f *failingPingExchange) Ping(ctx context.Context) error { return errors.New("unreachable") }

type noopLogger struct{}

func (l *noopLogger) Debug(msg string, kv ...interface{})      {}
func (l *noopLogger) Info(msg string, kv ...interface{})       {}
func (l *noopLogger) Warn(msg string, kv ...interface{})       {}
func (l *noopLogger) Error(msg string, kv ...interface{})      {}
func (l *noopLogger) WithFields(kv ...interface{}) core.Logger { return l }
func (l *noopLogger) Sync() error                              { return nil }

func testConfig() core.StrategyConfig {
	return core.StrategyConfig{
		MaxPurchases:       10,
		MinBuyUSDT:         decimal.RequireFromString("10"),
		InitialCapitalUSDT: decimal.RequireFromString("1000"),
	}
}

func TestBootstrapReconcilesPendingIntents(t *testing.T) {
	ms := store.NewMemoryStore()
	intent := core.PendingIntent{
		ClientOrderID: "coid-1",
		CycleID:       "cycle-1",
		Side:          core.OrderSideBuy,
		Price:         decimal.RequireFromString("50000"),
		Qty:           decimal.RequireFromString("0.001"),
	}
	if err := ms.WriteAheadIntent(context.Background(), intent); err != nil {
		t.Fatalf("seed intent: %v", err)
	}

	ex := &fakeExchange{order: core.OrderOutcome{Status: core.TradeFilled}}
	sup := New(&noopLogger{}, ms, ex, "BTCUSDT")

	if err := sup.Bootstrap(context.Background(), testConfig()); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}

	pending, err := ms.PendingIntents(context.Background())
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected intent to be resolved, %d still pending", len(pending))
	}
}

func TestBootstrapFailsSafetyCheckOnUnreachableExchange(t *testing.T) {
	ms := store.NewMemoryStore()
	ex := &failingPingExchange{}
	sup := New(&noopLogger{}, ms, ex, "BTCUSDT")

	if err := sup.Bootstrap(context.Background(), testConfig()); err == nil {
		t.Fatal("expected bootstrap to fail when exchange is unreachable")
	}
}

type stubRunner struct {
	started chan struct{}
}

func (r *stubRunner) Run(ctx context.Context) error {
	close(r.started)
	<-ctx.Done()
	return nil
}

func TestRunWithContextStopsRunnersOnCancel(t *testing.T) {
	ms := store.NewMemoryStore()
	ex := &fakeExchange{}
	sup := New(&noopLogger{}, ms, ex, "BTCUSDT")

	runner := &stubRunner{started: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- sup.RunWithContext(ctx, runner) }()

	select {
	case <-runner.started:
	case <-time.After(time.Second):
		t.Fatal("runner did not start")
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop after context cancel")
	}
}

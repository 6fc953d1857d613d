package safety

import (
	"context"
	"testing"

	"dcabot/internal/core"

	"github.com/shopspring/decimal"
)

type stubExchange struct {
	pingErr    error
	rules      core.ExchangeRules
	rulesErr   error
	balances   core.Balances
	balanceErr error
}

func (s *stubExchange) SubscribeKlines(ctx context.Context, symbol, timeframe string) (<-chan core.Candle, error) {
	return nil, nil
}
func (s *stubExchange) FetchRecentKlines(ctx context.Context, symbol, timeframe string, n int) ([]core.Candle, error) {
	return nil, nil
}
func (s *stubExchange) ExchangeRules(ctx context.Context, symbol string) (core.ExchangeRules, error) {
	return s.rules, s.rulesErr
}
func (s *stubExchange) PlaceLimitIOC(ctx context.Context, symbol string, side core.OrderSide, price, qty decimal.Decimal, clientOrderID string) (core.OrderOutcome, error) {
	return core.OrderOutcome{}, nil
}
func (s *stubExchange) GetOrder(ctx context.Context, symbol, clientOrderID string) (core.OrderOutcome, error) {
	return core.OrderOutcome{}, nil
}
func (s *stubExchange) Balances(ctx context.Context) (core.Balances, error) {
	return s.balances, s.balanceErr
}
func (s *stubExchange) Ping(ctx context.Context) error { return s.pingErr }

type noopLogger struct{}

func (l *noopLogger) Debug(msg string, kv ...interface{})      {}
func (l *noopLogger) Info(msg string, kv ...interface{})       {}
func (l *noopLogger) Warn(msg string, kv ...interface{})       {}
func (l *noopLogger) Error(msg string, kv ...interface{})      {}
func (l *noopLogger) WithFields(kv ...interface{}) core.Logger { return l }
func (l *noopLogger) Sync() error                              { return nil }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testConfig() core.StrategyConfig {
	return core.StrategyConfig{
		MaxPurchases:       10,
		MinBuyUSDT:         dec("10"),
		InitialCapitalUSDT: dec("1000"),
	}
}

func validRules() core.ExchangeRules {
	return core.ExchangeRules{
		Tick:        dec("0.01"),
		Step:        dec("0.00001"),
		MinQty:      dec("0.00001"),
		MaxQty:      dec("100"),
		MinNotional: dec("10"),
	}
}

func TestCheckStartupSafetyPasses(t *testing.T) {
	ex := &stubExchange{
		rules:    validRules(),
		balances: core.Balances{USDT: dec("1000"), BTC: dec("0")},
	}
	c := NewChecker(&noopLogger{})
	if err := c.CheckStartupSafety(context.Background(), ex, testConfig(), "BTCUSDT"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestCheckStartupSafetyFailsOnUnreachableExchange(t *testing.T) {
	ex := &stubExchange{pingErr: context.DeadlineExceeded}
	c := NewChecker(&noopLogger{})
	if err := c.CheckStartupSafety(context.Background(), ex, testConfig(), "BTCUSDT"); err == nil {
		t.Fatal("expected error for unreachable exchange")
	}
}

func TestCheckStartupSafetyFailsOnInsufficientBalance(t *testing.T) {
	ex := &stubExchange{
		rules:    validRules(),
		balances: core.Balances{USDT: dec("100")},
	}
	c := NewChecker(&noopLogger{})
	if err := c.CheckStartupSafety(context.Background(), ex, testConfig(), "BTCUSDT"); err == nil {
		t.Fatal("expected error for insufficient USDT balance")
	}
}

func TestValidateBuySlotEconomicsRejectsBelowMinNotional(t *testing.T) {
	cfg := core.StrategyConfig{MaxPurchases: 100, MinBuyUSDT: dec("10"), InitialCapitalUSDT: dec("100")}
	rules := validRules()
	if err := ValidateBuySlotEconomics(cfg, rules); err == nil {
		t.Fatal("expected error: per-slot amount (1) below min_notional (10)")
	}
}

func TestValidateBuySlotEconomicsPassesWhenSlotClearsFloor(t *testing.T) {
	cfg := testConfig()
	rules := validRules()
	if err := ValidateBuySlotEconomics(cfg, rules); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderSide is the side of a PlaceLimitIOC call.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderOutcome is the parsed result of an order placement or lookup
// (spec §4.7). FeeOther maps asset symbol (e.g. "BNB") to amount for
// fees charged in a currency other than the traded pair's base/quote.
type OrderOutcome struct {
	Status      TradeStatus
	FilledQty   decimal.Decimal
	QuoteQty    decimal.Decimal
	AvgPrice    decimal.Decimal
	FeeBase     decimal.Decimal
	FeeQuote    decimal.Decimal
	FeeOther    map[string]decimal.Decimal
	OrderID     string
}

// ExchangeRules are the tick/step/notional constraints for a symbol,
// cached and refreshed on a schedule (spec §5 "treated as immutable
// between refreshes").
type ExchangeRules struct {
	Tick        decimal.Decimal
	Step        decimal.Decimal
	MinQty      decimal.Decimal
	MaxQty      decimal.Decimal
	MinNotional decimal.Decimal
}

// Balances is the live spot balance snapshot used by the Drift Detector.
type Balances struct {
	USDT decimal.Decimal
	BTC  decimal.Decimal
}

// ExchangeClient is the required external collaborator contract (spec §6).
// internal/cyclectl and internal/orderexec depend only on this interface,
// never on a concrete exchange package, so internal/exchange/mock can
// drive the full scenario suite without network access.
type ExchangeClient interface {
	SubscribeKlines(ctx context.Context, symbol, timeframe string) (<-chan Candle, error)
	FetchRecentKlines(ctx context.Context, symbol, timeframe string, n int) ([]Candle, error)
	ExchangeRules(ctx context.Context, symbol string) (ExchangeRules, error)
	PlaceLimitIOC(ctx context.Context, symbol string, side OrderSide, price, qty decimal.Decimal, clientOrderID string) (OrderOutcome, error)
	GetOrder(ctx context.Context, symbol, clientOrderID string) (OrderOutcome, error)
	Balances(ctx context.Context) (Balances, error)
	Ping(ctx context.Context) error
}

// Store is the persistent store's contract over CycleState (spec §4.5/§6).
// Mutator receives a copy of the current state and returns a candidate;
// the store re-validates invariants before committing.
type Mutator func(CycleState) (CycleState, error)

type CycleStore interface {
	// Load returns the current CycleState, creating a fresh READY cycle
	// seeded from cfg (capital_available = cfg.InitialCapitalUSDT,
	// purchases_remaining = cfg.MaxPurchases) when none exists yet
	// (spec §4.5).
	Load(ctx context.Context, cfg StrategyConfig) (CycleState, error)
	Apply(ctx context.Context, expectedVersion int64, mutate Mutator) (CycleState, error)

	// WriteAheadIntent persists the intended transition, including the
	// client_order_id about to be used, before the exchange is contacted.
	WriteAheadIntent(ctx context.Context, intent PendingIntent) error
	// ResolveIntent clears a pending intent once its observed outcome has
	// been applied (or discarded) so recovery does not reconsider it.
	ResolveIntent(ctx context.Context, clientOrderID string) error
	// PendingIntents returns write-ahead intents that were never resolved,
	// consulted by the Supervisor at startup (spec Scenario E).
	PendingIntents(ctx context.Context) ([]PendingIntent, error)

	SaveTrade(ctx context.Context, t TradeRecord) error
	// TradeByClientOrderID supports idempotent fill application: the
	// caller can check whether a client_order_id was already recorded
	// before mutating CycleState again for the same outcome.
	TradeByClientOrderID(ctx context.Context, clientOrderID string) (TradeRecord, bool, error)

	SavePause(ctx context.Context, p PauseRecord) error
	ResolvePause(ctx context.Context, cycleID string) error
	LatestPause(ctx context.Context, cycleID string) (PauseRecord, bool, error)
}

// PendingIntent is the write-ahead record described in spec §4.5.
type PendingIntent struct {
	ClientOrderID string
	CycleID       string
	Side          OrderSide
	Price         decimal.Decimal
	Qty           decimal.Decimal
	CreatedAt     string
}

// ConfigStore is the persistence contract for StrategyConfig (spec §4.4).
type ConfigStore interface {
	LoadActive(ctx context.Context) (StrategyConfig, bool, error)
	SaveDefault(ctx context.Context, cfg StrategyConfig) error
}

// EventSink is the contract an Event Sink Adapter implementation exposes
// to every other component (spec §4.11). Accept never blocks: it enqueues
// and returns immediately.
type EventSink interface {
	Accept(e Event)
	Flush(ctx context.Context) error
}

// Notifier is the optional outbound alert contract (spec §6). Failures
// are non-fatal by construction: Send never returns an error the caller
// must act on.
type Notifier interface {
	Send(ctx context.Context, severity Severity, title, body string, metadata map[string]string)
}

// Logger is the structured logging contract used throughout dcabot,
// matching the teacher's ILogger shape (Debug/Info/Warn/Error plus
// WithFields) so pkg/logx's zap-backed implementation is a drop-in.
type Logger interface {
	Debug(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})
	WithFields(kv ...interface{}) Logger
	Sync() error
}

// Package core holds the domain types and collaborator interfaces shared
// across dcabot: candles, cycle state, trade records, events, and the
// narrow contracts for the exchange client, store, and notifier (spec §6).
// No package under internal/ or pkg/ other than internal/moneymath may
// construct a decimal.Decimal from a float64 — everything here is parsed
// from strings at the boundary.
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLC bar for the configured symbol/timeframe. Only
// Closed candles drive trigger decisions (spec §4.2).
type Candle struct {
	OpenTime  time.Time
	CloseTime time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Closed    bool
}

// Validate rejects malformed candles per spec §4.2: non-positive prices,
// high < low, close_time <= open_time, or a close_time that does not move
// forward relative to open_time.
func (c Candle) Validate() error {
	if c.Open.Sign() <= 0 || c.High.Sign() <= 0 || c.Low.Sign() <= 0 || c.Close.Sign() <= 0 {
		return ErrInvalidCandle{Reason: "non-positive price"}
	}
	if c.High.LessThan(c.Low) {
		return ErrInvalidCandle{Reason: "high < low"}
	}
	if !c.CloseTime.After(c.OpenTime) {
		return ErrInvalidCandle{Reason: "close_time <= open_time"}
	}
	return nil
}

// ErrInvalidCandle is returned by Candle.Validate and by intake when a
// malformed candle is discarded (a VALIDATION_ERROR event is emitted but
// the error never propagates to the controller).
type ErrInvalidCandle struct{ Reason string }

func (e ErrInvalidCandle) Error() string { return "invalid candle: " + e.Reason }

// Status is the explicit sum type over a CycleState's lifecycle position,
// per spec §9's design note: avoid an implicit status enum mutated in
// place, represent the three reachable states explicitly.
type Status string

const (
	StatusReady   Status = "READY"
	StatusHolding Status = "HOLDING"
	StatusPaused  Status = "PAUSED"
)

// CycleState is the engine's single durable anchor (spec §3). The Cycle
// Controller is its sole mutator; every other component receives a
// read-only copy.
type CycleState struct {
	CycleID              string
	Status                Status
	CapitalAvailableUSDT  decimal.Decimal
	BTCAccumulated        decimal.Decimal
	PurchasesRemaining    int
	ReferencePrice        decimal.Decimal
	CostAccumUSDT         decimal.Decimal
	BTCAccumNet           decimal.Decimal
	ATHPrice              decimal.Decimal
	BuyAmountUSDT         decimal.Decimal
	// BTCSoldThisCycle is the cumulative base quantity removed from
	// btc_accumulated by every sell (partial or final) since the cycle's
	// last reset — the accumulator spec §4.9's full-sale principal
	// calculation multiplies against reference_price. Reset to zero
	// alongside the other cycle accumulators on CYCLE_COMPLETE.
	BTCSoldThisCycle      decimal.Decimal
	UpdatedAt             time.Time
	Version               int64
}

// Clone returns a deep-enough copy for a mutator to modify without
// aliasing the caller's decimal.Decimal values (decimal.Decimal is
// immutable-by-value already, so a struct copy suffices).
func (s CycleState) Clone() CycleState { return s }

// TradeSide distinguishes buy and sell legs of a TradeRecord.
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// TradeStatus is the terminal disposition of an attempted order.
type TradeStatus string

const (
	TradeFilled          TradeStatus = "FILLED"
	TradePartiallyFilled TradeStatus = "PARTIALLY_FILLED"
	TradeExpired         TradeStatus = "EXPIRED"
	TradeRejectedLocally TradeStatus = "REJECTED_LOCALLY"
	TradeRejectedRemote  TradeStatus = "REJECTED_REMOTELY"
)

// TradeRecord is an append-only ledger row per placed order (spec §3).
type TradeRecord struct {
	ID              int64
	CycleID         string
	Side            TradeSide
	ClientOrderID   string
	ExchangeOrderID string
	RequestedPrice  decimal.Decimal
	RequestedQty    decimal.Decimal
	FilledPrice     decimal.Decimal
	FilledQty       decimal.Decimal
	FeeBase         decimal.Decimal
	FeeQuote        decimal.Decimal
	FeeOther        map[string]decimal.Decimal
	Status          TradeStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EventType enumerates the event taxonomy from spec §3.
type EventType string

const (
	EventStart                  EventType = "START"
	EventStop                   EventType = "STOP"
	EventTradeExecuted          EventType = "TRADE_EXECUTED"
	EventTradeFailed            EventType = "TRADE_FAILED"
	EventCycleComplete          EventType = "CYCLE_COMPLETE"
	EventDriftHalt              EventType = "DRIFT_HALT"
	EventPause                  EventType = "PAUSE"
	EventResume                 EventType = "RESUME"
	EventWebsocketConnected     EventType = "WEBSOCKET_CONNECTED"
	EventWebsocketDisconnected  EventType = "WEBSOCKET_DISCONNECTED"
	EventValidationError        EventType = "VALIDATION_ERROR"
	EventPerformance            EventType = "PERFORMANCE"
	// EventHeartbeat is emitted once per candle while PAUSED, so a
	// dashboard or log tail can distinguish "still alive, intentionally
	// idle" from a stalled process (spec §4.9 step 1).
	EventHeartbeat              EventType = "HEARTBEAT"
)

// Severity classifies an Event for batching/dedup/notification policy.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Event is a structured, loggable occurrence emitted by any component.
type Event struct {
	Type       EventType
	Severity   Severity
	Message    string
	Metadata   map[string]string
	OccurredAt time.Time
}

// DedupKey returns the (type, key-subset-of-metadata) identity the event
// sink uses to suppress duplicate events within its dedup window (§4.11).
// The key subset is cycle_id + client_order_id when present, since those
// two fields identify "the same occurrence" across retries/reconnects.
func (e Event) DedupKey() string {
	return string(e.Type) + "|" + e.Metadata["cycle_id"] + "|" + e.Metadata["client_order_id"]
}

// PauseReason enumerates why the controller entered PAUSED (§4.10).
type PauseReason string

const (
	PauseReasonDriftHalt          PauseReason = "drift_halt"
	PauseReasonConsecutiveErrors  PauseReason = "consecutive_non_retryable_errors"
	PauseReasonInvariantViolation PauseReason = "invariant_violation"
	PauseReasonOperator           PauseReason = "operator_signal"
)

// PauseRecord is the durable reason a cycle was paused, persisted
// alongside the CycleState transition into PAUSED.
type PauseRecord struct {
	CycleID   string
	Reason    PauseReason
	Detail    string
	PausedAt  time.Time
	ResumedAt *time.Time
}

// StrategyConfig is the validated, immutable-after-load tunable parameter
// set (spec §3). The engine treats it as a snapshot for the process
// lifetime; changes require a restart (spec §4.4).
type StrategyConfig struct {
	Timeframe           string
	DropPct             decimal.Decimal
	RisePct             decimal.Decimal
	MaxPurchases        int
	MinBuyUSDT          decimal.Decimal
	InitialCapitalUSDT  decimal.Decimal
	SlippageBuyPct      decimal.Decimal
	SlippageSellPct     decimal.Decimal
	IsActive            bool
}

// Constants fixed by spec §3 — not configurable.
const (
	ATHWindow             = 20
	DriftThreshold        = "0.005"
	OrderTypeLimitIOC     = "LIMIT_IOC"
)

// PositionSnapshot is a read-only, computed projection over CycleState
// for operator/event consumption (SPEC_FULL §3) — it is not persisted
// and does not participate in any invariant.
type PositionSnapshot struct {
	CycleID           string
	Status            Status
	CostBasis         decimal.Decimal
	UnrealizedPnLPct  decimal.Decimal
	PurchasesMade     int
}

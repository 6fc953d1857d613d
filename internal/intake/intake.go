// Package intake drives the closed-candle stream that feeds the Cycle
// Controller (spec §4.2): subscribe via the exchange client, backfill
// over REST on a detected gap, dedupe by open_time, and maintain a
// rolling 20-candle window. Reslice-on-append window maintenance is
// grounded on the teacher's internal/risk.RiskMonitor.handleKlineUpdate
// ("Keep window size" trim via stats.Candles = stats.Candles[len(...)-window:]).
package intake

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"dcabot/internal/core"
)

// windowSize is the rolling closed-candle buffer length (spec §3 ATHWindow).
const windowSize = core.ATHWindow

// Intake subscribes to closed candles for one symbol/timeframe and
// forwards them, deduped and gap-backfilled, to a single consumer.
type Intake struct {
	exchange  core.ExchangeClient
	sink      core.EventSink
	logger    core.Logger
	symbol    string
	timeframe string
	interval  time.Duration

	window []core.Candle
	out    chan core.Candle

	lastOpenTime time.Time
}

// New builds an Intake. sink receives VALIDATION_ERROR events for
// malformed candles; it may be a no-op sink in tests.
func New(exchange core.ExchangeClient, sink core.EventSink, logger core.Logger, symbol, timeframe string) *Intake {
	interval, err := parseTimeframe(timeframe)
	if err != nil && logger != nil {
		logger.Warn("intake: unrecognized timeframe, gap backfill disabled", "timeframe", timeframe, "error", err)
	}
	return &Intake{
		exchange:  exchange,
		sink:      sink,
		logger:    logger.WithFields("component", "intake", "symbol", symbol, "timeframe", timeframe),
		symbol:    symbol,
		timeframe: timeframe,
		interval:  interval,
		window:    make([]core.Candle, 0, windowSize),
		out:       make(chan core.Candle, windowSize),
	}
}

// Candles returns the channel of validated, deduped closed candles.
// Closed when Run returns.
func (i *Intake) Candles() <-chan core.Candle { return i.out }

// Window returns a snapshot of the rolling closed-candle buffer (up to
// the last 20 candles), consumed by internal/pricing's ATH calculator.
func (i *Intake) Window() []core.Candle {
	snapshot := make([]core.Candle, len(i.window))
	copy(snapshot, i.window)
	return snapshot
}

// Run subscribes to the live kline stream and backfills on startup and
// on any detected gap. It implements supervisor.Runner.
func (i *Intake) Run(ctx context.Context) error {
	defer close(i.out)

	stream, err := i.exchange.SubscribeKlines(ctx, i.symbol, i.timeframe)
	if err != nil {
		return fmt.Errorf("intake: subscribe klines: %w", err)
	}

	if recent, err := i.exchange.FetchRecentKlines(ctx, i.symbol, i.timeframe, windowSize); err != nil {
		i.logger.Warn("intake: initial backfill failed, starting with empty window", "error", err)
	} else {
		for _, c := range recent {
			i.ingest(c)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case candle, ok := <-stream:
			if !ok {
				return nil
			}
			i.backfillGapIfAny(ctx, candle)
			i.ingest(candle)
		}
	}
}

// backfillGapIfAny fetches any closed candles missed between the last
// delivered open_time and candle's open_time — covers a reconnect that
// happened invisibly inside the exchange client's WebSocket layer
// (spec §4.2 "upon reconnection, backfill any missed closed candles
// via REST before resuming the stream").
func (i *Intake) backfillGapIfAny(ctx context.Context, candle core.Candle) {
	if i.lastOpenTime.IsZero() || i.interval <= 0 {
		return
	}
	gap := candle.OpenTime.Sub(i.lastOpenTime)
	if gap <= i.interval {
		return
	}

	missed := int(gap/i.interval) + 1
	if missed > windowSize {
		missed = windowSize
	}
	i.logger.Warn("intake: gap detected, backfilling over REST", "last_open_time", i.lastOpenTime, "next_open_time", candle.OpenTime, "missed", missed)

	recent, err := i.exchange.FetchRecentKlines(ctx, i.symbol, i.timeframe, missed+1)
	if err != nil {
		i.logger.Error("intake: gap backfill failed, continuing with the gap", "error", err)
		return
	}
	for _, c := range recent {
		if c.OpenTime.After(i.lastOpenTime) && c.OpenTime.Before(candle.OpenTime) {
			i.ingest(c)
		}
	}
}

// ingest validates, dedupes, windows, and forwards one candle.
func (i *Intake) ingest(candle core.Candle) {
	if err := candle.Validate(); err != nil {
		if i.sink != nil {
			i.sink.Accept(core.Event{
				Type:       core.EventValidationError,
				Severity:   core.SeverityWarning,
				Message:    err.Error(),
				Metadata:   map[string]string{"symbol": i.symbol},
				OccurredAt: candle.OpenTime,
			})
		}
		return
	}
	if !candle.Closed {
		return
	}
	if !i.lastOpenTime.IsZero() && !candle.OpenTime.After(i.lastOpenTime) {
		return // duplicate or out-of-order open_time, discard per spec §4.2
	}

	i.window = append(i.window, candle)
	if len(i.window) > windowSize {
		i.window = i.window[len(i.window)-windowSize:]
	}
	i.lastOpenTime = candle.OpenTime

	select {
	case i.out <- candle:
	default:
		i.logger.Warn("intake: consumer channel full, dropping oldest in favor of newest candle")
		select {
		case <-i.out:
		default:
		}
		i.out <- candle
	}
}

// parseTimeframe converts a Binance interval string ("1m", "4h", "1d",
// "1w") into a time.Duration. Month intervals ("1M") are not supported
// since calendar months aren't a fixed duration; gap backfill is
// disabled for them rather than guessed at.
func parseTimeframe(tf string) (time.Duration, error) {
	if len(tf) < 2 {
		return 0, fmt.Errorf("intake: timeframe too short: %q", tf)
	}
	unit := tf[len(tf)-1]
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("intake: invalid timeframe %q", tf)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("intake: unsupported timeframe unit %q", string(unit))
	}
}

package intake

import (
	"context"
	"testing"
	"time"

	"dcabot/internal/core"
	"dcabot/internal/exchange/mock"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeSink struct{ events []core.Event }

func (s *fakeSink) Accept(e core.Event)            { s.events = append(s.events, e) }
func (s *fakeSink) Flush(ctx context.Context) error { return nil }

type noopLogger struct{}

func (l *noopLogger) Debug(msg string, kv ...interface{})      {}
func (l *noopLogger) Info(msg string, kv ...interface{})       {}
func (l *noopLogger) Warn(msg string, kv ...interface{})       {}
func (l *noopLogger) Error(msg string, kv ...interface{})      {}
func (l *noopLogger) WithFields(kv ...interface{}) core.Logger { return l }
func (l *noopLogger) Sync() error                              { return nil }

func closedCandle(openTime time.Time, close string) core.Candle {
	return core.Candle{
		OpenTime:  openTime,
		CloseTime: openTime.Add(time.Hour),
		Open:      dec(close),
		High:      dec(close),
		Low:       dec(close),
		Close:     dec(close),
		Closed:    true,
	}
}

func TestRunForwardsValidClosedCandles(t *testing.T) {
	ex := mock.New(core.ExchangeRules{}, core.Balances{})
	sink := &fakeSink{}
	in := New(ex, sink, &noopLogger{}, "BTCUSDT", "1h")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ex.PushCandle(closedCandle(base, "100"))

	select {
	case got := <-in.Candles():
		if !got.Close.Equal(dec("100")) {
			t.Errorf("unexpected candle: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for candle")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestIngestDiscardsDuplicateOpenTime(t *testing.T) {
	ex := mock.New(core.ExchangeRules{}, core.Balances{})
	in := New(ex, &fakeSink{}, &noopLogger{}, "BTCUSDT", "1h")

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	in.ingest(closedCandle(base, "100"))
	in.ingest(closedCandle(base, "100")) // duplicate open_time

	if len(in.window) != 1 {
		t.Errorf("expected duplicate to be discarded, window has %d entries", len(in.window))
	}
}

func TestIngestRejectsMalformedCandleWithoutPropagating(t *testing.T) {
	sink := &fakeSink{}
	in := New(mock.New(core.ExchangeRules{}, core.Balances{}), sink, &noopLogger{}, "BTCUSDT", "1h")

	bad := core.Candle{OpenTime: time.Now(), CloseTime: time.Now().Add(time.Hour), Open: dec("-1"), High: dec("1"), Low: dec("1"), Close: dec("1"), Closed: true}
	in.ingest(bad)

	if len(in.window) != 0 {
		t.Error("malformed candle should not enter the window")
	}
	if len(sink.events) != 1 || sink.events[0].Type != core.EventValidationError {
		t.Errorf("expected one VALIDATION_ERROR event, got %+v", sink.events)
	}
}

func TestWindowCapsAtTwentyCandles(t *testing.T) {
	in := New(mock.New(core.ExchangeRules{}, core.Balances{}), &fakeSink{}, &noopLogger{}, "BTCUSDT", "1h")

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for n := 0; n < 25; n++ {
		in.ingest(closedCandle(base.Add(time.Duration(n)*time.Hour), "100"))
	}

	if len(in.window) != windowSize {
		t.Errorf("expected window capped at %d, got %d", windowSize, len(in.window))
	}
}

func TestBackfillGapIfAnyQueriesRESTOnDetectedGap(t *testing.T) {
	ex := mock.New(core.ExchangeRules{}, core.Balances{})
	in := New(ex, &fakeSink{}, &noopLogger{}, "BTCUSDT", "1h")

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	in.ingest(closedCandle(base, "100"))

	missing := closedCandle(base.Add(time.Hour), "101")
	ex.SeedRecentKlines([]core.Candle{missing})

	next := closedCandle(base.Add(2*time.Hour), "102")
	in.backfillGapIfAny(context.Background(), next)
	in.ingest(next)

	if len(in.window) != 3 {
		t.Fatalf("expected gap candle backfilled, window has %d entries", len(in.window))
	}
	if !in.window[1].Close.Equal(dec("101")) {
		t.Errorf("expected backfilled candle in between, got %+v", in.window[1])
	}
}

func TestParseTimeframeSupportsMinutesHoursDaysWeeks(t *testing.T) {
	cases := map[string]time.Duration{
		"1m":  time.Minute,
		"15m": 15 * time.Minute,
		"4h":  4 * time.Hour,
		"1d":  24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
	}
	for tf, want := range cases {
		got, err := parseTimeframe(tf)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tf, err)
		}
		if got != want {
			t.Errorf("%s: expected %v, got %v", tf, want, got)
		}
	}
}

func TestParseTimeframeRejectsMonthIntervals(t *testing.T) {
	if _, err := parseTimeframe("1M"); err == nil {
		t.Error("expected error for unsupported month interval")
	}
}

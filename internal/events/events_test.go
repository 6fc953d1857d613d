package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"dcabot/internal/concurrency"
	"dcabot/internal/core"
)

type noopLogger struct{}

func (l *noopLogger) Debug(msg string, kv ...interface{})      {}
func (l *noopLogger) Info(msg string, kv ...interface{})       {}
func (l *noopLogger) Warn(msg string, kv ...interface{})       {}
func (l *noopLogger) Error(msg string, kv ...interface{})      {}
func (l *noopLogger) WithFields(kv ...interface{}) core.Logger { return l }
func (l *noopLogger) Sync() error                              { return nil }

type fakeStore struct {
	mu     sync.Mutex
	saved  []core.Event
	failN  int // fail the next N SaveEvent calls
}

func (f *fakeStore) SaveEvent(ctx context.Context, e core.Event, metadataJSON string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return errors.New("store unavailable")
	}
	f.saved = append(f.saved, e)
	return nil
}

func (f *fakeStore) Saved() []core.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Event, len(f.saved))
	copy(out, f.saved)
	return out
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent int
}

func (n *fakeNotifier) Send(ctx context.Context, severity core.Severity, title, body string, metadata map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent++
}

func (n *fakeNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent
}

func testPool() *concurrency.WorkerPool {
	return concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "test-events"}, &noopLogger{})
}

func TestAcceptFlushesOnBatchSize(t *testing.T) {
	st := &fakeStore{}
	s := New(st, nil, testPool(), &noopLogger{}, Config{BatchSize: 2, BatchAge: time.Minute})

	s.Accept(core.Event{Type: core.EventTradeExecuted, Severity: core.SeverityInfo, Metadata: map[string]string{"client_order_id": "a"}})
	s.Accept(core.Event{Type: core.EventTradeExecuted, Severity: core.SeverityInfo, Metadata: map[string]string{"client_order_id": "b"}})

	waitFor(t, func() bool { return len(st.Saved()) == 2 })
}

func TestCriticalEventBypassesBatching(t *testing.T) {
	st := &fakeStore{}
	s := New(st, nil, testPool(), &noopLogger{}, Config{BatchSize: 100, BatchAge: time.Minute})

	s.Accept(core.Event{Type: core.EventDriftHalt, Severity: core.SeverityCritical, Metadata: map[string]string{"cycle_id": "c1"}})

	waitFor(t, func() bool { return len(st.Saved()) == 1 })
}

func TestDuplicateEventWithinWindowIsDropped(t *testing.T) {
	st := &fakeStore{}
	s := New(st, nil, testPool(), &noopLogger{}, Config{BatchSize: 10, BatchAge: time.Minute, DedupWindow: time.Minute})

	e := core.Event{Type: core.EventTradeFailed, Severity: core.SeverityError, Metadata: map[string]string{"cycle_id": "c1", "client_order_id": "x"}}
	s.Accept(e)
	s.Accept(e) // duplicate within dedup window

	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}
	waitFor(t, func() bool { return len(st.Saved()) == 1 })
}

func TestFlushDeliversPendingBatchImmediately(t *testing.T) {
	st := &fakeStore{}
	s := New(st, nil, testPool(), &noopLogger{}, Config{BatchSize: 100, BatchAge: time.Hour})

	s.Accept(core.Event{Type: core.EventStart, Severity: core.SeverityInfo})
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(st.Saved()) != 1 {
		t.Errorf("expected Flush to deliver the pending event, got %d saved", len(st.Saved()))
	}
}

func TestNotifierReceivesNonInfoSeverities(t *testing.T) {
	st := &fakeStore{}
	notif := &fakeNotifier{}
	s := New(st, notif, testPool(), &noopLogger{}, Config{BatchSize: 1, BatchAge: time.Minute})

	s.Accept(core.Event{Type: core.EventTradeFailed, Severity: core.SeverityWarning})

	waitFor(t, func() bool { return notif.Count() == 1 })
}

func TestStoreFailureHoldsEventsForRetryThenFlushDrainsOverflow(t *testing.T) {
	st := &fakeStore{failN: 1}
	s := New(st, nil, testPool(), &noopLogger{}, Config{BatchSize: 1, BatchAge: time.Minute})

	s.Accept(core.Event{Type: core.EventPerformance, Severity: core.SeverityInfo, Metadata: map[string]string{"client_order_id": "z"}})
	waitFor(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.overflow) == 1
	})

	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, func() bool { return len(st.Saved()) == 1 })
}

func TestOverflowQueueEvictsOldestBeyondCap(t *testing.T) {
	st := &fakeStore{failN: 1000}
	s := New(st, nil, testPool(), &noopLogger{}, Config{BatchSize: 1, BatchAge: time.Minute, OverflowCap: 2})

	for i := 0; i < 5; i++ {
		s.Accept(core.Event{Type: core.EventPerformance, Severity: core.SeverityInfo, Metadata: map[string]string{"client_order_id": fmt.Sprintf("o%d", i)}})
	}

	waitFor(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.overflow) == 2
	})
}

func TestRunFlushesAgedBatchOnTicker(t *testing.T) {
	st := &fakeStore{}
	s := New(st, nil, testPool(), &noopLogger{}, Config{BatchSize: 100, BatchAge: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.Accept(core.Event{Type: core.EventStart, Severity: core.SeverityInfo})

	waitFor(t, func() bool { return len(st.Saved()) == 1 })

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

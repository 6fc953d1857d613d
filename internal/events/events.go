// Package events implements the Event Sink Adapter (spec §4.11): a
// batching, deduplicating fan-out from any component's core.Event to
// durable storage and best-effort notification. Accept never blocks —
// grounded on the teacher's internal/alert.AlertManager.Alert, which
// fires a goroutine per channel and explicitly does not wait ("We don't
// wait here to avoid blocking the caller") — generalized from
// broadcast-every-alert-immediately to spec §4.11's
// batch-by-size-or-age-except-CRITICAL policy, with delivery itself
// still handed to internal/concurrency's worker pool (grounded on
// pkg/concurrency/pool.go) so a slow store write or webhook never
// blocks the Cycle Controller's own persistence.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"dcabot/internal/concurrency"
	"dcabot/internal/core"
)

// Store is the narrow collaborator the sink persists through —
// satisfied by both internal/store.SQLiteStore and .MemoryStore.
type Store interface {
	SaveEvent(ctx context.Context, e core.Event, metadataJSON string) error
}

// Config tunes batching, dedup, and overflow behavior.
type Config struct {
	BatchSize      int
	BatchAge       time.Duration
	DedupWindow    time.Duration
	OverflowCap    int
	FlushTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.BatchAge <= 0 {
		c.BatchAge = 5 * time.Second
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 30 * time.Second
	}
	if c.OverflowCap <= 0 {
		c.OverflowCap = 500
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 5 * time.Second
	}
	return c
}

// Sink implements core.EventSink. It is safe for concurrent use.
type Sink struct {
	mu sync.Mutex

	store    Store
	notifier core.Notifier
	pool     *concurrency.WorkerPool
	logger   core.Logger
	cfg      Config

	batch      []core.Event
	batchStart time.Time
	dedup      map[string]time.Time
	overflow   []core.Event
}

var _ core.EventSink = (*Sink)(nil)

// New builds a Sink. notifier may be nil (no outbound alerting).
func New(store Store, notifier core.Notifier, pool *concurrency.WorkerPool, logger core.Logger, cfg Config) *Sink {
	return &Sink{
		store:    store,
		notifier: notifier,
		pool:     pool,
		logger:   logger.WithFields("component", "event_sink"),
		cfg:      cfg.withDefaults(),
		dedup:    make(map[string]time.Time),
	}
}

// Accept enqueues e, never blocking the caller. CRITICAL events bypass
// batching and are flushed immediately (still asynchronously, via the
// worker pool). Duplicates within the dedup window are silently
// dropped.
func (s *Sink) Accept(e core.Event) {
	s.mu.Lock()
	if s.isDuplicate(e) {
		s.mu.Unlock()
		return
	}
	s.markSeen(e)

	if e.Severity == core.SeverityCritical {
		s.mu.Unlock()
		s.dispatch([]core.Event{e})
		return
	}

	if len(s.batch) == 0 {
		s.batchStart = time.Now()
	}
	s.batch = append(s.batch, e)
	var toFlush []core.Event
	if len(s.batch) >= s.cfg.BatchSize || time.Since(s.batchStart) >= s.cfg.BatchAge {
		toFlush = s.batch
		s.batch = nil
	}
	s.mu.Unlock()

	if toFlush != nil {
		s.dispatch(toFlush)
	}
}

// Flush forces the current batch and any held overflow out immediately,
// waiting for delivery to complete. Called on shutdown (spec §4.12
// "flush events" as the last step) and by tests.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	pending := s.batch
	s.batch = nil
	overflow := s.overflow
	s.overflow = nil
	s.mu.Unlock()

	all := append(pending, overflow...)
	if len(all) == 0 {
		return nil
	}
	s.pool.SubmitAndWait(func() { s.persist(ctx, all) })
	return nil
}

// Run periodically flushes a batch that has aged past BatchAge even
// without new events arriving, and retries draining the overflow queue
// (spec §4.11 "on reconnection, queued events are flushed"). It
// implements supervisor.Runner.
func (s *Sink) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.BatchAge)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), s.cfg.FlushTimeout)
			defer cancel()
			return s.Flush(flushCtx)
		case <-ticker.C:
			s.flushIfAged()
		}
	}
}

func (s *Sink) flushIfAged() {
	s.mu.Lock()
	var toFlush []core.Event
	if len(s.batch) > 0 && time.Since(s.batchStart) >= s.cfg.BatchAge {
		toFlush = s.batch
		s.batch = nil
	}
	held := s.overflow
	s.overflow = nil
	s.mu.Unlock()
	if len(held) > 0 {
		s.dispatch(held)
	}
	if len(toFlush) > 0 {
		s.dispatch(toFlush)
	}
}

func (s *Sink) isDuplicate(e core.Event) bool {
	last, ok := s.dedup[e.DedupKey()]
	return ok && time.Since(last) < s.cfg.DedupWindow
}

func (s *Sink) markSeen(e core.Event) {
	s.dedup[e.DedupKey()] = time.Now()
	if len(s.dedup) > 4*s.cfg.OverflowCap {
		// Unbounded growth guard: drop expired entries. Rare path, only
		// hit under sustained high-cardinality event traffic.
		cutoff := time.Now().Add(-s.cfg.DedupWindow)
		for k, t := range s.dedup {
			if t.Before(cutoff) {
				delete(s.dedup, k)
			}
		}
	}
}

// dispatch hands a batch to the worker pool for async persistence, so
// Accept's caller (the Cycle Controller) never waits on a store write
// or webhook.
func (s *Sink) dispatch(batch []core.Event) {
	if err := s.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FlushTimeout)
		defer cancel()
		s.persist(ctx, batch)
	}); err != nil {
		s.holdForRetry(batch)
	}
}

// persist writes every event to the store and, for WARNING severity
// and above, notifies. A store failure holds the batch in the bounded
// overflow queue rather than dropping it.
func (s *Sink) persist(ctx context.Context, batch []core.Event) {
	var failed []core.Event
	for _, e := range batch {
		metadataJSON := "{}"
		if len(e.Metadata) > 0 {
			if b, err := json.Marshal(e.Metadata); err == nil {
				metadataJSON = string(b)
			}
		}
		if err := s.store.SaveEvent(ctx, e, metadataJSON); err != nil {
			s.logger.Error("event persist failed, holding for retry", "type", e.Type, "error", err)
			failed = append(failed, e)
			continue
		}
		if s.notifier != nil && e.Severity != core.SeverityInfo {
			s.notifier.Send(ctx, e.Severity, string(e.Type), e.Message, e.Metadata)
		}
	}
	if len(failed) > 0 {
		s.holdForRetry(failed)
	}
}

// holdForRetry appends to the bounded overflow queue, evicting the
// oldest entries first once the cap is reached (spec §4.11).
func (s *Sink) holdForRetry(batch []core.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overflow = append(s.overflow, batch...)
	if over := len(s.overflow) - s.cfg.OverflowCap; over > 0 {
		s.overflow = s.overflow[over:]
	}
}

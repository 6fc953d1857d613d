// Package pause implements the Pause/Resume Mechanism (spec §4.10):
// trip the cycle into PAUSED on a drift halt, a burst of non-retryable
// exchange errors, an invariant violation, or an operator signal, and
// gate resume behind a fresh validation pass. Trip/cooldown shape is
// grounded on the teacher's internal/risk.CircuitBreaker — a mutex-
// guarded counter that trips past a threshold and is explicitly reset —
// repurposed from PnL-drawdown tripping (consecutive losing trades,
// total drawdown) to consecutive-non-retryable-error counting within a
// rolling window, since dcabot pauses on exchange error bursts rather
// than on unprofitable trades.
package pause

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dcabot/internal/core"
	"dcabot/internal/drift"

	"github.com/shopspring/decimal"
)

// ErrorCounter tracks non-retryable exchange errors within a rolling
// window and reports when the trip threshold (spec §4.10: "≥3 ... within
// a configured window") is reached. Grounded on CircuitBreaker's
// consecutiveLosses counter, generalized from a simple increment/reset
// to a timestamped rolling window so an error from long ago does not
// count toward a trip forever (the teacher's counter never expired
// entries, only ever resetting wholesale on a winning trade).
type ErrorCounter struct {
	mu     sync.Mutex
	window time.Duration
	errs   []time.Time
}

// NewErrorCounter builds a counter with the given rolling window.
func NewErrorCounter(window time.Duration) *ErrorCounter {
	return &ErrorCounter{window: window}
}

// Record appends a non-retryable-error timestamp and reports whether
// the count within the window has reached the trip threshold.
func (c *ErrorCounter) Record(now time.Time) (shouldTrip bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.errs = append(c.errs, now)
	cutoff := now.Add(-c.window)
	kept := c.errs[:0]
	for _, t := range c.errs {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.errs = kept
	return len(c.errs) >= 3
}

// Reset clears the error history, called after a successful order or
// a successful resume.
func (c *ErrorCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = nil
}

// Trip persists the PAUSED transition and a PauseRecord. It applies
// against state.Version, so state must be the CycleState the caller last
// observed; a version conflict is returned wrapping
// apperrors.ErrVersionConflict so the controller can reload and retry.
func Trip(ctx context.Context, store core.CycleStore, state core.CycleState, reason core.PauseReason, detail string, now time.Time) (core.CycleState, error) {
	paused, err := store.Apply(ctx, state.Version, func(s core.CycleState) (core.CycleState, error) {
		s.Status = core.StatusPaused
		return s, nil
	})
	if err != nil {
		return state, fmt.Errorf("pause: trip: %w", err)
	}
	if err := store.SavePause(ctx, core.PauseRecord{
		CycleID:  state.CycleID,
		Reason:   reason,
		Detail:   detail,
		PausedAt: now,
	}); err != nil {
		return paused, fmt.Errorf("pause: trip: save pause record: %w", err)
	}
	return paused, nil
}

// Resume validates that it is safe to leave PAUSED and, if so, persists
// the transition back to READY or HOLDING (per whether the cycle still
// holds BTC) and resolves the pause record. Validation per spec §4.10:
// exchange reachable, balance drift currently within threshold, and the
// last persisted state's invariants hold (delegated to store.Apply,
// which re-validates on every write).
func Resume(ctx context.Context, store core.CycleStore, exchange core.ExchangeClient, state core.CycleState, now time.Time) (core.CycleState, error) {
	if state.Status != core.StatusPaused {
		return state, fmt.Errorf("pause: resume: cycle %s is not paused", state.CycleID)
	}
	if err := exchange.Ping(ctx); err != nil {
		return state, fmt.Errorf("pause: resume: exchange unreachable: %w", err)
	}
	balances, err := exchange.Balances(ctx)
	if err != nil {
		return state, fmt.Errorf("pause: resume: failed to fetch balances: %w", err)
	}
	if result := drift.Check(balances, state); result.Halted {
		return state, fmt.Errorf("pause: resume: drift still beyond threshold: %s ratio %s > %s", result.Which, result.Value, result.Threshold)
	}

	target := core.StatusReady
	if state.BTCAccumulated.GreaterThan(decimal.Zero) {
		target = core.StatusHolding
	}

	resumed, err := store.Apply(ctx, state.Version, func(s core.CycleState) (core.CycleState, error) {
		s.Status = target
		return s, nil
	})
	if err != nil {
		return state, fmt.Errorf("pause: resume: %w", err)
	}
	if err := store.ResolvePause(ctx, state.CycleID); err != nil {
		return resumed, fmt.Errorf("pause: resume: resolve pause record: %w", err)
	}
	return resumed, nil
}

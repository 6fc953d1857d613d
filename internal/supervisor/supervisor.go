// Package supervisor owns process lifecycle: startup safety checks,
// write-ahead intent reconciliation, and running every long-lived
// component under one errgroup that tears down cleanly on SIGINT/SIGTERM
// or on any component's fatal error. Adapted from the teacher's
// internal/bootstrap.App (errgroup.WithContext + signal.NotifyContext,
// Runner interface) and internal/infrastructure/health.HealthManager
// (reused here as internal/health.Manager for the startup gate).
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dcabot/internal/core"
	"dcabot/internal/cyclectl"
	"dcabot/internal/health"
	"dcabot/internal/safety"

	"golang.org/x/sync/errgroup"
)

// Runner is a long-lived component driven by the supervisor: the
// market-data intake loop, the cycle controller, the event-sink
// flusher. Run must return promptly once ctx is canceled.
type Runner interface {
	Run(ctx context.Context) error
}

// Supervisor wires startup checks, crash recovery, and the runtime
// lifecycle of every long-lived dcabot component.
type Supervisor struct {
	Logger   core.Logger
	Store    core.CycleStore
	Exchange core.ExchangeClient
	Health   *health.Manager
	Safety   *safety.Checker
	Symbol   string
}

// New builds a Supervisor with a fresh health manager whose only check
// is an exchange Ping.
func New(logger core.Logger, store core.CycleStore, exchange core.ExchangeClient, symbol string) *Supervisor {
	hm := health.NewManager(logger)
	hm.Register("exchange", func() error { return exchange.Ping(context.Background()) })

	return &Supervisor{
		Logger:   logger.WithFields("component", "supervisor"),
		Store:    store,
		Exchange: exchange,
		Health:   hm,
		Safety:   safety.NewChecker(logger),
		Symbol:   symbol,
	}
}

// Bootstrap runs startup safety checks and reconciles any pending
// write-ahead intents left behind by a crash, per spec §4.5/§4.12 and
// Scenario E: for each PendingIntent, look the order up by
// client_order_id and apply its resolved outcome to CycleState through
// cyclectl.Reconcile — the same idempotent accounting the live per-candle
// path uses — so the cycle controller starts from settled state rather
// than from a stale snapshot that never learned about an in-flight fill.
func (s *Supervisor) Bootstrap(ctx context.Context, cfg core.StrategyConfig) error {
	if err := s.Safety.CheckStartupSafety(ctx, s.Exchange, cfg, s.Symbol); err != nil {
		return fmt.Errorf("supervisor: startup safety check failed: %w", err)
	}

	pending, err := s.Store.PendingIntents(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: failed to list pending intents: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	state, err := s.Store.Load(ctx, cfg)
	if err != nil {
		return fmt.Errorf("supervisor: failed to load cycle state: %w", err)
	}
	rules, err := s.Exchange.ExchangeRules(ctx, s.Symbol)
	if err != nil {
		return fmt.Errorf("supervisor: failed to fetch exchange rules: %w", err)
	}

	for _, intent := range pending {
		s.Logger.Warn("reconciling pending intent from prior crash", "client_order_id", intent.ClientOrderID)

		outcome, err := s.Exchange.GetOrder(ctx, s.Symbol, intent.ClientOrderID)
		if err != nil {
			s.Logger.Error("reconciliation lookup failed, leaving intent pending", "client_order_id", intent.ClientOrderID, "error", err)
			continue
		}

		s.Logger.Info("reconciled pending intent", "client_order_id", intent.ClientOrderID, "status", outcome.Status)
		state, err = cyclectl.Reconcile(ctx, s.Store, cfg, rules, state, intent, outcome)
		if err != nil {
			return fmt.Errorf("supervisor: failed to apply reconciled outcome for %s: %w", intent.ClientOrderID, err)
		}
	}

	return nil
}

// Run starts every runner under a shared errgroup, canceling them all
// on SIGINT/SIGTERM or on the first runner's fatal error.
func (s *Supervisor) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.RunWithContext(ctx, runners...)
}

// RunWithContext is Run with an externally supplied base context,
// split out so tests can trigger shutdown without sending OS signals.
func (s *Supervisor) RunWithContext(ctx context.Context, runners ...Runner) error {
	g, gctx := errgroup.WithContext(ctx)

	s.Logger.Info("starting supervised runners", "count", len(runners))

	for _, r := range runners {
		runner := r
		g.Go(func() error {
			return runner.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() == nil {
			s.Logger.Error("supervisor stopped with error", "error", err)
			return err
		}
	}

	s.Logger.Info("supervisor shut down gracefully")
	return nil
}

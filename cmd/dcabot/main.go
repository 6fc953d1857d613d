// Command dcabot runs the single-pair BTC/USDT spot DCA trading bot
// described by SPEC_FULL: it wires market-data intake, the cycle
// controller, the event sink, and the metrics/health server under one
// supervised lifecycle. Grounded on the teacher's cmd/ pattern
// (internal/bootstrap.App.Run(runners ...Runner)): load config, build
// every component, run startup safety checks and crash-recovery
// reconciliation, then hand every long-lived component to
// internal/supervisor until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"dcabot/internal/concurrency"
	"dcabot/internal/config"
	"dcabot/internal/core"
	"dcabot/internal/cyclectl"
	"dcabot/internal/events"
	"dcabot/internal/exchange/binance"
	"dcabot/internal/httpserver"
	"dcabot/internal/intake"
	"dcabot/internal/notify"
	"dcabot/internal/orderexec"
	"dcabot/internal/store"
	"dcabot/internal/supervisor"
	"dcabot/pkg/logx"
	"dcabot/pkg/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the bootstrap YAML config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "dcabot:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	bootCfg, err := config.LoadBootstrapConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logx.New(bootCfg.System.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	if bootCfg.Telemetry.EnableMetrics {
		tel, err := telemetry.Setup("dcabot")
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer tel.Shutdown(context.Background())
	}

	cycleStore, err := store.Open(bootCfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open cycle store: %w", err)
	}
	defer cycleStore.Close()

	exchange := binance.New(string(bootCfg.Exchange.APIKey), string(bootCfg.Exchange.SecretKey), logger)

	ctx := context.Background()
	strategyCfg, err := loadOrSeedStrategy(ctx, cycleStore, bootCfg)
	if err != nil {
		return fmt.Errorf("load strategy config: %w", err)
	}

	sup := supervisor.New(logger, cycleStore, exchange, bootCfg.Exchange.Symbol)
	if err := sup.Bootstrap(ctx, strategyCfg); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	notifier := notify.NewManager(logger)
	if bootCfg.Notifier.WebhookURL != "" {
		notifier.AddChannel(notify.NewWebhookChannel(bootCfg.Notifier.WebhookURL))
	}

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "events", NonBlocking: true}, logger)
	sink := events.New(cycleStore, notifier, pool, logger, events.Config{})

	in := intake.New(exchange, sink, logger, bootCfg.Exchange.Symbol, bootCfg.Exchange.Timeframe)

	executor := orderexec.New(exchange, logger)
	controller := cyclectl.New(cycleStore, exchange, executor, sink, logger, strategyCfg, bootCfg.Exchange.Symbol, in.Candles(), in.Window)

	runners := []supervisor.Runner{in, controller, sink}
	if bootCfg.Telemetry.EnableMetrics {
		runners = append(runners, httpserver.New(bootCfg.Telemetry.MetricsPort, logger, sup.Health))
	}

	return sup.Run(runners...)
}

// loadOrSeedStrategy loads the active StrategyConfig row, seeding the
// is_active=false default on first run (spec §4.4). Operators must
// flip is_active after reviewing the seeded row; dcabot never trades
// on a freshly seeded config.
func loadOrSeedStrategy(ctx context.Context, cs *store.SQLiteStore, bootCfg *config.BootstrapConfig) (core.StrategyConfig, error) {
	active, ok, err := cs.LoadActive(ctx)
	if err != nil {
		return core.StrategyConfig{}, err
	}
	if ok {
		return active, nil
	}

	defaultCfg := config.DefaultStrategyConfig(bootCfg.Exchange.Timeframe, bootCfg.InitialCapitalUSDT)
	if err := cs.SaveDefault(ctx, defaultCfg); err != nil {
		return core.StrategyConfig{}, err
	}
	return defaultCfg, nil
}

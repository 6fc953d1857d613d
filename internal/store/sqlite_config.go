package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"dcabot/internal/core"

	"github.com/shopspring/decimal"
)

// LoadActive returns the single strategy_config row, if one exists
// (spec §4.4).
func (s *SQLiteStore) LoadActive(ctx context.Context) (core.StrategyConfig, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT timeframe, drop_pct, rise_pct, max_purchases,
		min_buy_usdt, initial_capital_usdt, slippage_buy_pct, slippage_sell_pct, is_active
		FROM strategy_config WHERE id = 1`)

	var cfg core.StrategyConfig
	var dropPct, risePct, minBuy, initialCap, slipBuy, slipSell string
	var isActive int
	err := row.Scan(&cfg.Timeframe, &dropPct, &risePct, &cfg.MaxPurchases, &minBuy, &initialCap,
		&slipBuy, &slipSell, &isActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.StrategyConfig{}, false, nil
		}
		return core.StrategyConfig{}, false, fmt.Errorf("store: load strategy config: %w", err)
	}

	cfg.DropPct = decimal.RequireFromString(dropPct)
	cfg.RisePct = decimal.RequireFromString(risePct)
	cfg.MinBuyUSDT = decimal.RequireFromString(minBuy)
	cfg.InitialCapitalUSDT = decimal.RequireFromString(initialCap)
	cfg.SlippageBuyPct = decimal.RequireFromString(slipBuy)
	cfg.SlippageSellPct = decimal.RequireFromString(slipSell)
	cfg.IsActive = isActive != 0
	return cfg, true, nil
}

// SaveDefault writes the is_active=false default row spec §4.4 requires
// when no active config exists yet.
func (s *SQLiteStore) SaveDefault(ctx context.Context, cfg core.StrategyConfig) error {
	isActive := 0
	if cfg.IsActive {
		isActive = 1
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO strategy_config
		(id, timeframe, drop_pct, rise_pct, max_purchases, min_buy_usdt, initial_capital_usdt,
		 slippage_buy_pct, slippage_sell_pct, is_active)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.Timeframe, cfg.DropPct.String(), cfg.RisePct.String(), cfg.MaxPurchases,
		cfg.MinBuyUSDT.String(), cfg.InitialCapitalUSDT.String(),
		cfg.SlippageBuyPct.String(), cfg.SlippageSellPct.String(), isActive)
	if err != nil {
		return fmt.Errorf("store: save strategy config: %w", err)
	}
	return nil
}

// SaveEvent persists one bot_events row. Called by internal/events on
// flush; never on the Cycle Controller's hot path.
func (s *SQLiteStore) SaveEvent(ctx context.Context, e core.Event, metadataJSON string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO bot_events (type, severity, message, metadata, occurred_at)
		VALUES (?, ?, ?, ?, ?)`, string(e.Type), string(e.Severity), e.Message, metadataJSON, e.OccurredAt.UnixNano())
	if err != nil {
		return fmt.Errorf("store: save event: %w", err)
	}
	return nil
}

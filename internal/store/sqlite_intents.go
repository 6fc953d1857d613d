package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"dcabot/internal/core"

	"github.com/shopspring/decimal"
)

// WriteAheadIntent persists the intended transition before the exchange
// is contacted (spec §4.5). It is the anchor Scenario E's restart
// reconciliation looks up by client_order_id.
func (s *SQLiteStore) WriteAheadIntent(ctx context.Context, intent core.PendingIntent) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO pending_intents
		(client_order_id, cycle_id, side, price, qty, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		intent.ClientOrderID, intent.CycleID, string(intent.Side),
		intent.Price.String(), intent.Qty.String(), intent.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: write pending intent: %w", err)
	}
	return nil
}

// ResolveIntent clears a pending intent once its outcome has been applied
// or discarded, so recovery does not reconsider it on the next startup.
func (s *SQLiteStore) ResolveIntent(ctx context.Context, clientOrderID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_intents WHERE client_order_id = ?`, clientOrderID)
	if err != nil {
		return fmt.Errorf("store: resolve pending intent: %w", err)
	}
	return nil
}

// PendingIntents returns every unresolved write-ahead intent, consulted
// by the Supervisor at startup (spec §4.12, Scenario E).
func (s *SQLiteStore) PendingIntents(ctx context.Context) ([]core.PendingIntent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT client_order_id, cycle_id, side, price, qty, created_at FROM pending_intents`)
	if err != nil {
		return nil, fmt.Errorf("store: list pending intents: %w", err)
	}
	defer rows.Close()

	var out []core.PendingIntent
	for rows.Next() {
		var intent core.PendingIntent
		var side, price, qty string
		if err := rows.Scan(&intent.ClientOrderID, &intent.CycleID, &side, &price, &qty, &intent.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan pending intent: %w", err)
		}
		intent.Side = core.OrderSide(side)
		intent.Price, err = decimal.NewFromString(price)
		if err != nil {
			return nil, err
		}
		intent.Qty, err = decimal.NewFromString(qty)
		if err != nil {
			return nil, err
		}
		out = append(out, intent)
	}
	return out, rows.Err()
}

// SaveTrade appends a TradeRecord to the durable ledger.
func (s *SQLiteStore) SaveTrade(ctx context.Context, t core.TradeRecord) error {
	feeOther, err := encodeFeeOther(t.FeeOther)
	if err != nil {
		return err
	}
	now := t.UpdatedAt.UnixNano()
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO trades
		(cycle_id, side, client_order_id, exchange_order_id, requested_price, requested_qty,
		 filled_price, filled_qty, fee_base, fee_quote, fee_other, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.CycleID, string(t.Side), t.ClientOrderID, t.ExchangeOrderID,
		t.RequestedPrice.String(), t.RequestedQty.String(), t.FilledPrice.String(), t.FilledQty.String(),
		t.FeeBase.String(), t.FeeQuote.String(), feeOther, string(t.Status), t.CreatedAt.UnixNano(), now)
	if err != nil {
		return fmt.Errorf("store: save trade: %w", err)
	}
	return nil
}

// TradeByClientOrderID looks up a previously-saved trade, used by the
// Cycle Controller to make fill application idempotent (spec §8).
func (s *SQLiteStore) TradeByClientOrderID(ctx context.Context, clientOrderID string) (core.TradeRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT cycle_id, side, client_order_id, exchange_order_id,
		requested_price, requested_qty, filled_price, filled_qty, fee_base, fee_quote, fee_other,
		status, created_at, updated_at FROM trades WHERE client_order_id = ?`, clientOrderID)

	var t core.TradeRecord
	var side, reqPrice, reqQty, fillPrice, fillQty, feeBase, feeQuote, feeOther, status string
	var createdAtUnix, updatedAtUnix int64
	err := row.Scan(&t.CycleID, &side, &t.ClientOrderID, &t.ExchangeOrderID, &reqPrice, &reqQty,
		&fillPrice, &fillQty, &feeBase, &feeQuote, &feeOther, &status, &createdAtUnix, &updatedAtUnix)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.TradeRecord{}, false, nil
		}
		return core.TradeRecord{}, false, fmt.Errorf("store: lookup trade: %w", err)
	}

	t.Side = core.TradeSide(side)
	t.Status = core.TradeStatus(status)
	t.RequestedPrice = decimal.RequireFromString(reqPrice)
	t.RequestedQty = decimal.RequireFromString(reqQty)
	t.FilledPrice = decimal.RequireFromString(fillPrice)
	t.FilledQty = decimal.RequireFromString(fillQty)
	t.FeeBase = decimal.RequireFromString(feeBase)
	t.FeeQuote = decimal.RequireFromString(feeQuote)
	t.FeeOther, err = decodeFeeOther(feeOther)
	if err != nil {
		return core.TradeRecord{}, false, err
	}
	return t, true, nil
}

// SavePause records why a cycle entered PAUSED (spec §4.10).
func (s *SQLiteStore) SavePause(ctx context.Context, p core.PauseRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO pause_states (cycle_id, reason, detail, paused_at, resumed_at)
		VALUES (?, ?, ?, ?, NULL)`, p.CycleID, string(p.Reason), p.Detail, p.PausedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("store: save pause: %w", err)
	}
	return nil
}

// ResolvePause marks the most recent open pause record for a cycle as
// resumed.
func (s *SQLiteStore) ResolvePause(ctx context.Context, cycleID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE pause_states SET resumed_at = ?
		WHERE cycle_id = ? AND resumed_at IS NULL
		AND id = (SELECT id FROM pause_states WHERE cycle_id = ? AND resumed_at IS NULL ORDER BY id DESC LIMIT 1)`,
		nowUnixNano(), cycleID, cycleID)
	if err != nil {
		return fmt.Errorf("store: resolve pause: %w", err)
	}
	return nil
}

// LatestPause returns the most recent pause record for a cycle, resolved
// or not.
func (s *SQLiteStore) LatestPause(ctx context.Context, cycleID string) (core.PauseRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT cycle_id, reason, detail, paused_at, resumed_at
		FROM pause_states WHERE cycle_id = ? ORDER BY id DESC LIMIT 1`, cycleID)

	var p core.PauseRecord
	var reason, detail string
	var pausedAtUnix int64
	var resumedAtUnix sql.NullInt64
	err := row.Scan(&p.CycleID, &reason, &detail, &pausedAtUnix, &resumedAtUnix)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.PauseRecord{}, false, nil
		}
		return core.PauseRecord{}, false, fmt.Errorf("store: latest pause: %w", err)
	}
	p.Reason = core.PauseReason(reason)
	p.Detail = detail
	p.PausedAt = unixNanoToTime(pausedAtUnix)
	if resumedAtUnix.Valid {
		t := unixNanoToTime(resumedAtUnix.Int64)
		p.ResumedAt = &t
	}
	return p, true, nil
}

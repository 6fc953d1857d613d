// Package store is the Cycle State Store (spec §4.5): a durable
// CycleState record with atomic optimistic-concurrency updates and a
// write-ahead intent table for crash recovery, plus the trades, events,
// pause, and strategy-config tables spec §6 names. Grounded on the
// teacher's internal/engine/simple/store_sqlite.go (WAL mode, SHA-256
// row checksum, serializable transactions, INSERT OR REPLACE), extended
// from a single JSON blob to normalized columns per field.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dcabot/internal/core"
	"dcabot/pkg/apperrors"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// SQLiteStore implements core.CycleStore and core.ConfigStore over a
// single SQLite file in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates (if needed) the schema and returns a ready SQLiteStore.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("store: enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

var errNoCycle = errors.New("store: no cycle_state row")

// Load returns the current CycleState, creating a fresh READY cycle
// seeded from cfg when none exists yet (spec §4.5).
func (s *SQLiteStore) Load(ctx context.Context, cfg core.StrategyConfig) (core.CycleState, error) {
	existing, err := s.loadRow(ctx, s.db)
	if err != nil {
		return core.CycleState{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	fresh := core.CycleState{
		CycleID:              newCycleID(),
		Status:                core.StatusReady,
		CapitalAvailableUSDT:  cfg.InitialCapitalUSDT,
		BTCAccumulated:        decimal.Zero,
		PurchasesRemaining:    cfg.MaxPurchases,
		ReferencePrice:        decimal.Zero,
		CostAccumUSDT:         decimal.Zero,
		BTCAccumNet:           decimal.Zero,
		ATHPrice:              decimal.Zero,
		BuyAmountUSDT:         cfg.InitialCapitalUSDT.Div(decimal.NewFromInt(int64(cfg.MaxPurchases))),
		BTCSoldThisCycle:      decimal.Zero,
		UpdatedAt:             time.Now(),
		Version:               1,
	}
	if err := s.writeRow(ctx, s.db, fresh); err != nil {
		return core.CycleState{}, err
	}
	return fresh, nil
}

func newCycleID() string {
	return fmt.Sprintf("cycle-%d", time.Now().UnixNano())
}

// Apply performs an atomic read-modify-write with optimistic concurrency
// on version (spec §4.5). The mutator's candidate is checked by
// validateInvariants before commit.
func (s *SQLiteStore) Apply(ctx context.Context, expectedVersion int64, mutate core.Mutator) (core.CycleState, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return core.CycleState{}, fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := s.loadRow(ctx, tx)
	if err != nil {
		return core.CycleState{}, err
	}
	if current == nil {
		return core.CycleState{}, errNoCycle
	}
	if current.Version != expectedVersion {
		return core.CycleState{}, apperrors.ErrVersionConflict
	}

	candidate, err := mutate(current.Clone())
	if err != nil {
		return core.CycleState{}, err
	}
	if err := validateInvariants(candidate); err != nil {
		return core.CycleState{}, err
	}
	candidate.Version = current.Version + 1
	candidate.UpdatedAt = time.Now()

	if err := s.writeRow(ctx, tx, candidate); err != nil {
		return core.CycleState{}, err
	}
	if err := tx.Commit(); err != nil {
		return core.CycleState{}, fmt.Errorf("store: commit: %w", err)
	}
	return candidate, nil
}

// validateInvariants checks a candidate CycleState before it is
// committed: READY requires btc_accumulated == 0, HOLDING requires
// btc_accumulated > 0 and btc_accum_net > 0, and capital_available_usdt
// and both BTC accumulators must not be negative. It does not check
// purchases_remaining or reference_price.
func validateInvariants(s core.CycleState) error {
	epsilon := decimal.RequireFromString("0.00000001")

	if s.Status == core.StatusReady {
		if s.BTCAccumulated.Abs().GreaterThan(epsilon) {
			return fmt.Errorf("%w: READY requires btc_accumulated == 0", apperrors.ErrInvariantViolation)
		}
	}
	if s.Status == core.StatusHolding {
		if !s.BTCAccumulated.GreaterThan(decimal.Zero) || !s.BTCAccumNet.GreaterThan(decimal.Zero) {
			return fmt.Errorf("%w: HOLDING requires btc_accumulated > 0 and btc_accum_net > 0", apperrors.ErrInvariantViolation)
		}
	}
	if s.CapitalAvailableUSDT.Sign() < 0 {
		return fmt.Errorf("%w: capital_available_usdt went negative", apperrors.ErrInvariantViolation)
	}
	if s.BTCAccumulated.Sign() < 0 || s.BTCAccumNet.Sign() < 0 {
		return fmt.Errorf("%w: negative btc accumulator", apperrors.ErrInvariantViolation)
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *SQLiteStore) loadRow(ctx context.Context, q queryRower) (*core.CycleState, error) {
	row := q.QueryRowContext(ctx, `SELECT cycle_id, status, capital_available_usdt, btc_accumulated,
		purchases_remaining, reference_price, cost_accum_usdt, btc_accum_net, ath_price,
		buy_amount_usdt, btc_sold_this_cycle, updated_at, version, checksum FROM cycle_state WHERE id = 1`)

	var (
		cycleID, status                                              string
		capital, btcAcc, ref, costAccum, btcNet, ath, buyAmt, btcSold string
		purchasesRemaining                                            int
		updatedAtUnix, version                                        int64
		checksum                                                      []byte
	)
	err := row.Scan(&cycleID, &status, &capital, &btcAcc, &purchasesRemaining, &ref, &costAccum,
		&btcNet, &ath, &buyAmt, &btcSold, &updatedAtUnix, &version, &checksum)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: load cycle_state: %w", err)
	}

	payload := rowPayload{cycleID, status, capital, btcAcc, purchasesRemaining, ref, costAccum, btcNet, ath, buyAmt, btcSold, updatedAtUnix, version}
	if err := verifyChecksum(payload, checksum); err != nil {
		return nil, err
	}

	state := core.CycleState{
		CycleID:             cycleID,
		Status:              core.Status(status),
		PurchasesRemaining:  purchasesRemaining,
		UpdatedAt:           time.Unix(0, updatedAtUnix),
		Version:             version,
	}
	for _, pair := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&state.CapitalAvailableUSDT, capital},
		{&state.BTCAccumulated, btcAcc},
		{&state.ReferencePrice, ref},
		{&state.CostAccumUSDT, costAccum},
		{&state.BTCAccumNet, btcNet},
		{&state.ATHPrice, ath},
		{&state.BuyAmountUSDT, buyAmt},
		{&state.BTCSoldThisCycle, btcSold},
	} {
		v, perr := decimal.NewFromString(pair.src)
		if perr != nil {
			return nil, fmt.Errorf("store: parse decimal column: %w", perr)
		}
		*pair.dst = v
	}
	return &state, nil
}

type rowPayload struct {
	cycleID             string
	status              string
	capital, btcAcc     string
	purchasesRemaining  int
	ref, costAccum      string
	btcNet, ath, buyAmt string
	btcSold             string
	updatedAtUnix       int64
	version             int64
}

func checksumOf(p rowPayload) [32]byte {
	data, _ := json.Marshal(p)
	return sha256.Sum256(data)
}

func verifyChecksum(p rowPayload, stored []byte) error {
	computed := checksumOf(p)
	if len(stored) != len(computed) {
		return fmt.Errorf("store: checksum length mismatch")
	}
	for i := range computed {
		if stored[i] != computed[i] {
			return fmt.Errorf("store: checksum verification failed, data corruption detected")
		}
	}
	return nil
}

func (s *SQLiteStore) writeRow(ctx context.Context, x execer, state core.CycleState) error {
	payload := rowPayload{
		cycleID:            state.CycleID,
		status:             string(state.Status),
		capital:            state.CapitalAvailableUSDT.String(),
		btcAcc:             state.BTCAccumulated.String(),
		purchasesRemaining: state.PurchasesRemaining,
		ref:                state.ReferencePrice.String(),
		costAccum:          state.CostAccumUSDT.String(),
		btcNet:             state.BTCAccumNet.String(),
		ath:                state.ATHPrice.String(),
		buyAmt:             state.BuyAmountUSDT.String(),
		btcSold:            state.BTCSoldThisCycle.String(),
		updatedAtUnix:      state.UpdatedAt.UnixNano(),
		version:            state.Version,
	}
	checksum := checksumOf(payload)

	_, err := x.ExecContext(ctx, `INSERT OR REPLACE INTO cycle_state
		(id, cycle_id, status, capital_available_usdt, btc_accumulated, purchases_remaining,
		 reference_price, cost_accum_usdt, btc_accum_net, ath_price, buy_amount_usdt,
		 btc_sold_this_cycle, updated_at, version, checksum)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payload.cycleID, payload.status, payload.capital, payload.btcAcc, payload.purchasesRemaining,
		payload.ref, payload.costAccum, payload.btcNet, payload.ath, payload.buyAmt, payload.btcSold,
		payload.updatedAtUnix, payload.version, checksum[:])
	if err != nil {
		return fmt.Errorf("store: write cycle_state: %w", err)
	}
	return nil
}

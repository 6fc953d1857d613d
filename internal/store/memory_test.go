package store

import (
	"context"
	"testing"

	"dcabot/internal/core"
	"dcabot/pkg/apperrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testConfig() core.StrategyConfig {
	return core.StrategyConfig{
		Timeframe:          "4h",
		DropPct:            dec("0.05"),
		RisePct:            dec("0.05"),
		MaxPurchases:       3,
		MinBuyUSDT:         dec("10"),
		InitialCapitalUSDT: dec("300"),
		IsActive:           true,
	}
}

func TestMemoryStoreLoadCreatesReadyCycle(t *testing.T) {
	ms := NewMemoryStore()
	state, err := ms.Load(context.Background(), testConfig())
	require.NoError(t, err)
	require.Equal(t, core.StatusReady, state.Status)
	require.True(t, state.CapitalAvailableUSDT.Equal(dec("300")))
	require.Equal(t, 3, state.PurchasesRemaining)
	require.Equal(t, int64(1), state.Version)
}

func TestMemoryStoreApplyRejectsStaleVersion(t *testing.T) {
	ms := NewMemoryStore()
	state, err := ms.Load(context.Background(), testConfig())
	require.NoError(t, err)

	_, err = ms.Apply(context.Background(), state.Version+1, func(s core.CycleState) (core.CycleState, error) {
		return s, nil
	})
	require.ErrorIs(t, err, apperrors.ErrVersionConflict)
}

func TestMemoryStoreApplyRejectsInvariantViolation(t *testing.T) {
	ms := NewMemoryStore()
	state, err := ms.Load(context.Background(), testConfig())
	require.NoError(t, err)

	_, err = ms.Apply(context.Background(), state.Version, func(s core.CycleState) (core.CycleState, error) {
		s.CapitalAvailableUSDT = dec("-1")
		return s, nil
	})
	require.ErrorIs(t, err, apperrors.ErrInvariantViolation)
}

func TestMemoryStoreApplyIncrementsVersion(t *testing.T) {
	ms := NewMemoryStore()
	state, err := ms.Load(context.Background(), testConfig())
	require.NoError(t, err)

	next, err := ms.Apply(context.Background(), state.Version, func(s core.CycleState) (core.CycleState, error) {
		s.CapitalAvailableUSDT = s.CapitalAvailableUSDT.Sub(dec("100"))
		return s, nil
	})
	require.NoError(t, err)
	require.Equal(t, state.Version+1, next.Version)
	require.True(t, next.CapitalAvailableUSDT.Equal(dec("200")))
}

func TestMemoryStorePendingIntentLifecycle(t *testing.T) {
	ms := NewMemoryStore()
	intent := core.PendingIntent{ClientOrderID: "abc-123", CycleID: "cycle-1", Side: core.OrderSideBuy, Price: dec("100"), Qty: dec("1")}
	require.NoError(t, ms.WriteAheadIntent(context.Background(), intent))

	pending, err := ms.PendingIntents(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, ms.ResolveIntent(context.Background(), "abc-123"))
	pending, err = ms.PendingIntents(context.Background())
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestMemoryStoreTradeIdempotenceLookup(t *testing.T) {
	ms := NewMemoryStore()
	trade := core.TradeRecord{ClientOrderID: "xyz-1", Status: core.TradeFilled}
	require.NoError(t, ms.SaveTrade(context.Background(), trade))

	_, found, err := ms.TradeByClientOrderID(context.Background(), "xyz-1")
	require.NoError(t, err)
	require.True(t, found)

	_, found, err = ms.TradeByClientOrderID(context.Background(), "does-not-exist")
	require.NoError(t, err)
	require.False(t, found)
}

func TestMemoryStorePauseResumeLifecycle(t *testing.T) {
	ms := NewMemoryStore()
	require.NoError(t, ms.SavePause(context.Background(), core.PauseRecord{CycleID: "cycle-1", Reason: core.PauseReasonDriftHalt}))

	p, found, err := ms.LatestPause(context.Background(), "cycle-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Nil(t, p.ResumedAt)

	require.NoError(t, ms.ResolvePause(context.Background(), "cycle-1"))
	p, found, err = ms.LatestPause(context.Background(), "cycle-1")
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, p.ResumedAt)
}

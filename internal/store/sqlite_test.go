package store

import (
	"context"
	"path/filepath"
	"testing"

	"dcabot/internal/core"

	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreLoadBootstrapsAndPersists(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "dcabot.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	cfg := testConfig()
	state, err := s.Load(context.Background(), cfg)
	require.NoError(t, err)
	require.True(t, state.CapitalAvailableUSDT.Equal(dec("300")))

	reloaded, err := s.Load(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, state.CycleID, reloaded.CycleID)
	require.Equal(t, state.Version, reloaded.Version)
}

func TestSQLiteStoreApplyAndReload(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "dcabot.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	cfg := testConfig()
	state, err := s.Load(context.Background(), cfg)
	require.NoError(t, err)

	updated, err := s.Apply(context.Background(), state.Version, func(cs core.CycleState) (core.CycleState, error) {
		cs.CapitalAvailableUSDT = cs.CapitalAvailableUSDT.Sub(dec("50"))
		return cs, nil
	})
	require.NoError(t, err)
	require.True(t, updated.CapitalAvailableUSDT.Equal(dec("250")))
	require.Equal(t, state.Version+1, updated.Version)

	reloaded, err := s.Load(context.Background(), cfg)
	require.NoError(t, err)
	require.True(t, reloaded.CapitalAvailableUSDT.Equal(dec("250")))
}

func TestSQLiteStoreStrategyConfigRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "dcabot.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	cfg := testConfig()
	require.NoError(t, s.SaveDefault(context.Background(), cfg))

	loaded, ok, err := s.LoadActive(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, cfg.Timeframe, loaded.Timeframe)
	require.True(t, loaded.DropPct.Equal(cfg.DropPct))
}

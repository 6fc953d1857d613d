package store

import (
	"context"
	"sync"

	"dcabot/internal/core"
	"dcabot/pkg/apperrors"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory core.CycleStore/core.ConfigStore double for
// unit tests, grounded on the teacher's store_memory.go in-process
// MemoryStore pattern (mutex-guarded map, no persistence across
// restarts).
type MemoryStore struct {
	mu       sync.Mutex
	state    *core.CycleState
	cfg      *core.StrategyConfig
	intents  map[string]core.PendingIntent
	trades   map[string]core.TradeRecord
	pauses   map[string][]core.PauseRecord
	events   []core.Event
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		intents: make(map[string]core.PendingIntent),
		trades:  make(map[string]core.TradeRecord),
		pauses:  make(map[string][]core.PauseRecord),
	}
}

// Seed installs an initial CycleState directly, bypassing Bootstrap —
// used by tests that want to start from a specific HOLDING/PAUSED state.
func (m *MemoryStore) Seed(state core.CycleState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := state
	m.state = &cp
}

func (m *MemoryStore) Load(ctx context.Context, cfg core.StrategyConfig) (core.CycleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != nil {
		return *m.state, nil
	}
	fresh := core.CycleState{
		CycleID:             "cycle-mem-1",
		Status:              core.StatusReady,
		CapitalAvailableUSDT: cfg.InitialCapitalUSDT,
		BTCAccumulated:      decimal.Zero,
		PurchasesRemaining:  cfg.MaxPurchases,
		CostAccumUSDT:       decimal.Zero,
		BTCAccumNet:         decimal.Zero,
		ATHPrice:            decimal.Zero,
		BuyAmountUSDT:       cfg.InitialCapitalUSDT.Div(decimal.NewFromInt(int64(cfg.MaxPurchases))),
		BTCSoldThisCycle:    decimal.Zero,
		Version:             1,
	}
	m.state = &fresh
	return fresh, nil
}

func (m *MemoryStore) Apply(ctx context.Context, expectedVersion int64, mutate core.Mutator) (core.CycleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return core.CycleState{}, errNoCycle
	}
	if m.state.Version != expectedVersion {
		return core.CycleState{}, apperrors.ErrVersionConflict
	}
	candidate, err := mutate(m.state.Clone())
	if err != nil {
		return core.CycleState{}, err
	}
	if err := validateInvariants(candidate); err != nil {
		return core.CycleState{}, err
	}
	candidate.Version = m.state.Version + 1
	m.state = &candidate
	return candidate, nil
}

func (m *MemoryStore) WriteAheadIntent(ctx context.Context, intent core.PendingIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents[intent.ClientOrderID] = intent
	return nil
}

func (m *MemoryStore) ResolveIntent(ctx context.Context, clientOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.intents, clientOrderID)
	return nil
}

func (m *MemoryStore) PendingIntents(ctx context.Context) ([]core.PendingIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.PendingIntent, 0, len(m.intents))
	for _, v := range m.intents {
		out = append(out, v)
	}
	return out, nil
}

func (m *MemoryStore) SaveTrade(ctx context.Context, t core.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades[t.ClientOrderID] = t
	return nil
}

func (m *MemoryStore) TradeByClientOrderID(ctx context.Context, clientOrderID string) (core.TradeRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[clientOrderID]
	return t, ok, nil
}

func (m *MemoryStore) SavePause(ctx context.Context, p core.PauseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauses[p.CycleID] = append(m.pauses[p.CycleID], p)
	return nil
}

func (m *MemoryStore) ResolvePause(ctx context.Context, cycleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.pauses[cycleID]
	if len(list) == 0 {
		return nil
	}
	now := list[len(list)-1]
	if now.ResumedAt == nil {
		t := now.PausedAt
		list[len(list)-1].ResumedAt = &t
	}
	return nil
}

func (m *MemoryStore) LatestPause(ctx context.Context, cycleID string) (core.PauseRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.pauses[cycleID]
	if len(list) == 0 {
		return core.PauseRecord{}, false, nil
	}
	return list[len(list)-1], true, nil
}

func (m *MemoryStore) LoadActive(ctx context.Context) (core.StrategyConfig, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg == nil {
		return core.StrategyConfig{}, false, nil
	}
	return *m.cfg, true, nil
}

func (m *MemoryStore) SaveDefault(ctx context.Context, cfg core.StrategyConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cfg
	m.cfg = &cp
	return nil
}

// SaveEvent records an event for later inspection by tests.
func (m *MemoryStore) SaveEvent(ctx context.Context, e core.Event, metadataJSON string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// Events returns a snapshot of events recorded so far (test helper).
func (m *MemoryStore) Events() []core.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Event, len(m.events))
	copy(out, m.events)
	return out
}

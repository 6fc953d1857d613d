package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names, grounded on the teacher's MetricsHolder naming
// convention (dcabot_<subject>_<unit>) but renamed for the DCA domain:
// a cycle's realized PnL/capital/accumulator state replaces the
// teacher's position/quality/delta-neutrality gauges, which have no
// analogue in a single-pair DCA strategy.
const (
	MetricCyclePnLRealizedTotal = "dcabot_cycle_pnl_realized_usdt_total"
	MetricCapitalAvailable      = "dcabot_capital_available_usdt"
	MetricBTCAccumulated        = "dcabot_btc_accumulated"
	MetricPurchasesRemaining    = "dcabot_purchases_remaining"
	MetricOrdersPlacedTotal     = "dcabot_orders_placed_total"
	MetricOrdersFilledTotal     = "dcabot_orders_filled_total"
	MetricOrderLatency          = "dcabot_order_latency_ms"
	MetricTickToDecisionLatency = "dcabot_tick_to_decision_latency_ms"
	MetricDriftUSDT             = "dcabot_drift_usdt_ratio"
	MetricDriftBTC              = "dcabot_drift_btc_ratio"
	MetricPauseState            = "dcabot_pause_state"
	MetricWebsocketReconnects   = "dcabot_websocket_reconnects_total"
)

// MetricsHolder holds every initialized instrument for the process. A
// single cycle/symbol is in play (dcabot is single-pair), but gauges
// still key by cycle_id so a restart's fresh cycle does not silently
// blend into the prior cycle's last-observed value.
type MetricsHolder struct {
	CyclePnLRealizedTotal metric.Float64Counter
	CapitalAvailable      metric.Float64ObservableGauge
	BTCAccumulated        metric.Float64ObservableGauge
	PurchasesRemaining    metric.Int64ObservableGauge
	OrdersPlacedTotal     metric.Int64Counter
	OrdersFilledTotal     metric.Int64Counter
	OrderLatency          metric.Float64Histogram
	TickToDecisionLatency metric.Float64Histogram
	DriftUSDT             metric.Float64ObservableGauge
	DriftBTC              metric.Float64ObservableGauge
	PauseState            metric.Int64ObservableGauge
	WebsocketReconnects   metric.Int64Counter

	mu                 sync.RWMutex
	capitalMap         map[string]float64
	btcAccMap          map[string]float64
	purchasesRemainMap map[string]int64
	driftUSDTMap       map[string]float64
	driftBTCMap        map[string]float64
	pauseStateMap      map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			capitalMap:         make(map[string]float64),
			btcAccMap:          make(map[string]float64),
			purchasesRemainMap: make(map[string]int64),
			driftUSDTMap:       make(map[string]float64),
			driftBTCMap:        make(map[string]float64),
			pauseStateMap:      make(map[string]int64),
		}
	})
	return globalMetrics
}

// InitMetrics wires every instrument against the given meter.
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	if m.CyclePnLRealizedTotal, err = meter.Float64Counter(MetricCyclePnLRealizedTotal,
		metric.WithDescription("Cumulative realized profit on cycle completion")); err != nil {
		return err
	}
	if m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal,
		metric.WithDescription("Total orders placed")); err != nil {
		return err
	}
	if m.OrdersFilledTotal, err = meter.Int64Counter(MetricOrdersFilledTotal,
		metric.WithDescription("Total orders with a nonzero fill")); err != nil {
		return err
	}
	if m.WebsocketReconnects, err = meter.Int64Counter(MetricWebsocketReconnects,
		metric.WithDescription("Total kline websocket reconnect attempts")); err != nil {
		return err
	}
	if m.OrderLatency, err = meter.Float64Histogram(MetricOrderLatency,
		metric.WithDescription("Latency of a single order placement call"), metric.WithUnit("ms")); err != nil {
		return err
	}
	if m.TickToDecisionLatency, err = meter.Float64Histogram(MetricTickToDecisionLatency,
		metric.WithDescription("Time from closed candle receipt to trigger decision"), metric.WithUnit("ms")); err != nil {
		return err
	}

	if m.CapitalAvailable, err = meter.Float64ObservableGauge(MetricCapitalAvailable,
		metric.WithDescription("Current capital_available_usdt"),
		metric.WithFloat64Callback(m.observeFloat(&m.capitalMap))); err != nil {
		return err
	}
	if m.BTCAccumulated, err = meter.Float64ObservableGauge(MetricBTCAccumulated,
		metric.WithDescription("Current btc_accumulated"),
		metric.WithFloat64Callback(m.observeFloat(&m.btcAccMap))); err != nil {
		return err
	}
	if m.PurchasesRemaining, err = meter.Int64ObservableGauge(MetricPurchasesRemaining,
		metric.WithDescription("Remaining purchase slots in the current cycle"),
		metric.WithInt64Callback(m.observeInt(&m.purchasesRemainMap))); err != nil {
		return err
	}
	if m.DriftUSDT, err = meter.Float64ObservableGauge(MetricDriftUSDT,
		metric.WithDescription("Most recently computed USDT drift ratio"),
		metric.WithFloat64Callback(m.observeFloat(&m.driftUSDTMap))); err != nil {
		return err
	}
	if m.DriftBTC, err = meter.Float64ObservableGauge(MetricDriftBTC,
		metric.WithDescription("Most recently computed BTC drift ratio"),
		metric.WithFloat64Callback(m.observeFloat(&m.driftBTCMap))); err != nil {
		return err
	}
	if m.PauseState, err = meter.Int64ObservableGauge(MetricPauseState,
		metric.WithDescription("1 if the cycle is currently PAUSED, else 0"),
		metric.WithInt64Callback(m.observeInt(&m.pauseStateMap))); err != nil {
		return err
	}

	return nil
}

func (m *MetricsHolder) observeFloat(mapPtr *map[string]float64) metric.Float64Callback {
	return func(ctx context.Context, obs metric.Float64Observer) error {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for cycleID, val := range *mapPtr {
			obs.Observe(val, metric.WithAttributes(attribute.String("cycle_id", cycleID)))
		}
		return nil
	}
}

func (m *MetricsHolder) observeInt(mapPtr *map[string]int64) metric.Int64Callback {
	return func(ctx context.Context, obs metric.Int64Observer) error {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for cycleID, val := range *mapPtr {
			obs.Observe(val, metric.WithAttributes(attribute.String("cycle_id", cycleID)))
		}
		return nil
	}
}

// SetCapitalAvailable records the latest capital_available_usdt gauge
// value for cycleID, as a float64 conversion of the Decimal — gauges are
// for observability only, never for trading decisions.
func (m *MetricsHolder) SetCapitalAvailable(cycleID string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capitalMap[cycleID] = value
}

func (m *MetricsHolder) SetBTCAccumulated(cycleID string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.btcAccMap[cycleID] = value
}

func (m *MetricsHolder) SetPurchasesRemaining(cycleID string, value int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purchasesRemainMap[cycleID] = value
}

func (m *MetricsHolder) SetDriftUSDT(cycleID string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.driftUSDTMap[cycleID] = value
}

func (m *MetricsHolder) SetDriftBTC(cycleID string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.driftBTCMap[cycleID] = value
}

func (m *MetricsHolder) SetPauseState(cycleID string, paused bool) {
	val := int64(0)
	if paused {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauseStateMap[cycleID] = val
}

package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricBusPublishedTotal  = "futuresbot_bus_published_total"
	MetricBusDroppedTotal    = "futuresbot_bus_dropped_total"
	MetricOrdersPlacedTotal  = "futuresbot_orders_placed_total"
	MetricFillsAppliedTotal  = "futuresbot_fills_applied_total"
	MetricSignalsTotal       = "futuresbot_signals_total"
	MetricPnLUnrealized      = "futuresbot_pnl_unrealized"
	MetricPnLRealizedTotal   = "futuresbot_pnl_realized_total"
	MetricPositionSize       = "futuresbot_position_size"
	MetricCircuitBreakerOpen = "futuresbot_circuit_breaker_open"
)

// MetricsHolder holds the initialized instruments.
type MetricsHolder struct {
	BusPublishedTotal metric.Int64Counter
	BusDroppedTotal   metric.Int64Counter
	OrdersPlacedTotal metric.Int64Counter
	FillsAppliedTotal metric.Int64Counter
	SignalsTotal      metric.Int64Counter

	pnlUnrealized      metric.Float64ObservableGauge
	positionSize       metric.Float64ObservableGauge
	circuitBreakerOpen metric.Int64ObservableGauge

	// State for observable gauges
	mu               sync.RWMutex
	unrealizedPnLMap map[string]float64
	positionSizeMap  map[string]float64
	breakerOpen      int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			unrealizedPnLMap: make(map[string]float64),
			positionSizeMap:  make(map[string]float64),
		}
	})
	return globalMetrics
}

// InitMetrics initializes the instruments using the meter.
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	if m.BusPublishedTotal, err = meter.Int64Counter(MetricBusPublishedTotal,
		metric.WithDescription("Messages published on the bus")); err != nil {
		return err
	}
	if m.BusDroppedTotal, err = meter.Int64Counter(MetricBusDroppedTotal,
		metric.WithDescription("Messages dropped from full subscriber queues")); err != nil {
		return err
	}
	if m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal,
		metric.WithDescription("Orders submitted to the venue")); err != nil {
		return err
	}
	if m.FillsAppliedTotal, err = meter.Int64Counter(MetricFillsAppliedTotal,
		metric.WithDescription("Fills applied to the portfolio")); err != nil {
		return err
	}
	if m.SignalsTotal, err = meter.Int64Counter(MetricSignalsTotal,
		metric.WithDescription("Strategy signals emitted")); err != nil {
		return err
	}

	m.pnlUnrealized, err = meter.Float64ObservableGauge(MetricPnLUnrealized,
		metric.WithDescription("Current unrealized PnL"),
		metric.WithFloat64Callback(func(_ context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.unrealizedPnLMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.positionSize, err = meter.Float64ObservableGauge(MetricPositionSize,
		metric.WithDescription("Signed position size"),
		metric.WithFloat64Callback(func(_ context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.positionSizeMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.circuitBreakerOpen, err = meter.Int64ObservableGauge(MetricCircuitBreakerOpen,
		metric.WithDescription("1 when the shared circuit breaker is open"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.breakerOpen)
			return nil
		}))
	return err
}

// SetUnrealizedPnL records the gauge value for a symbol.
func (m *MetricsHolder) SetUnrealizedPnL(symbol string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unrealizedPnLMap[symbol] = value
}

// SetPositionSize records the gauge value for a symbol.
func (m *MetricsHolder) SetPositionSize(symbol string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionSizeMap[symbol] = value
}

// SetCircuitBreakerOpen flips the breaker gauge.
func (m *MetricsHolder) SetCircuitBreakerOpen(open bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if open {
		m.breakerOpen = 1
	} else {
		m.breakerOpen = 0
	}
}

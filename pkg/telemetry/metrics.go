package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricTicksTotal           = "spot_trader_ticks_total"
	MetricOrdersTotal          = "spot_trader_orders_total"
	MetricTradesRecordedTotal  = "spot_trader_trades_recorded_total"
	MetricPersistFailuresTotal = "spot_trader_trade_persist_failures_total"
	MetricRealizedPnL          = "spot_trader_realized_pnl_quote"
	MetricPositionOpen         = "spot_trader_position_open"
	MetricLatencyExchange      = "spot_trader_exchange_latency_seconds"
)

// MetricsHolder holds initialized instruments. Recording before InitMetrics is a no-op.
type MetricsHolder struct {
	TicksTotal           metric.Int64Counter
	OrdersTotal          metric.Int64Counter
	TradesRecordedTotal  metric.Int64Counter
	PersistFailuresTotal metric.Int64Counter
	RealizedPnL          metric.Float64UpDownCounter
	PositionOpen         metric.Int64ObservableGauge
	LatencyExchange      metric.Float64Histogram

	// State for observable gauges
	mu              sync.RWMutex
	positionOpenMap map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			positionOpenMap: make(map[string]int64),
		}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.TicksTotal, err = meter.Int64Counter(MetricTicksTotal, metric.WithDescription("Completed polling ticks by status and action"))
	if err != nil {
		return err
	}

	m.OrdersTotal, err = meter.Int64Counter(MetricOrdersTotal, metric.WithDescription("Market order submissions by side and result"))
	if err != nil {
		return err
	}

	m.TradesRecordedTotal, err = meter.Int64Counter(MetricTradesRecordedTotal, metric.WithDescription("Trade records written to the trade log"))
	if err != nil {
		return err
	}

	m.PersistFailuresTotal, err = meter.Int64Counter(MetricPersistFailuresTotal, metric.WithDescription("Trade records that could not be written"))
	if err != nil {
		return err
	}

	m.RealizedPnL, err = meter.Float64UpDownCounter(MetricRealizedPnL, metric.WithDescription("Cumulative realized profit/loss in quote asset"))
	if err != nil {
		return err
	}

	m.LatencyExchange, err = meter.Float64Histogram(MetricLatencyExchange, metric.WithDescription("Latency of exchange API calls"), metric.WithUnit("s"))
	if err != nil {
		return err
	}

	m.PositionOpen, err = meter.Int64ObservableGauge(MetricPositionOpen, metric.WithDescription("Open position state (1=open, 0=searching)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.positionOpenMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

func (m *MetricsHolder) RecordTick(ctx context.Context, status, action string) {
	if m.TicksTotal == nil {
		return
	}
	m.TicksTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("action", action),
	))
}

func (m *MetricsHolder) RecordOrder(ctx context.Context, side, result string) {
	if m.OrdersTotal == nil {
		return
	}
	m.OrdersTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("side", side),
		attribute.String("result", result),
	))
}

func (m *MetricsHolder) RecordTrade(ctx context.Context, side string) {
	if m.TradesRecordedTotal == nil {
		return
	}
	m.TradesRecordedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("side", side)))
}

func (m *MetricsHolder) RecordPersistFailure(ctx context.Context, side string) {
	if m.PersistFailuresTotal == nil {
		return
	}
	m.PersistFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("side", side)))
}

func (m *MetricsHolder) AddRealizedPnL(ctx context.Context, symbol string, value float64) {
	if m.RealizedPnL == nil {
		return
	}
	m.RealizedPnL.Add(ctx, value, metric.WithAttributes(attribute.String("symbol", symbol)))
}

func (m *MetricsHolder) RecordExchangeLatency(ctx context.Context, operation string, seconds float64) {
	if m.LatencyExchange == nil {
		return
	}
	m.LatencyExchange.Record(ctx, seconds, metric.WithAttributes(attribute.String("operation", operation)))
}

// Helpers to update observable state

func (m *MetricsHolder) SetPositionOpen(symbol string, open bool) {
	val := int64(0)
	if open {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionOpenMap[symbol] = val
}

func (m *MetricsHolder) GetPositionOpen() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64)
	for k, v := range m.positionOpenMap {
		res[k] = v
	}
	return res
}

// Package metrics exposes Prometheus metrics for pool operations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "clmm"

// Metrics holds the collectors of one registry. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Engine metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	TicksCrossed      prometheus.Counter
	PoolLiquidity     *prometheus.GaugeVec
	PoolTick          *prometheus.GaugeVec

	// Boundary metrics
	SettlementFailures prometheus.Counter
	JournalErrors      prometheus.Counter

	// Replay metrics
	ReplayEvents     *prometheus.CounterVec
	ReplayMismatches *prometheus.CounterVec
	RPCCallLatency   *prometheus.HistogramVec
}

// New creates a Metrics instance on its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "operations_total",
			Help:      "Pool operations by kind and outcome",
		}, []string{"op", "status"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "operation_duration_seconds",
			Help:      "Pool operation latency including settlement",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"op"}),
		TicksCrossed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "ticks_crossed_total",
			Help:      "Initialized ticks crossed by swaps",
		}),
		PoolLiquidity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "active_liquidity",
			Help:      "Active liquidity at the current price",
		}, []string{"pool"}),
		PoolTick: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "current_tick",
			Help:      "Current tick of the pool",
		}, []string{"pool"}),

		SettlementFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "custody",
			Name:      "settlement_failures_total",
			Help:      "Operations rolled back because settlement failed",
		}),
		JournalErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "write_errors_total",
			Help:      "Committed operations whose journal write failed",
		}),

		ReplayEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "events_total",
			Help:      "Chain events replayed by name and outcome",
		}, []string{"event", "status"}),
		ReplayMismatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "mismatches_total",
			Help:      "Replayed swaps whose engine state diverged from the chain",
		}, []string{"field"}),
		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordOperation records the outcome and latency of a pool operation.
func (m *Metrics) RecordOperation(op string, started time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(op, status).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// UpdatePool sets the liquidity and tick gauges of a pool.
func (m *Metrics) UpdatePool(pool string, liquidity float64, tick int32) {
	if m == nil {
		return
	}
	m.PoolLiquidity.WithLabelValues(pool).Set(liquidity)
	m.PoolTick.WithLabelValues(pool).Set(float64(tick))
}

func (m *Metrics) AddTicksCrossed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TicksCrossed.Add(float64(n))
}

func (m *Metrics) RecordSettlementFailure() {
	if m == nil {
		return
	}
	m.SettlementFailures.Inc()
}

func (m *Metrics) RecordJournalError() {
	if m == nil {
		return
	}
	m.JournalErrors.Inc()
}

// RecordReplayEvent counts a replayed chain event.
func (m *Metrics) RecordReplayEvent(event, status string) {
	if m == nil {
		return
	}
	m.ReplayEvents.WithLabelValues(event, status).Inc()
}

// RecordMismatch counts a divergence between engine and chain for field.
func (m *Metrics) RecordMismatch(field string) {
	if m == nil {
		return
	}
	m.ReplayMismatches.WithLabelValues(field).Inc()
}

// RecordRPCLatency records RPC call latency.
func (m *Metrics) RecordRPCLatency(method string, started time.Time) {
	if m == nil {
		return
	}
	m.RPCCallLatency.WithLabelValues(method).Observe(time.Since(started).Seconds())
}

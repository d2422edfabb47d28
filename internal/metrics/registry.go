// Package metrics implements engine.MetricsSink with prometheus counters,
// narrowed from
// _examples/VictorVVedtion-perp-dex/metrics/prometheus.go's much larger
// Collector down to the four lifecycle events spec §4.2 actually names.
// SPEC_FULL.md scopes this package to in-process counters; no HTTP
// transport is wired here, so Snapshot exists for a caller that wants to
// expose them some other way (or a future promhttp.Handler).
package metrics

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry collects order/trade/liquidation counters per symbol.
type Registry struct {
	ordersAccepted       *prometheus.CounterVec
	ordersRejected       *prometheus.CounterVec
	tradesExecuted       *prometheus.CounterVec
	tradeVolume          *prometheus.CounterVec
	liquidationsTriggered *prometheus.CounterVec
}

// NewRegistry constructs a Registry and registers its collectors with reg.
// Pass prometheus.NewRegistry() for an isolated registry (tests), or
// prometheus.DefaultRegisterer to expose via the default /metrics handler.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		ordersAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fenrir", Subsystem: "orders", Name: "accepted_total",
			Help: "Orders accepted by the matching engine.",
		}, []string{"symbol"}),
		ordersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fenrir", Subsystem: "orders", Name: "rejected_total",
			Help: "Orders rejected by the matching engine.",
		}, []string{"symbol", "reason"}),
		tradesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fenrir", Subsystem: "trades", Name: "executed_total",
			Help: "Trades executed.",
		}, []string{"symbol"}),
		tradeVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fenrir", Subsystem: "trades", Name: "volume_base_total",
			Help: "Cumulative traded base-asset quantity.",
		}, []string{"symbol"}),
		liquidationsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fenrir", Subsystem: "liquidations", Name: "triggered_total",
			Help: "Forced position closes triggered.",
		}, []string{"symbol"}),
	}
	reg.MustRegister(
		r.ordersAccepted,
		r.ordersRejected,
		r.tradesExecuted,
		r.tradeVolume,
		r.liquidationsTriggered,
	)
	return r
}

// OrderAccepted implements engine.MetricsSink.
func (r *Registry) OrderAccepted(symbol string) {
	r.ordersAccepted.WithLabelValues(symbol).Inc()
}

// OrderRejected implements engine.MetricsSink.
func (r *Registry) OrderRejected(symbol, reason string) {
	r.ordersRejected.WithLabelValues(symbol, reason).Inc()
}

// TradeExecuted implements engine.MetricsSink.
func (r *Registry) TradeExecuted(symbol string, qty float64) {
	r.tradesExecuted.WithLabelValues(symbol).Inc()
	r.tradeVolume.WithLabelValues(symbol).Add(qty)
}

// LiquidationTriggered implements engine.MetricsSink.
func (r *Registry) LiquidationTriggered(symbol string) {
	r.liquidationsTriggered.WithLabelValues(symbol).Inc()
}

// Snapshot is a point-in-time read of the counters, gathered through the
// standard prometheus text-format collection path rather than duplicated
// internal counters, so it can never drift from what a /metrics scrape
// would report.
func (r *Registry) Snapshot(reg *prometheus.Registry) ([]*dto.MetricFamily, error) {
	return reg.Gather()
}

// Package metrics registers the process's prometheus collectors, grouped
// the way the teacher's fiat-gateway groups HTTP metrics: a package-level
// set of CounterVec/HistogramVec registered once at startup, exported for
// components to increment/observe directly.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vexchange_orders_submitted_total",
			Help: "Orders accepted by the matching engine, by symbol and side.",
		},
		[]string{"symbol", "side", "type"},
	)

	OrdersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vexchange_orders_rejected_total",
			Help: "Orders rejected at submission, by reason.",
		},
		[]string{"symbol", "reason"},
	)

	TradesExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vexchange_trades_executed_total",
			Help: "Trades executed by the matching engine.",
		},
		[]string{"symbol"},
	)

	SelfTradesPrevented = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vexchange_self_trades_prevented_total",
			Help: "Matches skipped or expired by self-trade prevention, by mode.",
		},
		[]string{"symbol", "mode"},
	)

	MatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vexchange_match_latency_seconds",
			Help:    "Time spent inside MatchingEngine.SubmitOrder, per symbol.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"symbol"},
	)

	ReplayEventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vexchange_replay_events_processed_total",
			Help: "Historical data points dispatched by the replay controller.",
		},
		[]string{"source"},
	)

	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vexchange_ws_connections",
			Help: "Currently open websocket connections.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		OrdersSubmitted,
		OrdersRejected,
		TradesExecuted,
		SelfTradesPrevented,
		MatchLatency,
		ReplayEventsProcessed,
		WSConnections,
	)
}

// ObserveMatch records how long a SubmitOrder call took for symbol.
func ObserveMatch(symbol string, start time.Time) {
	MatchLatency.WithLabelValues(symbol).Observe(time.Since(start).Seconds())
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	TriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interrupt_triggers_total",
			Help: "Total number of trigger events processed (count)",
		},
		[]string{"status"},
	)

	DispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interrupt_dispatches_total",
			Help: "Total number of dispatch invocations per pipeline (count)",
		},
		[]string{"pipeline", "status"},
	)

	DroppedBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interrupt_dropped_batches_total",
			Help: "Batches dropped by the rate limiter per pipeline (count)",
		},
		[]string{"pipeline"},
	)

	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "interrupt_dispatch_duration_ms",
			Help:    "Wall-clock duration of dispatch invocations in milliseconds",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 15000, 60000, 120000},
		},
		[]string{"pipeline"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "interrupt_pipeline_queue_depth",
			Help: "Triggers currently waiting in a pipeline batch window (count)",
		},
		[]string{"pipeline"},
	)

	CircuitOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "interrupt_pipeline_circuit_open",
			Help: "Whether a pipeline's rate-limit circuit breaker is open (0/1)",
		},
		[]string{"pipeline"},
	)

	ActiveRules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "interrupt_active_rules",
			Help: "Number of enabled rules in the store (count)",
		},
	)

	CollectorPushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interrupt_collector_pushes_total",
			Help: "Watchlist pushes to collectors (count)",
		},
		[]string{"source", "status"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interrupt_http_rate_limit_total",
			Help: "Control-surface requests by rate-limit outcome (count)",
		},
		[]string{"status"},
	)
)

func ObserveDispatchDuration(pipeline string, d time.Duration) {
	DispatchDuration.WithLabelValues(pipeline).Observe(float64(d.Milliseconds()))
}

func SetCircuitOpen(pipeline string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	CircuitOpen.WithLabelValues(pipeline).Set(v)
}

func Register() {
	prometheus.MustRegister(
		TriggersTotal,
		DispatchesTotal,
		DroppedBatchesTotal,
		DispatchDuration,
		QueueDepth,
		CircuitOpen,
		ActiveRules,
		CollectorPushesTotal,
		RateLimitRequestsTotal,
	)
}

package worker

import "github.com/prometheus/client_golang/prometheus"

var (
	inflightGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "qaworker",
			Subsystem: "worker",
			Name:      "inflight_requests",
			Help:      "Inference requests currently executing across workers",
		},
	)

	inferTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qaworker",
			Subsystem: "worker",
			Name:      "infer_total",
			Help:      "Completed inference requests by outcome (ok or error kind)",
		},
		[]string{"outcome"},
	)

	inferDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "qaworker",
			Subsystem: "worker",
			Name:      "infer_duration_seconds",
			Help:      "Duration of inference requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qaworker",
			Subsystem: "worker",
			Name:      "loads_total",
			Help:      "Load acknowledgements by outcome",
		},
		[]string{"outcome"},
	)

	evictRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "qaworker",
			Subsystem: "worker",
			Name:      "evict_requests_total",
			Help:      "Kill requests emitted by idle workers",
		},
	)

	protocolErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "qaworker",
			Subsystem: "worker",
			Name:      "protocol_errors_total",
			Help:      "Coordinator wiring violations (messages before init)",
		},
	)
)

func init() {
	prometheus.MustRegister(inflightGauge, inferTotal, inferDuration, loadsTotal, evictRequestsTotal, protocolErrorsTotal)
}

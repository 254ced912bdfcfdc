package pool

import "github.com/prometheus/client_golang/prometheus"

var (
	liveWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "qaworker",
		Subsystem: "pool",
		Name:      "workers",
		Help:      "Live workers owned by the pool",
	})
	placementsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "qaworker",
		Subsystem: "pool",
		Name:      "placements",
		Help:      "Models resident across all workers",
	})
	retiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "qaworker",
		Subsystem: "pool",
		Name:      "retired_workers_total",
		Help:      "Workers torn down after an idle kill request",
	})
	placementEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "qaworker",
		Subsystem: "pool",
		Name:      "placement_evictions_total",
		Help:      "Placements unloaded by the resident bound",
	})
)

func init() {
	prometheus.MustRegister(liveWorkers, placementsGauge, retiredTotal, placementEvictionsTotal)
}

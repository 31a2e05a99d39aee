package worker

import "github.com/prometheus/client_golang/prometheus"

var (
	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "zimage",
		Subsystem: "worker",
		Name:      "queue_depth",
		Help:      "Units waiting for the device worker",
	})

	queueWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "zimage",
		Subsystem: "worker",
		Name:      "queue_wait_seconds",
		Help:      "Time units spent queued before execution",
		Buckets:   []float64{.001, .01, .1, .5, 1, 5, 15, 30, 60, 120},
	})

	unitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zimage",
			Subsystem: "worker",
			Name:      "units_total",
			Help:      "Units handled by the device worker by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(queueDepth, queueWait, unitsTotal)
}

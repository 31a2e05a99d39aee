package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zimage",
			Subsystem: "generation",
			Name:      "requests_total",
			Help:      "Generation requests by precision and outcome",
		},
		[]string{"precision", "outcome"},
	)

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zimage",
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Time spent on the worker per generation",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"precision"},
	)

	pipelineBuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zimage",
			Subsystem: "pipeline",
			Name:      "builds_total",
			Help:      "Pipeline constructions by precision and outcome",
		},
		[]string{"precision", "outcome"},
	)

	compileFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zimage",
			Subsystem: "pipeline",
			Name:      "compile_fallbacks_total",
			Help:      "Inference retries on the uncompiled transformer",
		},
	)
)

func init() {
	prometheus.MustRegister(generationsTotal, generationDuration, pipelineBuildsTotal, compileFallbacksTotal)
}

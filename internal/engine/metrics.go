package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "onnxd",
			Subsystem: "engine",
			Name:      "jobs_total",
			Help:      "Completion jobs by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	tokensGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "onnxd",
			Subsystem: "engine",
			Name:      "tokens_generated_total",
			Help:      "Tokens produced by the runtime",
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "onnxd",
			Subsystem: "engine",
			Name:      "queue_depth",
			Help:      "Jobs waiting for or running on the generation worker",
		},
	)

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "onnxd",
			Subsystem: "engine",
			Name:      "generation_duration_seconds",
			Help:      "Time spent inside the runtime per job",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"mode"},
	)

	modelLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "onnxd",
			Subsystem: "engine",
			Name:      "model_loaded",
			Help:      "1 while a model is loaded",
		},
	)

	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "onnxd",
			Subsystem: "engine",
			Name:      "loads_total",
			Help:      "Model load attempts by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(jobsTotal, tokensGenerated, queueDepth, generationDuration, modelLoaded, loadsTotal)
}

func modeLabel(stream bool) string {
	if stream {
		return "stream"
	}
	return "batch"
}

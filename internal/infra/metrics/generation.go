package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(generationLatencyMs, artifactBytesTotal)
}

var (
	generationLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "generation_latency_ms",
			Help:    "Time from remote call start to artifact persisted, in milliseconds.",
			Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000, 300000},
		},
		[]string{"success"},
	)

	artifactBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "artifact_bytes_total",
			Help: "Bytes written to the artifact sink by finished jobs.",
		},
	)
)

func ObserveGeneration(d time.Duration, success bool) {
	generationLatencyMs.WithLabelValues(strconv.FormatBool(success)).
		Observe(float64(d / time.Millisecond))
}

func AddArtifactBytes(n int64) {
	if n > 0 {
		artifactBytesTotal.Add(float64(n))
	}
}

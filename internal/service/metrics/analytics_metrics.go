package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	DetectorLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "insiderwatch",
			Subsystem: "detector",
			Name:      "latency_seconds",
			Help:      "Latency of a single detector scoring one feature vector",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 2},
		},
		[]string{"detector"},
	)

	DetectorFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "insiderwatch",
			Subsystem: "detector",
			Name:      "failures_total",
			Help:      "Detector failures isolated from the ensemble",
		},
		[]string{"detector"},
	)

	NoSignalScores = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "insiderwatch",
			Subsystem: "detector",
			Name:      "no_signal_total",
			Help:      "Scores where every detector failed",
		},
	)
)

// Register adds the detector collectors to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(DetectorLatency, DetectorFailures, NoSignalScores)
	})
}

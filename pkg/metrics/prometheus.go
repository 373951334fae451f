package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	events      *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	queueDepth  *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	openAlerts  prometheus.Gauge
}

// New creates a recorder registered with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		events: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insiderwatch_events_total",
				Help: "Events reaching each processing state",
			},
			[]string{"state"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insiderwatch_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "insiderwatch_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		queueDepth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "insiderwatch_partition_queue_depth",
				Help: "Events waiting in each partition queue",
			},
			[]string{"partition"},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insiderwatch_alert_transitions_total",
				Help: "Alert transitions by kind",
			},
			[]string{"kind"},
		),
		openAlerts: f.NewGauge(prometheus.GaugeOpts{
			Name: "insiderwatch_open_alerts",
			Help: "Currently open alerts",
		}),
	}
}

func (r *Recorder) RecordEvent(state string) {
	r.events.WithLabelValues(state).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordQueueDepth(partition int, depth int) {
	r.queueDepth.WithLabelValues(strconv.Itoa(partition)).Set(float64(depth))
}

func (r *Recorder) RecordAlertTransition(kind string) {
	r.transitions.WithLabelValues(kind).Inc()
}

func (r *Recorder) SetOpenAlerts(n int) {
	r.openAlerts.Set(float64(n))
}

// Nop discards everything. Used by tests and offline replays.
type Nop struct{}

func (Nop) RecordEvent(string)            {}
func (Nop) RecordError(string)            {}
func (Nop) RecordLatency(string, float64) {}
func (Nop) RecordQueueDepth(int, int)     {}
func (Nop) RecordAlertTransition(string)  {}
func (Nop) SetOpenAlerts(int)             {}

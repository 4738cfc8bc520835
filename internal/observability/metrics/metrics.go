// Package metrics provides Prometheus metrics for the turn controller.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "parley"

// Metrics holds all Prometheus metrics for the controller.
type Metrics struct {
	// Capture metrics
	CaptureCycles     prometheus.Counter
	CaptureRetries    prometheus.Counter
	CaptureCommits    prometheus.Counter
	RecognitionErrors *prometheus.CounterVec

	// Dispatch metrics
	TurnsTotal    *prometheus.CounterVec
	TurnsInFlight prometheus.Gauge
	ResponseTime  prometheus.Histogram

	// Controller health
	BusyRejections      *prometheus.CounterVec
	InvariantViolations prometheus.Counter

	// Publisher metrics
	PublishTotal  *prometheus.CounterVec
	PublishErrors prometheus.Counter
}

// New creates and registers all metrics with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		CaptureCycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_cycles_total",
			Help:      "Total number of listening activations",
		}),
		CaptureRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_retries_total",
			Help:      "Total number of no-speech retries",
		}),
		CaptureCommits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_commits_total",
			Help:      "Total number of committed voice utterances",
		}),
		RecognitionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_errors_total",
			Help:      "Total number of terminal recognition errors",
		}, []string{"code"}),

		TurnsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of settled turns",
		}, []string{"source", "outcome"}),
		TurnsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "turns_in_flight",
			Help:      "Number of requests awaiting the responder",
		}),
		ResponseTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_response_seconds",
			Help:      "Locally measured time from request to resolution",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),

		BusyRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "busy_rejections_total",
			Help:      "Total number of actions refused because the controller was busy",
		}, []string{"action"}),
		InvariantViolations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Total number of detected controller invariant violations",
		}),

		PublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_publish_total",
			Help:      "Total number of turn publish attempts",
		}, []string{"mode"}),
		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_publish_errors_total",
			Help:      "Total number of failed turn publishes",
		}),
	}
}

// RecordCycleStart records a new listening activation.
func (m *Metrics) RecordCycleStart() {
	if m == nil {
		return
	}
	m.CaptureCycles.Inc()
}

// RecordRetry records a no-speech retry.
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.CaptureRetries.Inc()
}

// RecordCommit records a committed voice utterance.
func (m *Metrics) RecordCommit() {
	if m == nil {
		return
	}
	m.CaptureCommits.Inc()
}

// RecordRecognitionError records a terminal recognition error.
func (m *Metrics) RecordRecognitionError(code string) {
	if m == nil {
		return
	}
	m.RecognitionErrors.WithLabelValues(code).Inc()
}

// RecordDispatchStart records a request entering flight.
func (m *Metrics) RecordDispatchStart() {
	if m == nil {
		return
	}
	m.TurnsInFlight.Inc()
}

// RecordTurn records a settled turn and its local response time.
func (m *Metrics) RecordTurn(source, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TurnsInFlight.Dec()
	m.TurnsTotal.WithLabelValues(source, outcome).Inc()
	m.ResponseTime.Observe(elapsed.Seconds())
}

// RecordBusy records an action refused with AlreadyBusy.
func (m *Metrics) RecordBusy(action string) {
	if m == nil {
		return
	}
	m.BusyRejections.WithLabelValues(action).Inc()
}

// RecordInvariantViolation records a detected defect.
func (m *Metrics) RecordInvariantViolation() {
	if m == nil {
		return
	}
	m.InvariantViolations.Inc()
}

// RecordPublish records a turn publish attempt.
func (m *Metrics) RecordPublish(mode string, err error) {
	if m == nil {
		return
	}
	m.PublishTotal.WithLabelValues(mode).Inc()
	if err != nil {
		m.PublishErrors.Inc()
	}
}

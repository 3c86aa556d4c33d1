package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	storedSessions      prometheus.Gauge
	sessionSaveDuration prometheus.Histogram
	sessionLoadDuration prometheus.Histogram

	portCallTotal    *prometheus.CounterVec
	portCallDuration *prometheus.HistogramVec
	portRetriesTotal *prometheus.CounterVec

	sessionOutcomes *prometheus.CounterVec
	feedbackTotal   prometheus.Counter
	advanceTotal    *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
	registry    *prometheus.Registry
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			storedSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "stored_sessions",
					Help: "Current number of session journals in the live store.",
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_save_duration_seconds",
					Help:    "Session snapshot write duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_load_duration_seconds",
					Help:    "Session journal load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			portCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "port_calls_total",
					Help: "External port calls by port and status.",
				},
				[]string{"port", "status"},
			),
			portCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "port_call_duration_seconds",
					Help:    "External port call duration in seconds by port.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"port"},
			),
			portRetriesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "port_retries_total",
					Help: "Retries of external port calls by port.",
				},
				[]string{"port"},
			),
			sessionOutcomes: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "session_outcomes_total",
					Help: "Sessions reaching a terminal status, by status.",
				},
				[]string{"status"},
			),
			feedbackTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "feedback_submissions_total",
					Help: "Manual feedback submissions accepted.",
				},
			),
			advanceTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "engine_advances_total",
					Help: "Engine advance calls by resulting step.",
				},
				[]string{"step"},
			),
		}

		registry = prometheus.NewRegistry()
		registry.MustRegister(
			m.storedSessions,
			m.sessionSaveDuration,
			m.sessionLoadDuration,
			m.portCallTotal,
			m.portCallDuration,
			m.portRetriesTotal,
			m.sessionOutcomes,
			m.feedbackTotal,
			m.advanceTotal,
		)

		metricsInst = m
	})
	return metricsInst
}

// EnsureRegistered initializes the metrics registry. Safe to call repeatedly.
func EnsureRegistered() {
	getMetrics()
}

// Handler returns an HTTP handler serving the module's metrics.
func Handler() http.Handler {
	getMetrics()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// SetStoredSessions records the current live-store session count.
func SetStoredSessions(n int) {
	getMetrics().storedSessions.Set(float64(n))
}

// RecordSessionSave records a snapshot write duration.
func RecordSessionSave(d time.Duration) {
	getMetrics().sessionSaveDuration.Observe(d.Seconds())
}

// RecordSessionLoad records a journal load duration.
func RecordSessionLoad(d time.Duration) {
	getMetrics().sessionLoadDuration.Observe(d.Seconds())
}

// RecordPortCall records one external port call outcome.
func RecordPortCall(port string, d time.Duration, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m := getMetrics()
	m.portCallTotal.WithLabelValues(port, status).Inc()
	m.portCallDuration.WithLabelValues(port).Observe(d.Seconds())
}

// RecordPortRetry counts a retry of an external port call.
func RecordPortRetry(port string) {
	getMetrics().portRetriesTotal.WithLabelValues(port).Inc()
}

// RecordSessionOutcome counts a session reaching a terminal status.
func RecordSessionOutcome(status string) {
	getMetrics().sessionOutcomes.WithLabelValues(status).Inc()
}

// RecordFeedback counts an accepted manual feedback submission.
func RecordFeedback() {
	getMetrics().feedbackTotal.Inc()
}

// RecordAdvance counts an engine advance by the step it performed.
func RecordAdvance(step string) {
	getMetrics().advanceTotal.WithLabelValues(step).Inc()
}

package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	scheduleMetricsOnce sync.Once
	scheduleRegistry    *ScheduleMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record
// JSON-RPC method activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "jct",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "jct",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and status code.",
			}, []string{"method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "jct",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "jct",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling or auth policies.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" or "unauthorized".
func (m *moduleMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// ScheduleMetrics tracks transitions processed by the ledger.
type ScheduleMetrics struct {
	transitions *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	validation  *prometheus.HistogramVec
	events      *prometheus.CounterVec
}

// Schedule returns the singleton schedule metrics registry.
func Schedule() *ScheduleMetrics {
	scheduleMetricsOnce.Do(func() {
		scheduleRegistry = &ScheduleMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "jct",
				Subsystem: "schedule",
				Name:      "transitions_total",
				Help:      "Count of proposed schedule versions segmented by command and outcome.",
			}, []string{"command", "outcome"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "jct",
				Subsystem: "schedule",
				Name:      "rejections_total",
				Help:      "Count of rejected schedule versions segmented by reason code.",
			}, []string{"reason"}),
			validation: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "jct",
				Subsystem: "schedule",
				Name:      "validation_duration_seconds",
				Help:      "Time spent validating proposed schedule versions.",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			}, []string{"command"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "jct",
				Subsystem: "schedule",
				Name:      "events_total",
				Help:      "Count of schedule events emitted segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(
			scheduleRegistry.transitions,
			scheduleRegistry.rejections,
			scheduleRegistry.validation,
			scheduleRegistry.events,
		)
	})
	return scheduleRegistry
}

func normalizeLabel(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

// RecordTransition records the outcome of one proposal. An empty reason means
// the version was accepted.
func (m *ScheduleMetrics) RecordTransition(command, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	command = normalizeLabel(command, "unknown")
	outcome := "accepted"
	if reason != "" {
		outcome = "rejected"
		m.rejections.WithLabelValues(reason).Inc()
	}
	m.transitions.WithLabelValues(command, outcome).Inc()
	if duration > 0 {
		m.validation.WithLabelValues(command).Observe(duration.Seconds())
	}
}

// RecordEvent counts an emitted event.
func (m *ScheduleMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType, "unknown")).Inc()
}

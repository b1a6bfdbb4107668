package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestTimeouts prometheus.Counter
	RequestAborts   prometheus.Counter
	AutoLogouts     prometheus.Counter

	// Material metrics
	MaterialsNormalized *prometheus.CounterVec
	DefaultSelections   prometheus.Counter

	// Bulk metrics
	BulkInFlight    prometheus.Gauge
	BulkOutcomes    *prometheus.CounterVec
	TagWarnings     *prometheus.CounterVec
	TriggersTotal   *prometheus.CounterVec
	TriggerDuration prometheus.Histogram

	// Error reporting metrics
	ReportedErrors *prometheus.CounterVec
	NoticesShown   *prometheus.CounterVec
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the singleton metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			// Request metrics
			RequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cdpilot_requests_total",
					Help: "Total number of orchestrator requests by method and status code",
				},
				[]string{"method", "code"},
			),
			RequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "cdpilot_request_duration_seconds",
					Help:    "Duration of orchestrator requests in seconds",
					Buckets: prometheus.ExponentialBuckets(0.05, 2, 11), // 50ms to ~51s
				},
				[]string{"method"},
			),
			RequestTimeouts: promauto.NewCounter(prometheus.CounterOpts{
				Name: "cdpilot_request_timeouts_total",
				Help: "Total number of requests aborted by the request timer",
			}),
			RequestAborts: promauto.NewCounter(prometheus.CounterOpts{
				Name: "cdpilot_request_aborts_total",
				Help: "Total number of requests cancelled by the caller",
			}),
			AutoLogouts: promauto.NewCounter(prometheus.CounterOpts{
				Name: "cdpilot_auto_logouts_total",
				Help: "Total number of 401 responses that triggered a logout",
			}),

			// Material metrics
			MaterialsNormalized: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cdpilot_materials_normalized_total",
					Help: "Total number of CD materials normalized by filter state",
				},
				[]string{"filter_state"},
			),
			DefaultSelections: promauto.NewCounter(prometheus.CounterOpts{
				Name: "cdpilot_default_selections_total",
				Help: "Total number of material lists that received a default selection",
			}),

			// Bulk metrics
			BulkInFlight: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "cdpilot_bulk_in_flight",
				Help: "Current number of in-flight bulk fan-out tasks",
			}),
			BulkOutcomes: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cdpilot_bulk_outcomes_total",
					Help: "Total number of bulk fan-out tasks by outcome",
				},
				[]string{"outcome"}, // fulfilled, rejected
			),
			TagWarnings: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cdpilot_tag_warnings_total",
					Help: "Total number of per-application tag warnings by reason",
				},
				[]string{"reason"},
			),
			TriggersTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cdpilot_triggers_total",
					Help: "Total number of deployment triggers by result",
				},
				[]string{"result"},
			),
			TriggerDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "cdpilot_bulk_trigger_duration_seconds",
				Help:    "Duration of a complete bulk trigger fan-out in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
			}),

			// Error reporting metrics
			ReportedErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cdpilot_reported_errors_total",
					Help: "Total number of errors sent to the telemetry sink by kind",
				},
				[]string{"kind"},
			),
			NoticesShown: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cdpilot_notices_shown_total",
					Help: "Total number of user notices by type",
				},
				[]string{"type"},
			),
		}
	})
	return metricsInstance
}

// WriteTextfile writes every registered metric to path in the text exposition
// format, for pickup by a node-exporter textfile collector.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

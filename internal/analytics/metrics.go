package analytics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsTracked   *prometheus.CounterVec
	errorsLogged    *prometheus.CounterVec
	aggregationRuns *prometheus.CounterVec
	rowsDeleted     *prometheus.CounterVec
)

// InitPrometheusMetrics registers the analytics counters on the default
// registry. Call once from main; the counters are optional and everything
// degrades to no-ops when they are not registered (tests).
func InitPrometheusMetrics() {
	eventsTracked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "events_tracked_total",
			Help:      "Total number of ingested analytics events.",
		},
		[]string{"event_type"},
	)
	errorsLogged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "errors_logged_total",
			Help:      "Total number of recorded error logs.",
		},
		[]string{"level"},
	)
	aggregationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "aggregation_runs_total",
			Help:      "Total number of daily aggregation runs.",
		},
		[]string{"scope", "result"},
	)
	rowsDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "retention_rows_deleted_total",
			Help:      "Total number of rows removed by retention cleanup.",
		},
		[]string{"kind"},
	)
	prometheus.MustRegister(eventsTracked, errorsLogged, aggregationRuns, rowsDeleted)
}

func count(c *prometheus.CounterVec, labels ...string) {
	if c != nil {
		c.WithLabelValues(labels...).Inc()
	}
}

func countN(c *prometheus.CounterVec, n float64, labels ...string) {
	if c != nil && n > 0 {
		c.WithLabelValues(labels...).Add(n)
	}
}

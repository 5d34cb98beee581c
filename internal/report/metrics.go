package report

import (
	"github.com/prometheus/client_golang/prometheus"
)

var reportsFinished *prometheus.CounterVec

// InitPrometheusMetrics registers the report counters on the default
// registry. Call once from main; without it the counters are no-ops.
func InitPrometheusMetrics() {
	reportsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "reports_finished_total",
			Help:      "Total number of report runs reaching a terminal state.",
		},
		[]string{"report_type", "status"},
	)
	prometheus.MustRegister(reportsFinished)
}

func countReport(reportType, status string) {
	if reportsFinished != nil {
		reportsFinished.WithLabelValues(reportType, status).Inc()
	}
}

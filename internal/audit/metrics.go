package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Recorded         *prometheus.CounterVec
	Completed        *prometheus.CounterVec
	Duration         *prometheus.HistogramVec
	Pending          prometheus.Gauge
	RepositoryErrors prometheus.Counter
}

// NewMetrics registers the audit collectors with reg. A nil reg gets a
// private registry so metrics are always safe to update.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		Recorded: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "mlp_sdk_audit_recorded_total",
			Help: "Operations recorded in the audit trail.",
		}, []string{"operation"}),

		Completed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "mlp_sdk_audit_completed_total",
			Help: "Operations completed, by terminal status.",
		}, []string{"operation", "status"}),

		Duration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mlp_sdk_operation_duration_seconds",
			Help:    "Time between recording an operation and completing it.",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 30, 120, 600, 3600},
		}, []string{"operation", "status"}),

		Pending: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "mlp_sdk_audit_pending",
			Help: "Audit entries recorded but not yet completed.",
		}),

		RepositoryErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "mlp_sdk_audit_repository_errors_total",
			Help: "Completed entries the audit repository failed to store.",
		}),
	}
}

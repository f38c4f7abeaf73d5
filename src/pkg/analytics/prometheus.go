package analytics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics Prometheus 迁移指标集合
type metrics struct {
	migrationsTotal   *prometheus.CounterVec
	migrationDuration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		migrationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schemaflow",
			Name:      "migrations_total",
			Help:      "Total number of migration runs, partitioned by result.",
		}, []string{"result"}),
		migrationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "schemaflow",
			Name:      "migration_duration_seconds",
			Help:      "Duration of successful migration runs in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
	reg.MustRegister(m.migrationsTotal, m.migrationDuration)
	return m
}

func (m *metrics) observeSuccess(d time.Duration) {
	m.migrationsTotal.WithLabelValues("success").Inc()
	m.migrationDuration.Observe(d.Seconds())
}

func (m *metrics) observeFailure() {
	m.migrationsTotal.WithLabelValues("failure").Inc()
}

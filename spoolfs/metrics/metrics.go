// Package metrics exports spool events to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rarydzu/spoolfs/spoolfs/file"
)

// SpoolMetrics is the Prometheus implementation of file.Metrics
type SpoolMetrics struct {
	stores           *prometheus.GaugeVec
	migrations       prometheus.Counter
	migrationErrors  prometheus.Counter
	migratedBytes    prometheus.Counter
	migrationSeconds prometheus.Histogram
}

var _ file.Metrics = (*SpoolMetrics)(nil)

// New registers spool metrics in reg
func New(reg prometheus.Registerer) *SpoolMetrics {
	return &SpoolMetrics{
		stores: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "spoolfs_stores",
				Help: "Live spool stores by backing",
			},
			[]string{"backing"}, // "memory", "disk"
		),
		migrations: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "spoolfs_migrations_total",
				Help: "Stores moved from memory to disk",
			},
		),
		migrationErrors: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "spoolfs_migration_errors_total",
				Help: "Failed memory to disk migrations",
			},
		),
		migratedBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "spoolfs_migrated_bytes_total",
				Help: "Bytes copied from memory to disk by migrations",
			},
		),
		migrationSeconds: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "spoolfs_migration_duration_seconds",
				Help:    "Time spent copying a store to disk",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
		),
	}
}

func (m *SpoolMetrics) StoreCreated(state file.State) {
	m.stores.WithLabelValues(state.String()).Inc()
}

func (m *SpoolMetrics) StoreReleased(state file.State) {
	m.stores.WithLabelValues(state.String()).Dec()
}

func (m *SpoolMetrics) Migrated(bytes uint64, took time.Duration) {
	m.stores.WithLabelValues(file.MemoryBacked.String()).Dec()
	m.stores.WithLabelValues(file.DiskBacked.String()).Inc()
	m.migrations.Inc()
	m.migratedBytes.Add(float64(bytes))
	m.migrationSeconds.Observe(took.Seconds())
}

func (m *SpoolMetrics) MigrationFailed() {
	m.migrationErrors.Inc()
}

// Handler serves everything gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

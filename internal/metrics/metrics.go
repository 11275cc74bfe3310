// Package metrics provides Prometheus metrics for the table replicator.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/withObsrvr/obsrvr-table-replicator/internal/copier"
)

// Metrics holds all Prometheus metrics for the table replicator.
type Metrics struct {
	// Run metrics
	ReplicationsTotal    *prometheus.CounterVec
	ReplicationDuration  *prometheus.HistogramVec
	LastSuccess          *prometheus.GaugeVec
	PartitionsReplicated *prometheus.CounterVec
	DataDeletions        *prometheus.CounterVec

	// Copier metrics
	CopiesStarted   *prometheus.CounterVec
	CopiesInFlight  prometheus.Gauge
	BytesReplicated *prometheus.CounterVec
	FilesReplicated *prometheus.CounterVec
	RowsVerified    *prometheus.CounterVec
	CopyDuration    *prometheus.HistogramVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled   bool
	Address   string // Address for metrics HTTP server (e.g., ":9090")
	Namespace string
}

var defaultMetrics *Metrics

// Init registers metrics with the default registry and makes them available
// through Get. Call this once at startup.
func Init(namespace string) *Metrics {
	defaultMetrics = New(prometheus.DefaultRegisterer, namespace)
	return defaultMetrics
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// New creates metrics registered with reg.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "table_replicator"
	}
	factory := promauto.With(reg)

	return &Metrics{
		ReplicationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "replications_total",
				Help:      "Total number of replication runs by outcome",
			},
			[]string{"replica_table", "mode", "outcome"},
		),
		ReplicationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "replication_duration_seconds",
				Help:      "Wall time of a replication run",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 0.1s to ~27m
			},
			[]string{"replica_table"},
		),
		LastSuccess: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful replication",
			},
			[]string{"replica_table"},
		),
		PartitionsReplicated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "partitions_replicated_total",
				Help:      "Partitions added or altered in replica tables",
			},
			[]string{"replica_table"},
		),
		DataDeletions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "data_deletions_total",
				Help:      "Superseded replica locations deleted",
			},
			[]string{"replica_table"},
		),
		CopiesStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "copies_started_total",
				Help:      "Copier invocations",
			},
			[]string{"backend"},
		),
		CopiesInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "copies_in_flight",
				Help:      "Copier invocations currently running",
			},
		),
		BytesReplicated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_replicated_total",
				Help:      "Bytes written to replica storage",
			},
			[]string{"backend"},
		),
		FilesReplicated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_replicated_total",
				Help:      "Files written to replica storage",
			},
			[]string{"backend"},
		),
		RowsVerified: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_verified_total",
				Help:      "Parquet rows counted in copied files",
			},
			[]string{"backend"},
		),
		CopyDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "copy_duration_seconds",
				Help:      "Time spent in the copier",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~5m
			},
			[]string{"backend"},
		),
	}
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// ObserveReplication records the outcome of one run.
func (m *Metrics) ObserveReplication(replicaTable, mode string, d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.ReplicationsTotal.WithLabelValues(replicaTable, mode, outcome).Inc()
	m.ReplicationDuration.WithLabelValues(replicaTable).Observe(d.Seconds())
	if err == nil {
		m.LastSuccess.WithLabelValues(replicaTable).SetToCurrentTime()
	}
}

// AddPartitionsReplicated counts partitions written to a replica table.
func (m *Metrics) AddPartitionsReplicated(replicaTable string, n int) {
	m.PartitionsReplicated.WithLabelValues(replicaTable).Add(float64(n))
}

// IncDataDeletions counts a housekeeping deletion.
func (m *Metrics) IncDataDeletions(replicaTable string) {
	m.DataDeletions.WithLabelValues(replicaTable).Inc()
}

// Listener returns a copier.Listener that records copier metrics.
func (m *Metrics) Listener() copier.Listener {
	return &copyListener{m: m}
}

type copyListener struct {
	m *Metrics

	mu      sync.Mutex
	backend string
}

func (l *copyListener) CopierStart(name string) {
	l.mu.Lock()
	l.backend = name
	l.mu.Unlock()

	l.m.CopiesStarted.WithLabelValues(name).Inc()
	l.m.CopiesInFlight.Inc()
}

func (l *copyListener) CopierEnd(cm copier.Metrics) {
	l.mu.Lock()
	backend := l.backend
	l.mu.Unlock()

	l.m.CopiesInFlight.Dec()
	l.m.BytesReplicated.WithLabelValues(backend).Add(float64(cm.BytesReplicated))
	l.m.FilesReplicated.WithLabelValues(backend).Add(float64(cm.FilesReplicated))
	l.m.RowsVerified.WithLabelValues(backend).Add(float64(cm.RowsVerified))
	l.m.CopyDuration.WithLabelValues(backend).Observe(cm.Duration.Seconds())
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Record metrics
	RecordsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vdb_records_total",
			Help: "Total number of records in the scalar store",
		},
	)

	UpsertsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vdb_upserts_total",
			Help: "Total number of upsert requests applied",
		},
	)

	UpsertDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vdb_upsert_duration_seconds",
			Help:    "Time taken to apply an upsert, including the write-ahead log append",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Search metrics
	SearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vdb_searches_total",
			Help: "Total number of searches by index kind and status",
		},
		[]string{"index_kind", "status"},
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vdb_search_duration_seconds",
			Help:    "Search latency in seconds by index kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"index_kind"},
	)

	// Index metrics
	IndexSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vdb_index_size",
			Help: "Number of vectors currently held by an index, by kind",
		},
		[]string{"index_kind"},
	)

	FilterFieldsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vdb_filter_fields_total",
			Help: "Number of distinct scalar fields tracked by the filter index",
		},
	)

	// Write-ahead log metrics
	WALSizeBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vdb_wal_size_bytes",
			Help: "Size of the active write-ahead log segment in bytes",
		},
	)

	WALAppendsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vdb_wal_appends_total",
			Help: "Total number of entries appended to the write-ahead log",
		},
	)

	WALWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "persistence_wal_write_failures_total",
			Help: "Total number of write-ahead log append calls that failed to persist",
		},
	)

	SnapshotsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vdb_snapshots_total",
			Help: "Total number of snapshots taken",
		},
	)

	SnapshotDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vdb_snapshot_duration_seconds",
			Help:    "Time taken to persist a snapshot and rotate the write-ahead log",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Consensus metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vdb_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vdb_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vdb_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vdb_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vdb_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Proxy metrics
	ProxyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vdb_proxy_requests_total",
			Help: "Total number of requests routed by the proxy, by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	ProxyRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vdb_proxy_request_duration_seconds",
			Help:    "Proxy request duration in seconds by endpoint",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	ProxyScatterGatherFanout = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vdb_proxy_scatter_gather_fanout",
			Help:    "Number of partitions fanned out to for an unkeyed scatter-gather query",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
		},
	)
)

func init() {
	prometheus.MustRegister(RecordsTotal)
	prometheus.MustRegister(UpsertsTotal)
	prometheus.MustRegister(UpsertDuration)
	prometheus.MustRegister(SearchesTotal)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(IndexSize)
	prometheus.MustRegister(FilterFieldsTotal)
	prometheus.MustRegister(WALSizeBytes)
	prometheus.MustRegister(WALAppendsTotal)
	prometheus.MustRegister(WALWriteFailuresTotal)
	prometheus.MustRegister(SnapshotsTotal)
	prometheus.MustRegister(SnapshotDuration)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(ProxyRequestsTotal)
	prometheus.MustRegister(ProxyRequestDuration)
	prometheus.MustRegister(ProxyScatterGatherFanout)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

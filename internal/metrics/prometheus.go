package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for maskauth
type PrometheusMetrics struct {
	// Chain RPC metrics
	ConnectionErrorsTotal *prometheus.CounterVec
	RPCRequestsTotal      *prometheus.CounterVec
	RPCRequestDuration    *prometheus.HistogramVec

	// Dashboard metrics
	FetchesTotal              *prometheus.CounterVec
	FetchDuration             prometheus.Histogram
	SubmissionsTracked        prometheus.Gauge
	UnresolvedTransactions    prometheus.Gauge
	DuplicateIPFSHashes       prometheus.Gauge
	StatusDivergences         prometheus.Gauge
	SubmissionCacheHitsTotal  prometheus.Counter
	VotesSubmittedTotal       *prometheus.CounterVec
	VoteConflictsTotal        prometheus.Counter
	MasksSubmittedTotal       *prometheus.CounterVec

	// Indexer metrics
	LatestIndexedBlock prometheus.Gauge
	BlocksBehind       prometheus.Gauge
	EventsIndexedTotal prometheus.Counter
	IndexerSyncsTotal  *prometheus.CounterVec

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates all metrics and registers them on reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		ConnectionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maskauth_connection_errors_total",
				Help: "Total number of connection errors to chain nodes",
			},
			[]string{"endpoint", "error_type"},
		),

		RPCRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maskauth_rpc_requests_total",
				Help: "Total number of RPC requests made to chain nodes",
			},
			[]string{"method", "status"},
		),

		RPCRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "maskauth_rpc_request_duration_seconds",
				Help:    "Duration of RPC requests to chain nodes",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		FetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maskauth_submission_fetches_total",
				Help: "Total number of submission fetch and reconcile passes",
			},
			[]string{"status"},
		),

		FetchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "maskauth_submission_fetch_duration_seconds",
				Help:    "Time spent fetching and reconciling submissions",
				Buckets: prometheus.DefBuckets,
			},
		),

		SubmissionsTracked: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "maskauth_submissions",
				Help: "Number of submissions returned by the last fetch",
			},
		),

		UnresolvedTransactions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "maskauth_unresolved_transactions",
				Help: "Submissions in the last fetch without a matching MaskSubmitted log",
			},
		),

		DuplicateIPFSHashes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "maskauth_duplicate_ipfs_hashes",
				Help: "IPFS hashes seen in more than one MaskSubmitted log during the last fetch",
			},
		),

		StatusDivergences: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "maskauth_status_divergences",
				Help: "Submissions whose derived status disagrees with the contract flags",
			},
		),

		SubmissionCacheHitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "maskauth_submission_cache_hits_total",
				Help: "Completed submission snapshots served from cache",
			},
		),

		VotesSubmittedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maskauth_votes_submitted_total",
				Help: "Total number of validateMask transactions attempted",
			},
			[]string{"approved", "status"},
		),

		VoteConflictsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "maskauth_vote_conflicts_total",
				Help: "Votes refused because another vote on the same submission was in flight",
			},
		),

		MasksSubmittedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maskauth_masks_submitted_total",
				Help: "Total number of submitMask transactions attempted",
			},
			[]string{"status"},
		),

		LatestIndexedBlock: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "maskauth_latest_indexed_block",
				Help: "Latest block mirrored by the event indexer",
			},
		),

		BlocksBehind: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "maskauth_indexer_blocks_behind",
				Help: "Number of blocks between the indexer and the chain head",
			},
		),

		EventsIndexedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "maskauth_events_indexed_total",
				Help: "Total number of MaskSubmitted logs stored by the indexer",
			},
		),

		IndexerSyncsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maskauth_indexer_syncs_total",
				Help: "Total number of indexer sync passes",
			},
			[]string{"status"},
		),

		DatabaseOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maskauth_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "maskauth_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maskauth_http_requests_total",
				Help: "Total number of HTTP requests received",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "maskauth_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "maskauth_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "maskauth_component_health",
				Help: "Health status of application components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "maskauth_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "maskauth_goroutines",
				Help: "Number of running goroutines",
			},
		),
	}
}

// RecordConnectionError records a connection error
func (m *PrometheusMetrics) RecordConnectionError(endpoint, errorType string) {
	m.ConnectionErrorsTotal.WithLabelValues(endpoint, errorType).Inc()
}

// RecordRPCRequest records an RPC request
func (m *PrometheusMetrics) RecordRPCRequest(method, status string, duration time.Duration) {
	m.RPCRequestsTotal.WithLabelValues(method, status).Inc()
	m.RPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordFetch records one fetch and reconcile pass
func (m *PrometheusMetrics) RecordFetch(status string, duration time.Duration) {
	m.FetchesTotal.WithLabelValues(status).Inc()
	m.FetchDuration.Observe(duration.Seconds())
}

// UpdateReconciliation records the shape of the last reconciled view
func (m *PrometheusMetrics) UpdateReconciliation(total, unresolved, duplicates, divergent int) {
	m.SubmissionsTracked.Set(float64(total))
	m.UnresolvedTransactions.Set(float64(unresolved))
	m.DuplicateIPFSHashes.Set(float64(duplicates))
	m.StatusDivergences.Set(float64(divergent))
}

// RecordCacheHit records a completed snapshot served from cache
func (m *PrometheusMetrics) RecordCacheHit() {
	m.SubmissionCacheHitsTotal.Inc()
}

// RecordVote records a validateMask attempt
func (m *PrometheusMetrics) RecordVote(approved bool, status string) {
	m.VotesSubmittedTotal.WithLabelValues(strconv.FormatBool(approved), status).Inc()
}

// RecordVoteConflict records a refused concurrent vote
func (m *PrometheusMetrics) RecordVoteConflict() {
	m.VoteConflictsTotal.Inc()
}

// RecordMaskSubmitted records a submitMask attempt
func (m *PrometheusMetrics) RecordMaskSubmitted(status string) {
	m.MasksSubmittedTotal.WithLabelValues(status).Inc()
}

// UpdateLatestIndexedBlock updates the latest indexed block metric
func (m *PrometheusMetrics) UpdateLatestIndexedBlock(blockNumber uint64) {
	m.LatestIndexedBlock.Set(float64(blockNumber))
}

// UpdateBlocksBehind updates the blocks behind metric
func (m *PrometheusMetrics) UpdateBlocksBehind(behind uint64) {
	m.BlocksBehind.Set(float64(behind))
}

// RecordIndexerSync records an indexer pass and the events it stored
func (m *PrometheusMetrics) RecordIndexerSync(status string, events int) {
	m.IndexerSyncsTotal.WithLabelValues(status).Inc()
	m.EventsIndexedTotal.Add(float64(events))
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime metric
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates the health status of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}

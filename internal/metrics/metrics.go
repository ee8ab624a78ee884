package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion path
	RecordsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opmond_records_submitted_total",
			Help: "Total number of operational records submitted to the buffer",
		},
	)

	RecordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opmond_records_dropped_total",
			Help: "Total number of operational records dropped by the buffer",
		},
		[]string{"reason"},
	)

	BufferDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "opmond_buffer_depth",
			Help: "Current number of records held in the ingestion buffer",
		},
	)

	FlushBatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opmond_flush_batches_total",
			Help: "Total number of record batches flushed to the store",
		},
	)

	FlushErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opmond_flush_errors_total",
			Help: "Total number of failed flush attempts",
		},
	)

	// Query path
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opmond_queries_total",
			Help: "Total number of operational data and health data queries",
		},
		[]string{"operation", "status"},
	)

	StoreQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "opmond_store_query_duration_seconds",
			Help:    "Duration of record store range scans in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	StoreAppendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "opmond_store_append_duration_seconds",
			Help:    "Duration of record store batch appends in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Bulk endpoint
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opmond_store_data_rate_limit_hits_total",
			Help: "Total number of rate limited store_data requests",
		},
		[]string{"producer"},
	)
)

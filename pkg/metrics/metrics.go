// Package metrics provides Prometheus metrics for the Clover service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestItemsTotal tracks batch items by outcome (created/updated/error)
	IngestItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "ingest",
			Name:      "items_total",
			Help:      "Total number of batch items processed by outcome",
		},
		[]string{"outcome"},
	)

	// IngestBatchDuration tracks full batch ingestion duration in seconds
	IngestBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "ingest",
			Name:      "batch_duration_seconds",
			Help:      "Duration of batch ingestion in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	// LineageLinksTotal tracks automatic lineage links by iteration depth
	LineageLinksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "lineage",
			Name:      "links_total",
			Help:      "Total number of re-uploads linked to a prior iteration",
		},
	)

	// DeltasMaterializedTotal tracks deltas created by recompute passes
	DeltasMaterializedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "delta",
			Name:      "materialized_total",
			Help:      "Total number of deltas materialized",
		},
	)

	// DeltasStored reflects the delta rows on file after the last recompute
	DeltasStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clover",
			Subsystem: "delta",
			Name:      "stored_rows",
			Help:      "Number of delta rows on file, refreshed after each recompute pass",
		},
	)

	// RecomputeDuration tracks full recompute pass duration in seconds
	RecomputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "delta",
			Name:      "recompute_duration_seconds",
			Help:      "Duration of delta recompute passes in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	// DuplicateChecksTotal tracks duplicate-upload advisory results
	DuplicateChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "duplicate",
			Name:      "checks_total",
			Help:      "Total number of duplicate checks by result",
		},
		[]string{"result"},
	)
)

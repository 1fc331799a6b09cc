// Package metrics defines the Prometheus metric collectors used across the
// engine and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the engine.
type Metrics struct {
	BatchesProcessedTotal   *prometheus.CounterVec
	BatchRecords            prometheus.Histogram
	BatchDuration           prometheus.Histogram
	DetectionsTotal         *prometheus.CounterVec
	CounterStoreErrorsTotal *prometheus.CounterVec
	OutputUnitsWrittenTotal prometheus.Counter
	CheckpointAdvancesTotal prometheus.Counter
	MalformedRecordsTotal   prometheus.Counter
	ChunksDiscoveredTotal   prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		BatchesProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batches_processed_total",
				Help: "Total batches processed by outcome (committed, abandoned, empty).",
			},
			[]string{"outcome"},
		),
		BatchRecords: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "batch_records",
				Help:    "Number of transaction records per batch.",
				Buckets: []float64{0, 100, 500, 1000, 5000, 10000, 50000},
			},
		),
		BatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "batch_duration_seconds",
				Help:    "End-to-end batch processing latency in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		DetectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "detections_total",
				Help: "Total detections emitted by pattern id.",
			},
			[]string{"pattern"},
		),
		CounterStoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "counter_store_errors_total",
				Help: "Counter-store failures by operation (increment, get).",
			},
			[]string{"op"},
		),
		OutputUnitsWrittenTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "output_units_written_total",
				Help: "Total detection output units durably written.",
			},
		),
		CheckpointAdvancesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "checkpoint_advances_total",
				Help: "Total checkpoint advances (committed batches).",
			},
		),
		MalformedRecordsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "malformed_records_total",
				Help: "Chunk rows skipped due to parse or validation failure.",
			},
		),
		ChunksDiscoveredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chunks_discovered_total",
				Help: "Chunk files discovered by the ingestion watcher.",
			},
		),
	}

	prometheus.MustRegister(
		m.BatchesProcessedTotal,
		m.BatchRecords,
		m.BatchDuration,
		m.DetectionsTotal,
		m.CounterStoreErrorsTotal,
		m.OutputUnitsWrittenTotal,
		m.CheckpointAdvancesTotal,
		m.MalformedRecordsTotal,
		m.ChunksDiscoveredTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

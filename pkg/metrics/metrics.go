// Package metrics provides Prometheus metrics for compile runs.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal tracks compile runs by outcome
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "compile",
			Name:      "runs_total",
			Help:      "Total number of compile runs by outcome",
		},
		[]string{"outcome"},
	)

	// StageDuration tracks how long each pipeline stage takes
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "compile",
			Name:      "stage_duration_seconds",
			Help:      "Duration of compile pipeline stages in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	// DiagnosticsTotal tracks diagnostics by kind and severity
	DiagnosticsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "diagnostics",
			Name:      "total",
			Help:      "Total number of diagnostics by kind and severity",
		},
		[]string{"kind", "severity"},
	)

	// RowsLoaded tracks raw rows loaded per entity
	RowsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "loader",
			Name:      "rows_total",
			Help:      "Total number of raw rows loaded per entity",
		},
		[]string{"entity"},
	)

	// DocumentsWritten tracks compiled documents staged per entity
	DocumentsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "output",
			Name:      "documents_total",
			Help:      "Total number of compiled documents written per entity",
		},
		[]string{"entity"},
	)

	// BytesWritten tracks bytes staged for publication
	BytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "output",
			Name:      "bytes_total",
			Help:      "Total number of bytes written to the staging root",
		},
	)
)

// WriteTextfile dumps every registered metric in the text exposition format, for collection
// by a node exporter textfile collector after the run exits.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

// Package metrics exposes Prometheus collectors for coding runs and export
// jobs. All methods are safe on a nil *Metrics.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Row outcomes and source statuses used as label values.
const (
	OutcomeCoded   = "coded"
	OutcomeSkipped = "skipped"

	SourceOK     = "ok"
	SourceFailed = "failed"
)

// Metrics provides observability for code generation and extraction.
type Metrics struct {
	registry *prometheus.Registry

	// Rows by outcome: coded or skipped (no code assigned)
	Rows *prometheus.CounterVec

	// Codes minted by the allocator
	Allocations prometheus.Counter

	// Diagnostics by kind
	Diagnostics *prometheus.CounterVec

	// Sources processed by status
	Sources *prometheus.CounterVec

	GenerateDuration prometheus.Histogram

	// Export jobs by terminal status
	ExportJobs        *prometheus.CounterVec
	ExportJobDuration prometheus.Histogram
}

// New registers all collectors on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Rows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "srcode_rows_total",
			Help: "Requirement rows processed by outcome",
		}, []string{"outcome"}),

		Allocations: f.NewCounter(prometheus.CounterOpts{
			Name: "srcode_code_allocations_total",
			Help: "Codes minted by the allocator",
		}),

		Diagnostics: f.NewCounterVec(prometheus.CounterOpts{
			Name: "srcode_diagnostics_total",
			Help: "Coding diagnostics by kind",
		}, []string{"kind"}),

		Sources: f.NewCounterVec(prometheus.CounterOpts{
			Name: "srcode_sources_total",
			Help: "Input sources processed by status",
		}, []string{"status"}),

		GenerateDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "srcode_generate_duration_seconds",
			Help:    "Duration of coding one source",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		ExportJobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "srcode_export_jobs_total",
			Help: "Remote export jobs by terminal status",
		}, []string{"status"}),

		ExportJobDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "srcode_export_job_duration_seconds",
			Help:    "Duration of an export job from creation to downloaded archive",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveCoding records the outcome of coding one source.
func (m *Metrics) ObserveCoding(coded, skipped, allocations int, diagnostics map[string]int, d time.Duration) {
	if m == nil {
		return
	}
	m.Rows.WithLabelValues(OutcomeCoded).Add(float64(coded))
	m.Rows.WithLabelValues(OutcomeSkipped).Add(float64(skipped))
	m.Allocations.Add(float64(allocations))
	for kind, n := range diagnostics {
		m.Diagnostics.WithLabelValues(kind).Add(float64(n))
	}
	m.GenerateDuration.Observe(d.Seconds())
}

// IncrementSource records a processed source.
func (m *Metrics) IncrementSource(status string) {
	if m != nil {
		m.Sources.WithLabelValues(status).Inc()
	}
}

// ObserveExportJob records a finished export job.
func (m *Metrics) ObserveExportJob(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ExportJobs.WithLabelValues(status).Inc()
	m.ExportJobDuration.Observe(d.Seconds())
}

// WriteTextfile dumps the registry in the text exposition format for the
// node-exporter textfile collector. An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveCoding(t *testing.T) {
	m := New(nil)
	m.ObserveCoding(8, 2, 5, map[string]int{"key_not_found": 2}, 10*time.Millisecond)
	m.ObserveCoding(1, 0, 1, nil, time.Millisecond)

	if got := testutil.ToFloat64(m.Rows.WithLabelValues(OutcomeCoded)); got != 9 {
		t.Fatalf("coded rows = %v", got)
	}
	if got := testutil.ToFloat64(m.Rows.WithLabelValues(OutcomeSkipped)); got != 2 {
		t.Fatalf("skipped rows = %v", got)
	}
	if got := testutil.ToFloat64(m.Allocations); got != 6 {
		t.Fatalf("allocations = %v", got)
	}
	if got := testutil.ToFloat64(m.Diagnostics.WithLabelValues("key_not_found")); got != 2 {
		t.Fatalf("diagnostics = %v", got)
	}
	if n := testutil.CollectAndCount(m.GenerateDuration); n != 1 {
		t.Fatalf("histogram series = %d", n)
	}
}

func TestSourcesAndExportJobs(t *testing.T) {
	m := New(nil)
	m.IncrementSource(SourceOK)
	m.IncrementSource(SourceFailed)
	m.IncrementSource(SourceOK)
	m.ObserveExportJob("COMPLETED", 3*time.Second)

	if got := testutil.ToFloat64(m.Sources.WithLabelValues(SourceOK)); got != 2 {
		t.Fatalf("ok sources = %v", got)
	}
	if got := testutil.ToFloat64(m.ExportJobs.WithLabelValues("COMPLETED")); got != 1 {
		t.Fatalf("export jobs = %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCoding(1, 1, 1, map[string]int{"x": 1}, time.Second)
	m.IncrementSource(SourceOK)
	m.ObserveExportJob("FAILED", time.Second)
	if m.Registry() != nil {
		t.Fatalf("expected nil registry")
	}
	if err := m.WriteTextfile("/nonexistent/metrics.prom"); err != nil {
		t.Fatalf("nil write: %v", err)
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New(nil)
	m.IncrementSource(SourceOK)
	path := filepath.Join(t.TempDir(), "srcode.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), `srcode_sources_total{status="ok"} 1`) {
		t.Fatalf("textfile missing series:\n%s", b)
	}
	if err := m.WriteTextfile(""); err != nil {
		t.Fatalf("empty path: %v", err)
	}
}

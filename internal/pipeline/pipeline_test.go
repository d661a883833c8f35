package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"srcode/internal/blob"
	"srcode/internal/core"
	"srcode/internal/exportjob"
	"srcode/internal/ledger"
	"srcode/internal/metrics"
	"srcode/internal/source"
	"srcode/internal/table"
	"srcode/pkg/domain"
)

const header = "Event Label,Unique ID,Parent UID,Lineage,Specimen Class,Specimen Type,Collection Container,Initial Quantity\n"

const cohortCSV = header +
	"E1,1,,New,Fluid,Plasma,EDTA,1\n" +
	"E1,2,,New,Fluid,Plasma,EDTA,1\n" +
	"E2,3,1,New,Fluid,Plasma,EDTA,1\n" +
	"E2,4,,New,Fluid,Plasma,EDTA,1\n" +
	"E2,5,,New,Fluid,Plasma,EDTA,1\n"

func mustTable(t *testing.T, body string) *table.Table {
	t.Helper()
	tbl, err := table.Read(strings.NewReader(body))
	require.NoError(t, err)
	return tbl
}

func newService(t *testing.T) (*Service, blob.Store, ledger.Store) {
	t.Helper()
	store := blob.NewMemory()
	l, err := ledger.Open(context.Background(), ledger.DriverMemory, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return &Service{
		Store:       store,
		Ledger:      l,
		Metrics:     metrics.New(nil),
		Options:     core.DefaultOptions(),
		Concurrency: 2,
	}, store, l
}

func column(t *testing.T, tbl *table.Table, name string) []string {
	t.Helper()
	idx := tbl.Column(name)
	require.GreaterOrEqual(t, idx, 0, "column %s", name)
	out := make([]string, 0, len(tbl.Records))
	for _, r := range tbl.Records {
		out = append(out, r[idx])
	}
	return out
}

func TestCode_OrderAndFailures(t *testing.T) {
	svc, _, _ := newService(t)
	sources := []source.Source{
		{Name: "cohort", Origin: "cohort.csv", Table: mustTable(t, cohortCSV)},
		{Name: "broken", Origin: "broken.csv", Table: mustTable(t, "Event Label,Lineage\nE1,New\n")},
		{Name: "empty", Origin: "empty.csv", Table: mustTable(t, header)},
	}

	outputs, err := svc.Code(context.Background(), sources)
	require.Error(t, err)
	assert.ErrorIs(t, err, table.ErrMissingColumn)
	assert.ErrorIs(t, err, core.ErrEmptyTable)

	require.Len(t, outputs, 3)
	assert.Equal(t, "cohort", outputs[0].Source.Name)
	assert.True(t, outputs[0].OK())
	assert.False(t, outputs[1].OK())
	assert.False(t, outputs[2].OK())

	assert.Equal(t, []string{"1", "2", "1", "2", "3"}, column(t, outputs[0].Table, domain.ColumnCode))
	assert.Equal(t, []string{"", "", "1", "", ""}, column(t, outputs[0].Table, domain.ColumnParentCode))
	assert.Equal(t, 5, outputs[0].Stats.Coded)

	assert.InDelta(t, 5, testutil.ToFloat64(svc.Metrics.Rows.WithLabelValues(metrics.OutcomeCoded)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(svc.Metrics.Sources.WithLabelValues(metrics.SourceOK)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(svc.Metrics.Sources.WithLabelValues(metrics.SourceFailed)), 0)
}

func TestCode_StrictStopsSource(t *testing.T) {
	svc, _, _ := newService(t)
	svc.Options.Grouping = core.GroupingContiguous
	interleaved := header +
		"A,1,,New,Fluid,Plasma,EDTA,1\n" +
		"B,2,,New,Fluid,Plasma,EDTA,1\n" +
		"A,3,,New,Fluid,Plasma,EDTA,1\n"
	outputs, err := svc.Code(context.Background(), []source.Source{{Name: "x", Table: mustTable(t, interleaved)}})
	require.ErrorIs(t, err, core.ErrInterleavedEvents)
	assert.Nil(t, outputs[0].Table)
}

func TestCode_InvalidOptions(t *testing.T) {
	svc, _, _ := newService(t)
	svc.Options.Strictness = "pedantic"
	_, err := svc.Code(context.Background(), nil)
	require.Error(t, err)
}

func TestPublish_WritesTablesAndCombined(t *testing.T) {
	svc, store, _ := newService(t)
	svc.WriteCSV, svc.WriteXLSX = true, true
	svc.SourceColumn = "Source"
	ctx := context.Background()

	outputs, err := svc.Code(ctx, []source.Source{
		{Name: "a", Table: mustTable(t, cohortCSV)},
		{Name: "b", Table: mustTable(t, cohortCSV)},
		{Name: "bad", Table: mustTable(t, header)},
	})
	require.Error(t, err)

	combined, err := svc.Publish(ctx, "run-1", outputs)
	require.NoError(t, err)
	assert.Equal(t, []string{"coded/run-1/combined.csv", "coded/run-1/combined.xlsx"}, combined)
	assert.Equal(t, []string{"coded/run-1/a.csv", "coded/run-1/a.xlsx"}, outputs[0].Artifacts)
	assert.Empty(t, outputs[2].Artifacts)

	_, data, err := blob.ReadAll(ctx, store, "coded/run-1/combined.csv")
	require.NoError(t, err)
	merged := mustTable(t, string(data))
	assert.Equal(t, "Source", merged.Header[0])
	assert.Len(t, merged.Records, 10)
	assert.Equal(t, "b", merged.Records[5][0])

	_, xlsx, err := blob.ReadAll(ctx, store, "coded/run-1/a.xlsx")
	require.NoError(t, err)
	wb, err := table.ReadXLSX(bytes.NewReader(xlsx))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "1", "2", "3"}, column(t, wb, domain.ColumnCode))

	// publishing again replaces the artifacts
	_, err = svc.Publish(ctx, "run-1", outputs[:1])
	require.NoError(t, err)
}

func TestPublish_DefaultsToCSV(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	outputs, err := svc.Code(ctx, []source.Source{{Name: "a", Table: mustTable(t, cohortCSV)}})
	require.NoError(t, err)
	_, err = svc.Publish(ctx, "r", outputs)
	require.NoError(t, err)

	infos, err := store.List(ctx, "coded/r/")
	require.NoError(t, err)
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		keys = append(keys, info.Key)
	}
	assert.Equal(t, []string{"coded/r/a.csv", "coded/r/combined.csv"}, keys)
}

func TestRun_FromPaths(t *testing.T) {
	svc, _, l := newService(t)
	svc.MetricsTextfile = filepath.Join(t.TempDir(), "srcode.prom")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte(cohortCSV), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.csv"), []byte(header), 0o600))

	ctx := context.Background()
	rep, err := svc.Run(ctx, RunInput{Paths: []string{dir}})
	require.ErrorIs(t, err, core.ErrEmptyTable)
	assert.Equal(t, domain.RunPartial, rep.Status)
	assert.Equal(t, 1, rep.Failed())
	require.Len(t, rep.Sources, 2)
	assert.Equal(t, "a", rep.Sources[0].Name)
	assert.Equal(t, 5, rep.Sources[0].Stats.Coded)
	assert.Equal(t, []string{RunKey(rep.RunID, "combined", ".csv")}, rep.Combined)

	runs, err := l.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, rep.RunID, runs[0].ID)
	assert.Equal(t, domain.RunPartial, runs[0].Status)
	assert.False(t, runs[0].FinishedAt.IsZero())
	assert.Contains(t, runs[0].Settings, "strictness=lenient")

	recs, err := l.Sources(ctx, rep.RunID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, domain.SourceCoded, recs[0].Status)
	assert.Equal(t, []string{RunKey(rep.RunID, "a", ".csv")}, recs[0].Artifacts)
	assert.Equal(t, domain.SourceFailed, recs[1].Status)
	assert.NotEmpty(t, recs[1].Error)

	prom, err := os.ReadFile(svc.MetricsTextfile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "srcode_rows_total")
}

func TestRun_SameStemSourcesPublishSeparately(t *testing.T) {
	svc, store, l := newService(t)
	root := t.TempDir()
	for _, site := range []string{"siteA", "siteB"} {
		require.NoError(t, os.Mkdir(filepath.Join(root, site), 0o755))
	}
	serum := header + "E1,1,,New,Fluid,Serum,SST,1\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "siteA", "sr.csv"), []byte(cohortCSV), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "siteB", "sr.csv"), []byte(serum), 0o600))

	ctx := context.Background()
	rep, err := svc.Run(ctx, RunInput{Paths: []string{filepath.Join(root, "siteA"), filepath.Join(root, "siteB")}})
	require.NoError(t, err)
	require.Len(t, rep.Sources, 2)
	assert.Equal(t, "sr", rep.Sources[0].Name)
	assert.Equal(t, "sr-2", rep.Sources[1].Name)
	assert.Equal(t, []string{RunKey(rep.RunID, "sr", ".csv")}, rep.Sources[0].Artifacts)
	assert.Equal(t, []string{RunKey(rep.RunID, "sr-2", ".csv")}, rep.Sources[1].Artifacts)

	_, data, err := blob.ReadAll(ctx, store, RunKey(rep.RunID, "sr", ".csv"))
	require.NoError(t, err)
	assert.Equal(t, 5, mustTable(t, string(data)).Len())
	_, data, err = blob.ReadAll(ctx, store, RunKey(rep.RunID, "sr-2", ".csv"))
	require.NoError(t, err)
	second := mustTable(t, string(data))
	require.Equal(t, 1, second.Len())
	assert.Equal(t, []string{"Serum"}, column(t, second, domain.ColumnSpecimenType))

	recs, err := l.Sources(ctx, rep.RunID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.NotEqual(t, recs[0].Name, recs[1].Name)
}

func TestRun_MissingPathStillCodesTheRest(t *testing.T) {
	svc, _, _ := newService(t)
	good := writeFile(t, "cohort.csv", cohortCSV)
	missing := filepath.Join(t.TempDir(), "missing.csv")

	rep, err := svc.Run(context.Background(), RunInput{Paths: []string{missing, good}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.csv")
	assert.Equal(t, domain.RunPartial, rep.Status)
	require.Len(t, rep.Sources, 1)
	assert.Equal(t, "cohort", rep.Sources[0].Name)
	assert.Equal(t, 5, rep.Sources[0].Stats.Coded)
}

func TestUniqueNames(t *testing.T) {
	got := uniqueNames([]string{"sr", "sr-2", "SR", "combined", "", "sr"})
	assert.Equal(t, []string{"sr", "sr-2", "SR-3", "combined-2", "source", "sr-4"}, got)
}

func TestRun_NoSources(t *testing.T) {
	svc, _, l := newService(t)
	rep, err := svc.Run(context.Background(), RunInput{})
	require.ErrorIs(t, err, ErrNoSources)
	assert.Equal(t, domain.RunFailed, rep.Status)

	runs, err := l.Runs(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, runs[0].Status)
}

func TestRun_WithoutLedger(t *testing.T) {
	svc, _, _ := newService(t)
	svc.Ledger = nil
	rep, err := svc.Run(context.Background(), RunInput{Paths: []string{writeFile(t, "cohort.csv", cohortCSV)}})
	require.NoError(t, err)
	assert.Equal(t, domain.RunSucceeded, rep.Status)
}

func TestRun_FromStore(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	_, err := blob.Replace(ctx, store, "exports/Cohort.zip", zipOf(t, cohortCSV), blob.PutOptions{})
	require.NoError(t, err)

	rep, err := svc.Run(ctx, RunInput{FromStore: true})
	require.NoError(t, err)
	require.Len(t, rep.Sources, 1)
	assert.Equal(t, "Cohort", rep.Sources[0].Name)
}

func TestRun_ExportThenCode(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	archive := zipOf(t, cohortCSV)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/rest/ng/sessions":
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
		case r.Header.Get(exportjob.TokenHeader) != "tok":
			w.WriteHeader(http.StatusUnauthorized)
		case r.Method == http.MethodPost && r.URL.Path == "/rest/ng/export-jobs":
			_ = json.NewEncoder(w).Encode(map[string]any{"id": 11, "status": exportjob.StatusCompleted})
		case r.Method == http.MethodGet && r.URL.Path == "/rest/ng/export-jobs/11/output":
			w.Header().Set("Content-Type", "application/zip")
			_, _ = w.Write(archive)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	client := exportjob.New(exportjob.Config{BaseURL: srv.URL, PollInterval: 10 * time.Millisecond}, nil)
	require.NoError(t, client.Login(ctx, exportjob.Credentials{LoginName: "u", Password: "p"}))
	exporter := &exportjob.Exporter{Client: client, Store: store, Metrics: svc.Metrics, Concurrency: 1}

	rep, err := svc.Run(ctx, RunInput{
		Protocols: []exportjob.Protocol{{Identifier: "11", ShortTitle: "Cohort"}},
		Exporter:  exporter,
	})
	require.NoError(t, err)
	require.Len(t, rep.Exports, 1)
	assert.Equal(t, "exports/Cohort_11.zip", rep.Exports[0].Key)
	require.Len(t, rep.Sources, 1)
	assert.Equal(t, "Cohort_11", rep.Sources[0].Name)
	assert.Equal(t, domain.RunSucceeded, rep.Status)
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func zipOf(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("requirements.csv")
	require.NoError(t, err)
	_, err = w.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"srcode/pkg/domain"
)

// RunLedgerContract exercises the behaviour every domain.RunLedger driver
// must share. The ledger must be empty.
func RunLedgerContract(t *testing.T, ledger domain.RunLedger) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		run := domain.Run{ID: id, StartedAt: base.Add(time.Duration(i) * time.Minute), Settings: "quantity=true"}
		if err := ledger.BeginRun(ctx, run); err != nil {
			t.Fatalf("begin %s: %v", id, err)
		}
	}
	if err := ledger.BeginRun(ctx, domain.Run{}); err == nil {
		t.Fatalf("expected error for empty run id")
	}

	runs, err := ledger.Runs(ctx, 0)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 3 || runs[0].ID != "run-c" || runs[2].ID != "run-a" {
		t.Fatalf("runs not newest first: %+v", runs)
	}
	if runs[0].Status != domain.RunRunning || !runs[0].FinishedAt.IsZero() {
		t.Fatalf("new run = %+v", runs[0])
	}
	if limited, _ := ledger.Runs(ctx, 2); len(limited) != 2 || limited[0].ID != "run-c" {
		t.Fatalf("limited runs = %+v", limited)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- ledger.RecordSource(ctx, domain.SourceRecord{
				RunID: "run-b", Name: fmt.Sprintf("source-%d", i), Origin: "in.zip",
				Status: domain.SourceCoded, Rows: 10, Coded: 9, Skipped: 1, Allocations: 4, Diagnostics: 1,
				Artifacts: []string{fmt.Sprintf("coded/run-b/source-%d.csv", i)}, RecordedAt: base,
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("record source: %v", err)
		}
	}
	if err := ledger.RecordSource(ctx, domain.SourceRecord{RunID: "run-b", Name: "bad", Status: domain.SourceFailed, Error: "missing column", RecordedAt: base}); err != nil {
		t.Fatalf("record failed source: %v", err)
	}
	if err := ledger.RecordSource(ctx, domain.SourceRecord{RunID: "nope", Name: "x", RecordedAt: base}); !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}

	recs, err := ledger.Sources(ctx, "run-b")
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	if len(recs) != 5 || recs[4].Name != "bad" || recs[4].Status != domain.SourceFailed || recs[4].Error != "missing column" {
		t.Fatalf("sources = %+v", recs)
	}
	if recs[0].Rows != 10 || recs[0].Coded != 9 || len(recs[0].Artifacts) != 1 || !recs[0].RecordedAt.Equal(base) {
		t.Fatalf("source record = %+v", recs[0])
	}
	if empty, err := ledger.Sources(ctx, "run-a"); err != nil || len(empty) != 0 {
		t.Fatalf("sources of run-a: %v %+v", err, empty)
	}
	if _, err := ledger.Sources(ctx, "nope"); !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}

	done := base.Add(time.Hour)
	if err := ledger.FinishRun(ctx, "run-b", domain.RunPartial, done, "1 source failed"); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := ledger.FinishRun(ctx, "nope", domain.RunSucceeded, done, ""); !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	runs, _ = ledger.Runs(ctx, 0)
	for _, r := range runs {
		if r.ID != "run-b" {
			continue
		}
		if r.Status != domain.RunPartial || !r.FinishedAt.Equal(done) || r.Error != "1 source failed" || r.Settings != "quantity=true" {
			t.Fatalf("finished run = %+v", r)
		}
		return
	}
	t.Fatalf("run-b missing after finish")
}

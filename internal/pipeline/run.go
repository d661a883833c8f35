package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"srcode/internal/exportjob"
	"srcode/internal/source"
	"srcode/pkg/domain"
)

// ErrNoSources is returned when a run has nothing to code.
var ErrNoSources = errors.New("pipeline: no sources to code")

// RunInput describes the inputs of one run. Sources come from Paths, from the
// archives produced by exporting Protocols, and from every export already in
// the blob store when FromStore is set.
type RunInput struct {
	Paths     []string
	Protocols []exportjob.Protocol
	Exporter  *exportjob.Exporter
	FromStore bool
}

// SourceReport summarizes one coded source.
type SourceReport struct {
	Name        string
	Origin      string
	Stats       Stats
	Diagnostics int
	Artifacts   []string
	Err         error
}

// Stats mirrors the per-source counters recorded in the ledger.
type Stats struct {
	Rows        int
	Coded       int
	Skipped     int
	Allocations int
}

// Report is the outcome of Run.
type Report struct {
	RunID      string
	Status     domain.RunStatus
	StartedAt  time.Time
	FinishedAt time.Time
	Exports    []exportjob.Result
	Sources    []SourceReport
	Combined   []string
}

// Failed counts sources that could not be coded.
func (r Report) Failed() int {
	n := 0
	for _, s := range r.Sources {
		if s.Err != nil {
			n++
		}
	}
	return n
}

// Run executes export, load, code, merge and publish, recording the run in
// the ledger and dumping metrics when configured. The report is returned even
// when the error is non-nil.
func (s *Service) Run(ctx context.Context, in RunInput) (Report, error) {
	logger := s.logger()
	rep := Report{RunID: uuid.NewString(), StartedAt: s.clock(), Status: domain.RunRunning}
	logger = logger.With(zap.String("run_id", rep.RunID))

	if s.Ledger != nil {
		if err := s.Ledger.BeginRun(ctx, domain.Run{
			ID:        rep.RunID,
			Status:    domain.RunRunning,
			StartedAt: rep.StartedAt,
			Settings:  settings(s),
		}); err != nil {
			return rep, fmt.Errorf("begin run: %w", err)
		}
	}

	var errs []error
	sources, exportErr := s.collect(ctx, in, &rep, logger)
	if exportErr != nil {
		errs = append(errs, exportErr)
	}

	var outputs []Output
	if len(sources) == 0 {
		errs = append(errs, ErrNoSources)
	} else {
		var err error
		outputs, err = s.Code(ctx, sources)
		if err != nil {
			errs = append(errs, err)
		}
		if rep.Combined, err = s.Publish(ctx, rep.RunID, outputs); err != nil {
			errs = append(errs, err)
		}
	}

	coded := 0
	for _, o := range outputs {
		sr := SourceReport{
			Name:        o.Source.Name,
			Origin:      o.Source.Origin,
			Stats:       Stats{Rows: o.Stats.Rows, Coded: o.Stats.Coded, Skipped: o.Stats.Skipped, Allocations: o.Stats.Allocations},
			Diagnostics: len(o.Diagnostics),
			Artifacts:   o.Artifacts,
			Err:         o.Err,
		}
		if o.OK() {
			coded++
		}
		rep.Sources = append(rep.Sources, sr)
		if err := s.record(ctx, rep.RunID, sr); err != nil {
			errs = append(errs, err)
		}
	}

	rep.FinishedAt = s.clock()
	runErr := errors.Join(errs...)
	switch {
	case coded == 0:
		rep.Status = domain.RunFailed
	case runErr != nil:
		rep.Status = domain.RunPartial
	default:
		rep.Status = domain.RunSucceeded
	}
	if s.Ledger != nil {
		msg := ""
		if runErr != nil {
			msg = runErr.Error()
		}
		if err := s.Ledger.FinishRun(ctx, rep.RunID, rep.Status, rep.FinishedAt, msg); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("finish run: %w", err))
		}
	}
	if err := s.Metrics.WriteTextfile(s.MetricsTextfile); err != nil {
		logger.Warn("metrics textfile not written", zap.String("path", s.MetricsTextfile), zap.Error(err))
	}

	logger.Info("run finished",
		zap.String("status", string(rep.Status)),
		zap.Int("sources", len(rep.Sources)),
		zap.Int("failed", rep.Failed()),
		zap.Strings("combined", rep.Combined),
		zap.Duration("duration", rep.FinishedAt.Sub(rep.StartedAt)))
	return rep, runErr
}

// collect gathers the sources of a run. Export failures are returned but do
// not prevent coding the archives that were stored.
func (s *Service) collect(ctx context.Context, in RunInput, rep *Report, logger *zap.Logger) ([]source.Source, error) {
	var errs []error
	var sources []source.Source

	if len(in.Paths) > 0 {
		srcs, err := source.LoadPaths(in.Paths)
		if err != nil {
			errs = append(errs, err)
		}
		sources = append(sources, srcs...)
	}

	loader := &source.Loader{Store: s.Store, Logger: logger}
	switch {
	case len(in.Protocols) > 0:
		if in.Exporter == nil {
			return sources, errors.Join(append(errs, errors.New("protocols given without an exporter"))...)
		}
		results, err := in.Exporter.Export(ctx, in.Protocols)
		rep.Exports = results
		if err != nil {
			errs = append(errs, err)
		}
		for _, r := range results {
			if r.Err != nil {
				continue
			}
			srcs, err := loader.LoadBlob(ctx, r.Key)
			if err != nil {
				errs = append(errs, fmt.Errorf("load %s: %w", r.Key, err))
				continue
			}
			sources = append(sources, srcs...)
		}
	case in.FromStore:
		if s.Store == nil {
			return sources, errors.Join(append(errs, errors.New("no blob store configured"))...)
		}
		srcs, err := loader.LoadBlobs(ctx, exportjob.DefaultPrefix)
		if err != nil {
			errs = append(errs, err)
		}
		sources = append(sources, srcs...)
	}
	return sources, errors.Join(errs...)
}

func (s *Service) record(ctx context.Context, runID string, sr SourceReport) error {
	if s.Ledger == nil {
		return nil
	}
	rec := domain.SourceRecord{
		RunID:       runID,
		Name:        sr.Name,
		Origin:      sr.Origin,
		Status:      domain.SourceCoded,
		Rows:        sr.Stats.Rows,
		Coded:       sr.Stats.Coded,
		Skipped:     sr.Stats.Skipped,
		Allocations: sr.Stats.Allocations,
		Diagnostics: sr.Diagnostics,
		Artifacts:   sr.Artifacts,
		RecordedAt:  s.clock(),
	}
	if sr.Err != nil {
		rec.Status = domain.SourceFailed
		rec.Error = sr.Err.Error()
	}
	if err := s.Ledger.RecordSource(ctx, rec); err != nil {
		return fmt.Errorf("record source %s: %w", sr.Name, err)
	}
	return nil
}

func settings(s *Service) string {
	opts := s.Options
	return fmt.Sprintf("quantity_key=%t strictness=%s grouping=%s",
		opts.IncludeQuantityInKey, opts.Strictness, opts.Grouping)
}

// Package pipeline wires the coding core to sources, blob storage, the run
// ledger and metrics.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"srcode/internal/blob"
	"srcode/internal/core"
	"srcode/internal/ledger"
	"srcode/internal/metrics"
	"srcode/internal/source"
	"srcode/internal/table"
)

// Service codes sources and publishes the results. Callers normally start
// from core.DefaultOptions; empty strictness and grouping act as lenient and
// coalesce.
type Service struct {
	Store   blob.Store
	Ledger  ledger.Store // nil disables run recording
	Metrics *metrics.Metrics
	Logger  *zap.Logger

	Options     core.Options
	Concurrency int

	// WriteCSV and WriteXLSX select published formats; neither set means CSV.
	WriteCSV  bool
	WriteXLSX bool
	// SourceColumn names the column identifying each record's source in the
	// combined table. Empty omits it.
	SourceColumn string
	// MetricsTextfile, when set, receives a registry dump after every run.
	MetricsTextfile string

	now func() time.Time
}

// Output is the result of coding one source.
type Output struct {
	Source      source.Source
	Table       *table.Table // annotated copy; nil when Err is set
	Stats       core.Stats
	Diagnostics []core.Diagnostic
	Duration    time.Duration
	Artifacts   []string
	Err         error
}

// OK reports whether the source was coded.
func (o Output) OK() bool { return o.Err == nil && o.Table != nil }

func (s *Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

// Code codes every source with bounded concurrency. Outputs keep the input
// order; sources sharing a name are renamed "<name>-2", "<name>-3" in the
// outputs. A failing source does not stop the others; the returned error
// joins the per-source failures and ctx cancellation.
func (s *Service) Code(ctx context.Context, sources []source.Source) ([]Output, error) {
	opts := s.Options
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	sources = s.renameDuplicates(sources)
	limit := s.Concurrency
	if limit <= 0 {
		limit = 1
	}
	outputs := make([]Output, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, src := range sources {
		g.Go(func() error {
			outputs[i] = s.codeOne(gctx, src, opts)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, o := range outputs {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", o.Source.Name, o.Err))
		}
	}
	return outputs, errors.Join(errs...)
}

func (s *Service) codeOne(ctx context.Context, src source.Source, opts core.Options) Output {
	start := time.Now()
	out := Output{Source: src}
	logger := s.logger().With(zap.String("source", src.Name), zap.String("origin", src.Origin))
	fail := func(err error) Output {
		out.Err = err
		out.Duration = time.Since(start)
		s.Metrics.IncrementSource(metrics.SourceFailed)
		logger.Error("coding failed", zap.Error(err))
		return out
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if src.Table == nil {
		return fail(errors.New("source has no table"))
	}
	rows, err := src.Table.Requirements(opts.KeyPolicy())
	if err != nil {
		return fail(err)
	}
	res, err := core.Generate(rows, opts)
	if err != nil {
		return fail(err)
	}
	annotated, err := src.Table.Annotate(res.Rows)
	if err != nil {
		return fail(err)
	}
	out.Table = annotated
	out.Stats = res.Stats
	out.Diagnostics = res.Diagnostics
	out.Duration = time.Since(start)

	counts := make(map[string]int)
	for kind, n := range res.DiagnosticCounts() {
		counts[string(kind)] = n
	}
	s.Metrics.ObserveCoding(res.Stats.Coded, res.Stats.Skipped, res.Stats.Allocations, counts, out.Duration)
	s.Metrics.IncrementSource(metrics.SourceOK)

	for _, d := range res.Diagnostics {
		logger.Warn("coding diagnostic",
			zap.String("kind", string(d.Kind)),
			zap.Int("line", d.Line),
			zap.String("detail", d.String()))
	}
	logger.Info("source coded",
		zap.Int("rows", res.Stats.Rows),
		zap.Int("events", res.Stats.Events),
		zap.Int("coded", res.Stats.Coded),
		zap.Int("skipped", res.Stats.Skipped),
		zap.Int("allocations", res.Stats.Allocations),
		zap.Int("diagnostics", len(res.Diagnostics)),
		zap.Duration("duration", out.Duration))
	return out
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"srcode/internal/blob"
	"srcode/internal/core"
	"srcode/internal/exportjob"
	"srcode/internal/ledger"
	"srcode/internal/merge"
	"srcode/internal/metrics"
	"srcode/internal/pipeline"
	"srcode/internal/source"
	"srcode/internal/table"
)

func (a *app) extractCmd() *cobra.Command {
	var protocolsPath string
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Export requirement archives for a protocol list into the blob store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := blob.Open(ctx, a.cfg.BlobConfig())
			if err != nil {
				return err
			}
			m := metrics.New(nil)
			exporter, protocols, err := a.exporter(ctx, protocolsPath, store, m)
			if err != nil {
				return err
			}
			results, exportErr := exporter.Export(ctx, protocols)
			printExports(a.stdout, results)
			if err := m.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
				a.logger.Warn("metrics textfile not written", zap.Error(err))
			}
			return exportErr
		},
	}
	cmd.Flags().StringVar(&protocolsPath, "protocols", "", "CSV file with identifier and short_title columns (required)")
	_ = cmd.MarkFlagRequired("protocols")
	return cmd
}

type generateOptions struct {
	output     string
	noQuantity bool
	strict     bool
	grouping   string
}

func (a *app) generateCmd() *cobra.Command {
	var opts generateOptions
	cmd := &cobra.Command{
		Use:   "generate <paths...>",
		Short: "Assign Code and Parent Code to requirement tables",
		Long: "Codes every CSV, XLSX or zip input. With --output and a single source the coded\n" +
			"table is written to that file; otherwise results are published to the blob store.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coding, err := a.codingOptions(cmd, opts)
			if err != nil {
				return err
			}
			if opts.output != "" {
				return a.generateFile(cmd.Context(), args, opts.output, coding)
			}
			svc, closeFn, err := a.service(cmd.Context(), coding)
			if err != nil {
				return err
			}
			defer closeFn()
			rep, err := svc.Run(cmd.Context(), pipeline.RunInput{Paths: args})
			printReport(a.stdout, rep)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.output, "output", "o", "", "write the coded table to this .csv or .xlsx file (single source only)")
	f.BoolVar(&opts.noQuantity, "no-quantity-key", false, "leave Initial Quantity out of the identity key")
	f.BoolVar(&opts.strict, "strict", false, "fail a source at the first unresolvable key")
	f.StringVar(&opts.grouping, "grouping", "", "event grouping: coalesce or contiguous")
	return cmd
}

func (a *app) codingOptions(cmd *cobra.Command, opts generateOptions) (core.Options, error) {
	coding, err := a.cfg.CodingOptions()
	if err != nil {
		return core.Options{}, err
	}
	if opts.noQuantity {
		coding.IncludeQuantityInKey = false
	}
	if opts.strict {
		coding.Strictness = core.StrictnessStrict
	}
	if cmd.Flags().Changed("grouping") {
		if coding.Grouping, err = core.ParseGrouping(opts.grouping); err != nil {
			return core.Options{}, err
		}
	}
	return coding, nil
}

func (a *app) generateFile(ctx context.Context, paths []string, output string, coding core.Options) error {
	sources, err := source.LoadPaths(paths)
	if err != nil {
		return err
	}
	if len(sources) != 1 {
		return fmt.Errorf("--output needs exactly one source, got %d", len(sources))
	}
	svc := &pipeline.Service{Options: coding, Logger: a.logger, Concurrency: 1}
	outputs, err := svc.Code(ctx, sources)
	if err != nil {
		return err
	}
	if err := writeTable(output, outputs[0].Table); err != nil {
		return err
	}
	st := outputs[0].Stats
	_, _ = fmt.Fprintf(a.stdout, "%s: %d rows, %d coded, %d skipped, %d diagnostics -> %s\n",
		sources[0].Name, st.Rows, st.Coded, st.Skipped, len(outputs[0].Diagnostics), output)
	return nil
}

func (a *app) mergeCmd() *cobra.Command {
	var output, sourceColumn string
	cmd := &cobra.Command{
		Use:   "merge <paths...>",
		Short: "Merge coded tables into one",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			sources, err := source.LoadPaths(args)
			if err != nil {
				return err
			}
			inputs := make([]merge.Input, 0, len(sources))
			for _, s := range sources {
				inputs = append(inputs, merge.Input{Name: s.Name, Table: s.Table})
			}
			merged, err := merge.Tables(inputs, merge.Options{SourceColumn: sourceColumn})
			if err != nil {
				return err
			}
			if err := writeTable(output, merged); err != nil {
				return err
			}
			a.logger.Info("merged", zap.Int("sources", len(sources)), zap.Int("records", merged.Len()), zap.String("output", output))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "merged .csv or .xlsx file (required)")
	cmd.Flags().StringVar(&sourceColumn, "source-column", "", "prepend a column holding each record's source name")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func (a *app) runCmd() *cobra.Command {
	var protocolsPath string
	cmd := &cobra.Command{
		Use:   "run [paths...]",
		Short: "Export, code, merge and publish in one run",
		Long: "Runs the full pipeline. Sources are the given paths plus the archives exported\n" +
			"for --protocols; with neither, every archive under exports/ in the blob store is coded.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			coding, err := a.cfg.CodingOptions()
			if err != nil {
				return err
			}
			svc, closeFn, err := a.service(ctx, coding)
			if err != nil {
				return err
			}
			defer closeFn()
			in := pipeline.RunInput{Paths: args, FromStore: len(args) == 0 && protocolsPath == ""}
			if protocolsPath != "" {
				if in.Exporter, in.Protocols, err = a.exporter(ctx, protocolsPath, svc.Store, svc.Metrics); err != nil {
					return err
				}
			}
			rep, err := svc.Run(ctx, in)
			printExports(a.stdout, rep.Exports)
			printReport(a.stdout, rep)
			return err
		},
	}
	cmd.Flags().StringVar(&protocolsPath, "protocols", "", "CSV file with identifier and short_title columns to export first")
	return cmd
}

func (a *app) historyCmd() *cobra.Command {
	var (
		limit int
		runID string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			l, err := ledger.Open(ctx, a.cfg.LedgerDriver(), a.cfg.Ledger.DSN)
			if err != nil {
				return err
			}
			if l == nil {
				return errors.New("run ledger is disabled (set SRCODE_LEDGER_DRIVER)")
			}
			defer func() { _ = l.Close() }()

			w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			if runID != "" {
				recs, err := l.Sources(ctx, runID)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(w, "SOURCE\tSTATUS\tROWS\tCODED\tSKIPPED\tDIAGNOSTICS\tERROR")
				for _, r := range recs {
					_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n", r.Name, r.Status, r.Rows, r.Coded, r.Skipped, r.Diagnostics, r.Error)
				}
				return w.Flush()
			}
			runs, err := l.Runs(ctx, limit)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(w, "RUN\tSTATUS\tSTARTED\tDURATION\tSETTINGS")
			for _, r := range runs {
				dur := "-"
				if !r.FinishedAt.IsZero() {
					dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Status, r.StartedAt.Format(time.RFC3339), dur, r.Settings)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show (0 for all)")
	cmd.Flags().StringVar(&runID, "run", "", "show the sources of one run")
	return cmd
}

// service builds a pipeline service from configuration. The returned
// function closes the ledger.
func (a *app) service(ctx context.Context, coding core.Options) (*pipeline.Service, func(), error) {
	store, err := blob.Open(ctx, a.cfg.BlobConfig())
	if err != nil {
		return nil, nil, err
	}
	l, err := ledger.Open(ctx, a.cfg.LedgerDriver(), a.cfg.Ledger.DSN)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if l != nil {
			_ = l.Close()
		}
	}
	return &pipeline.Service{
		Store:           store,
		Ledger:          l,
		Metrics:         metrics.New(nil),
		Logger:          a.logger,
		Options:         coding,
		Concurrency:     a.cfg.Pipeline.Concurrency,
		WriteCSV:        a.cfg.OutputCSV(),
		WriteXLSX:       a.cfg.OutputXLSX(),
		SourceColumn:    a.cfg.Pipeline.SourceColumn,
		MetricsTextfile: a.cfg.Metrics.Textfile,
	}, closeFn, nil
}

// exporter logs in to the export API and reads the protocol list.
func (a *app) exporter(ctx context.Context, protocolsPath string, store blob.Store, m *metrics.Metrics) (*exportjob.Exporter, []exportjob.Protocol, error) {
	if err := a.cfg.ValidateAPI(); err != nil {
		return nil, nil, err
	}
	f, err := os.Open(protocolsPath)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = f.Close() }()
	protocols, err := exportjob.LoadProtocols(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", protocolsPath, err)
	}
	client := exportjob.New(a.cfg.ExportClient(), a.logger)
	if err := client.Login(ctx, a.cfg.Credentials()); err != nil {
		return nil, nil, err
	}
	return &exportjob.Exporter{
		Client:      client,
		Store:       store,
		Metrics:     m,
		Logger:      a.logger,
		Concurrency: a.cfg.Pipeline.Concurrency,
	}, protocols, nil
}

// writeTable writes t to path, as a workbook when the extension is .xlsx.
func writeTable(path string, t *table.Table) (err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return table.WriteXLSX(f, t, table.DefaultSheet)
	}
	return table.WriteCSV(f, t)
}

func printExports(w io.Writer, results []exportjob.Result) {
	for _, r := range results {
		if r.Err != nil {
			_, _ = fmt.Fprintf(w, "export %s (%s): FAILED: %v\n", r.Protocol.ShortTitle, r.Protocol.Identifier, r.Err)
			continue
		}
		_, _ = fmt.Fprintf(w, "export %s (%s): %s, %d bytes\n", r.Protocol.ShortTitle, r.Protocol.Identifier, r.Key, r.Bytes)
	}
}

func printReport(w io.Writer, rep pipeline.Report) {
	if rep.RunID == "" {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "run %s: %s\n", rep.RunID, rep.Status)
	for _, s := range rep.Sources {
		status := "ok"
		if s.Err != nil {
			status = "failed"
		}
		_, _ = fmt.Fprintf(tw, "  %s\t%s\t%d rows\t%d coded\t%d skipped\t%d diagnostics\n",
			s.Name, status, s.Stats.Rows, s.Stats.Coded, s.Stats.Skipped, s.Diagnostics)
	}
	for _, k := range rep.Combined {
		_, _ = fmt.Fprintf(tw, "  combined\t%s\n", k)
	}
	_ = tw.Flush()
}

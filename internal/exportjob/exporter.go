package exportjob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"srcode/internal/blob"
	"srcode/internal/metrics"
)

// DefaultPrefix is where exported archives are stored in the blob store.
const DefaultPrefix = "exports/"

// Result is the outcome of exporting one protocol.
type Result struct {
	Protocol Protocol
	JobID    int64
	Key      string
	Bytes    int64
	Duration time.Duration
	Err      error
}

// Exporter runs export jobs for a protocol list and stores the archives.
type Exporter struct {
	Client      *Client
	Store       blob.Store
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	Concurrency int
	Prefix      string
}

// Export processes every protocol with bounded concurrency. A failing
// protocol does not stop the others; results keep the input order and the
// returned error joins all per-protocol failures.
func (e *Exporter) Export(ctx context.Context, protocols []Protocol) ([]Result, error) {
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := e.Concurrency
	if limit <= 0 {
		limit = 1
	}
	prefix := e.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	results := make([]Result, len(protocols))
	keys := make(map[string]int, len(protocols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, p := range protocols {
		key := path.Join(prefix, p.ArchiveName())
		if first, dup := keys[key]; dup {
			results[i] = Result{Protocol: p, Err: fmt.Errorf("%w: %s already written by %s", ErrDuplicateArchive, key, protocols[first].Identifier)}
			logger.Error("export skipped", zap.String("cp_id", p.Identifier), zap.String("key", key), zap.Error(results[i].Err))
			continue
		}
		keys[key] = i
		g.Go(func() error {
			results[i] = e.exportOne(gctx, p, key, logger)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("protocol %s (%s): %w", r.Protocol.ShortTitle, r.Protocol.Identifier, r.Err))
		}
	}
	return results, errors.Join(errs...)
}

func (e *Exporter) exportOne(ctx context.Context, p Protocol, key string, logger *zap.Logger) Result {
	start := time.Now()
	res := Result{Protocol: p}
	finish := func(status string, err error) Result {
		res.Err = err
		res.Duration = time.Since(start)
		e.Metrics.ObserveExportJob(status, res.Duration)
		if err != nil {
			logger.Error("export failed", zap.String("cp_id", p.Identifier), zap.String("short_title", p.ShortTitle), zap.Error(err))
		} else {
			logger.Info("export stored", zap.String("cp_id", p.Identifier), zap.String("key", res.Key), zap.Int64("bytes", res.Bytes))
		}
		return res
	}

	job, err := e.Client.CreateJob(ctx, p.Identifier)
	if err != nil {
		return finish("ERROR", err)
	}
	res.JobID = job.ID
	if !job.Done() {
		if job, err = e.Client.Wait(ctx, job.ID); err != nil {
			status := job.Status
			if status == "" {
				status = "ERROR"
			}
			return finish(status, err)
		}
	} else if job.Failed() {
		return finish(job.Status, fmt.Errorf("%w: job %d ended %s", ErrJobFailed, job.ID, job.Status))
	}

	var buf bytes.Buffer
	n, err := e.Client.Download(ctx, job.ID, &buf)
	if err != nil {
		return finish("ERROR", err)
	}
	_, err = blob.Replace(ctx, e.Store, key, buf.Bytes(), blob.PutOptions{
		ContentType: "application/zip",
		Metadata:    map[string]string{"cp_id": p.Identifier, "job_id": fmt.Sprint(job.ID)},
	})
	if err != nil {
		return finish("ERROR", fmt.Errorf("store archive: %w", err))
	}
	res.Key, res.Bytes = key, n
	return finish(StatusCompleted, nil)
}

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"go.uber.org/zap"

	"srcode/internal/blob"
	"srcode/internal/merge"
	"srcode/internal/table"
)

// CodedPrefix is where coded tables are published, one folder per run.
const CodedPrefix = "coded/"

// CombinedName is the base name of the merged table of a run.
const CombinedName = "combined"

const (
	contentTypeCSV  = "text/csv"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// RunKey returns the blob key of a published table.
func RunKey(runID, name, ext string) string {
	return path.Join(CodedPrefix, runID, name+ext)
}

// Publish writes every coded table, then the combined table, under
// coded/<runID>/. Artifact keys are recorded on the outputs; the combined
// keys are returned. Failed outputs are skipped. Outputs that share a name
// are renamed first so no table overwrites another.
func (s *Service) Publish(ctx context.Context, runID string, outputs []Output) ([]string, error) {
	if s.Store == nil {
		return nil, errors.New("publish: no blob store configured")
	}
	var ok []*Output
	for i := range outputs {
		if outputs[i].OK() {
			ok = append(ok, &outputs[i])
		}
	}
	names := make([]string, len(ok))
	for i, o := range ok {
		names[i] = o.Source.Name
	}
	for i, name := range uniqueNames(names) {
		ok[i].Source.Name = name
	}

	var inputs []merge.Input
	var errs []error
	for _, o := range ok {
		keys, err := s.publishTable(ctx, runID, o.Source.Name, o.Table)
		o.Artifacts = append(o.Artifacts, keys...)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", o.Source.Name, err))
			continue
		}
		inputs = append(inputs, merge.Input{Name: o.Source.Name, Table: o.Table})
	}
	if len(inputs) == 0 {
		return nil, errors.Join(errs...)
	}

	combined, err := merge.Tables(inputs, merge.Options{SourceColumn: s.SourceColumn})
	if err != nil {
		return nil, errors.Join(append(errs, fmt.Errorf("merge: %w", err))...)
	}
	keys, err := s.publishTable(ctx, runID, CombinedName, combined)
	if err != nil {
		errs = append(errs, fmt.Errorf("publish %s: %w", CombinedName, err))
	}
	return keys, errors.Join(errs...)
}

func (s *Service) publishTable(ctx context.Context, runID, name string, t *table.Table) ([]string, error) {
	var keys []string
	if s.WriteCSV || !s.WriteXLSX {
		var buf bytes.Buffer
		if err := table.WriteCSV(&buf, t); err != nil {
			return keys, err
		}
		key := RunKey(runID, name, ".csv")
		if err := s.put(ctx, key, buf.Bytes(), contentTypeCSV, runID); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	if s.WriteXLSX {
		var buf bytes.Buffer
		if err := table.WriteXLSX(&buf, t, table.DefaultSheet); err != nil {
			return keys, err
		}
		key := RunKey(runID, name, ".xlsx")
		if err := s.put(ctx, key, buf.Bytes(), contentTypeXLSX, runID); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *Service) put(ctx context.Context, key string, data []byte, contentType, runID string) error {
	info, err := blob.Replace(ctx, s.Store, key, data, blob.PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"run_id": runID},
	})
	if err != nil {
		return err
	}
	s.logger().Info("published", zap.String("key", key), zap.Int64("bytes", info.Size))
	return nil
}

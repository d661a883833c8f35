// Package memory provides an in-memory run ledger for tests and ephemeral
// environments.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"srcode/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.RunLedger = (*Store)(nil)

type (
	// Run aliases domain.Run.
	Run = domain.Run
	// SourceRecord aliases domain.SourceRecord.
	SourceRecord = domain.SourceRecord
)

// Store keeps runs and their source records in process memory.
type Store struct {
	mu      sync.RWMutex
	runs    map[string]Run
	order   []string // run ids in BeginRun order
	sources map[string][]SourceRecord
}

// NewStore returns an empty ledger.
func NewStore() *Store {
	return &Store{runs: make(map[string]Run), sources: make(map[string][]SourceRecord)}
}

func (s *Store) BeginRun(_ context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("begin run: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("begin run: run %s already exists", run.ID)
	}
	if run.Status == "" {
		run.Status = domain.RunRunning
	}
	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)
	return nil
}

func (s *Store) RecordSource(_ context.Context, rec SourceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[rec.RunID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrRunNotFound, rec.RunID)
	}
	rec.Artifacts = slices.Clone(rec.Artifacts)
	s.sources[rec.RunID] = append(s.sources[rec.RunID], rec)
	return nil
}

func (s *Store) FinishRun(_ context.Context, id string, status domain.RunStatus, finishedAt time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRunNotFound, id)
	}
	run.Status, run.FinishedAt, run.Error = status, finishedAt, errMsg
	s.runs[id] = run
	return nil
}

func (s *Store) Runs(_ context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Run, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.runs[s.order[i]])
	}
	// stable keeps BeginRun order for equal start times
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Sources(_ context.Context, runID string) ([]SourceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.runs[runID]; !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	recs := s.sources[runID]
	out := make([]SourceRecord, len(recs))
	for i, r := range recs {
		r.Artifacts = slices.Clone(r.Artifacts)
		out[i] = r
	}
	return out, nil
}

func (s *Store) Close() error { return nil }

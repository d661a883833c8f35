package domain

import (
	"context"
	"errors"
	"time"
)

// RunStatus is the lifecycle state of a coding run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	// RunPartial means at least one source failed and at least one succeeded.
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// SourceStatus is the outcome of coding one source within a run.
type SourceStatus string

const (
	SourceCoded  SourceStatus = "coded"
	SourceFailed SourceStatus = "failed"
)

// Run is one invocation of the pipeline as recorded in the ledger.
type Run struct {
	ID         string
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	// Settings is a short human-readable summary of the coding options.
	Settings string
	Error    string
}

// SourceRecord is what a run did with one source table.
type SourceRecord struct {
	RunID       string
	Name        string
	Origin      string
	Status      SourceStatus
	Rows        int
	Coded       int
	Skipped     int
	Allocations int
	Diagnostics int
	Artifacts   []string // blob keys written for this source
	Error       string
	RecordedAt  time.Time
}

// ErrRunNotFound is returned when a run id is unknown to the ledger.
var ErrRunNotFound = errors.New("ledger: run not found")

// RunLedger is the durable record of coding runs. Implementations must be
// safe for concurrent use; sources of one run may be recorded in parallel.
type RunLedger interface {
	BeginRun(ctx context.Context, run Run) error
	RecordSource(ctx context.Context, rec SourceRecord) error
	FinishRun(ctx context.Context, id string, status RunStatus, finishedAt time.Time, errMsg string) error
	// Runs returns up to limit runs, newest first. limit <= 0 means all.
	Runs(ctx context.Context, limit int) ([]Run, error)
	// Sources returns the records of a run in the order they were recorded.
	Sources(ctx context.Context, runID string) ([]SourceRecord, error)
	Close() error
}

// Package postgres provides a Postgres-backed run ledger through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"srcode/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the ledger interface.
var _ domain.RunLedger = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/srcode?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS srcode_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		settings TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS srcode_run_sources (
		seq BIGSERIAL PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES srcode_runs(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		origin TEXT NOT NULL,
		status TEXT NOT NULL,
		row_count INTEGER NOT NULL,
		coded INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		allocations INTEGER NOT NULL,
		diagnostics INTEGER NOT NULL,
		artifacts JSONB NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS srcode_run_sources_run_id ON srcode_run_sources(run_id)`,
}

// Store persists the ledger to Postgres.
type Store struct {
	db *sql.DB
}

// NewStore opens a Postgres-backed ledger using dsn (falls back to defaultDSN)
// and applies the schema.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := applySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func applySchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) BeginRun(ctx context.Context, run domain.Run) error {
	if run.ID == "" {
		return fmt.Errorf("begin run: empty id")
	}
	if run.Status == "" {
		run.Status = domain.RunRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO srcode_runs(id, status, started_at, finished_at, settings, error) VALUES($1,$2,$3,$4,$5,$6)`,
		run.ID, string(run.Status), run.StartedAt.UTC(), nullTime(run.FinishedAt), run.Settings, run.Error)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", run.ID, err)
	}
	return nil
}

func (s *Store) RecordSource(ctx context.Context, rec domain.SourceRecord) error {
	artifacts := rec.Artifacts
	if artifacts == nil {
		artifacts = []string{}
	}
	payload, err := json.Marshal(artifacts)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO srcode_run_sources(run_id, name, origin, status, row_count, coded, skipped, allocations, diagnostics, artifacts, error, recorded_at)
		 SELECT $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12 WHERE EXISTS (SELECT 1 FROM srcode_runs WHERE id = $1)`,
		rec.RunID, rec.Name, rec.Origin, string(rec.Status), rec.Rows, rec.Coded, rec.Skipped,
		rec.Allocations, rec.Diagnostics, payload, rec.Error, rec.RecordedAt.UTC())
	if err != nil {
		return fmt.Errorf("record source %s: %w", rec.Name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrRunNotFound, rec.RunID)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, id string, status domain.RunStatus, finishedAt time.Time, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE srcode_runs SET status = $1, finished_at = $2, error = $3 WHERE id = $4`,
		string(status), nullTime(finishedAt), errMsg, id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrRunNotFound, id)
	}
	return nil
}

func (s *Store) Runs(ctx context.Context, limit int) ([]domain.Run, error) {
	var limitArg any // NULL means no limit
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, started_at, finished_at, settings, error FROM srcode_runs ORDER BY started_at DESC, id DESC LIMIT $1`, limitArg)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Run
	for rows.Next() {
		var (
			run      domain.Run
			status   string
			finished sql.NullTime
		)
		if err := rows.Scan(&run.ID, &status, &run.StartedAt, &finished, &run.Settings, &run.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Status = domain.RunStatus(status)
		if finished.Valid {
			run.FinishedAt = finished.Time
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func (s *Store) Sources(ctx context.Context, runID string) ([]domain.SourceRecord, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM srcode_runs WHERE id = $1)`, runID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("lookup run: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, name, origin, status, row_count, coded, skipped, allocations, diagnostics, artifacts, error, recorded_at
		 FROM srcode_run_sources WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("select sources: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := []domain.SourceRecord{}
	for rows.Next() {
		var (
			rec       domain.SourceRecord
			status    string
			artifacts []byte
		)
		if err := rows.Scan(&rec.RunID, &rec.Name, &rec.Origin, &status, &rec.Rows, &rec.Coded, &rec.Skipped,
			&rec.Allocations, &rec.Diagnostics, &artifacts, &rec.Error, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		rec.Status = domain.SourceStatus(status)
		if err := json.Unmarshal(artifacts, &rec.Artifacts); err != nil {
			return nil, fmt.Errorf("decode artifacts: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}

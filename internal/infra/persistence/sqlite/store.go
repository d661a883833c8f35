// Package sqlite provides a SQLite-backed run ledger using the pure-Go
// modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"srcode/pkg/domain"
)

var _ domain.RunLedger = (*Store)(nil)

const defaultPath = "srcode.db"

var sqlOpen = sql.Open

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		settings TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS run_sources (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		name TEXT NOT NULL,
		origin TEXT NOT NULL,
		status TEXT NOT NULL,
		row_count INTEGER NOT NULL,
		coded INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		allocations INTEGER NOT NULL,
		diagnostics INTEGER NOT NULL,
		artifacts TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		recorded_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS run_sources_run_id ON run_sources(run_id)`,
}

// Store persists the ledger to a single SQLite file.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the ledger database at path.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sqlOpen("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time avoids SQLITE_BUSY under parallel RecordSource calls
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &Store{db: db, path: path}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) BeginRun(ctx context.Context, run domain.Run) error {
	if run.ID == "" {
		return fmt.Errorf("begin run: empty id")
	}
	if run.Status == "" {
		run.Status = domain.RunRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, status, started_at, finished_at, settings, error) VALUES(?,?,?,?,?,?)`,
		run.ID, string(run.Status), formatTime(run.StartedAt), nullTime(run.FinishedAt), run.Settings, run.Error)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", run.ID, err)
	}
	return nil
}

func (s *Store) RecordSource(ctx context.Context, rec domain.SourceRecord) error {
	artifacts, err := json.Marshal(nonNil(rec.Artifacts))
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO run_sources(run_id, name, origin, status, row_count, coded, skipped, allocations, diagnostics, artifacts, error, recorded_at)
		 SELECT ?,?,?,?,?,?,?,?,?,?,?,? WHERE EXISTS (SELECT 1 FROM runs WHERE id = ?)`,
		rec.RunID, rec.Name, rec.Origin, string(rec.Status), rec.Rows, rec.Coded, rec.Skipped,
		rec.Allocations, rec.Diagnostics, string(artifacts), rec.Error, formatTime(rec.RecordedAt), rec.RunID)
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
		`UPDATE runs SET status = ?, finished_at = ?, error = ? WHERE id = ?`,
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
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, started_at, finished_at, settings, error FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Run
	for rows.Next() {
		var (
			run             domain.Run
			status, started string
			finished        sql.NullString
		)
		if err := rows.Scan(&run.ID, &status, &started, &finished, &run.Settings, &run.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Status = domain.RunStatus(status)
		if run.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if finished.Valid {
			if run.FinishedAt, err = parseTime(finished.String); err != nil {
				return nil, err
			}
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func (s *Store) Sources(ctx context.Context, runID string) ([]domain.SourceRecord, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM runs WHERE id = ?`, runID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("lookup run: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, name, origin, status, row_count, coded, skipped, allocations, diagnostics, artifacts, error, recorded_at
		 FROM run_sources WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("select sources: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := []domain.SourceRecord{}
	for rows.Next() {
		var (
			rec                         domain.SourceRecord
			status, artifacts, recorded string
		)
		if err := rows.Scan(&rec.RunID, &rec.Name, &rec.Origin, &status, &rec.Rows, &rec.Coded, &rec.Skipped,
			&rec.Allocations, &rec.Diagnostics, &artifacts, &rec.Error, &recorded); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		rec.Status = domain.SourceStatus(status)
		if err := json.Unmarshal([]byte(artifacts), &rec.Artifacts); err != nil {
			return nil, fmt.Errorf("decode artifacts: %w", err)
		}
		if rec.RecordedAt, err = parseTime(recorded); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

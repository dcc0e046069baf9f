// Package history keeps a record of past suite runs in a SQLite database.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/devicelab-dev/maestro-orchestra/pkg/core"
	"github.com/devicelab-dev/maestro-orchestra/pkg/report"
)

// Run is one recorded suite run.
type Run struct {
	ID        string
	Name      string
	Device    string
	Status    core.FlowStatus
	StartTime time.Time
	Duration  time.Duration
	Passed    int
	Failed    int
}

// FlowRecord is one flow of a recorded run.
type FlowRecord struct {
	RunID    string
	Seq      int
	Name     string
	File     string
	Status   core.FlowStatus
	Duration time.Duration
	Failure  string
}

// Store is a run history database.
type Store struct {
	db *sql.DB
}

// Open opens the database at path, creating it and its schema if needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate history: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		device TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		passed INTEGER NOT NULL,
		failed INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS flows (
		run_id TEXT NOT NULL REFERENCES runs(id),
		seq INTEGER NOT NULL,
		name TEXT NOT NULL,
		file TEXT NOT NULL,
		status TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		failure TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record stores a finished suite and its flows. A suite without an ID is
// given one. Returns the run ID.
func (s *Store) Record(suite *report.SuiteResult) (string, error) {
	if suite.ID == "" {
		suite.ID = uuid.NewString()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback() //nolint:errcheck

	passed, failed := suite.Tally()
	_, err = tx.Exec(
		`INSERT INTO runs (id, name, device, status, started_at, duration_ms, passed, failed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		suite.ID, suite.Name, suite.Device, suite.Status.String(),
		suite.StartTime.UnixMilli(), suite.Duration.Milliseconds(), passed, failed,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}

	for i, f := range suite.Flows {
		failure := ""
		if f.Failure != nil {
			failure = f.Failure.Message
		}
		_, err = tx.Exec(
			`INSERT INTO flows (run_id, seq, name, file, status, duration_ms, failure)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			suite.ID, i, f.Name, f.File, f.Status.String(), f.Duration.Milliseconds(), failure,
		)
		if err != nil {
			return "", fmt.Errorf("failed to record flow %s: %w", f.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return suite.ID, nil
}

// List returns up to limit runs, newest first.
func (s *Store) List(limit int) ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT id, name, device, status, started_at, duration_ms, passed, failed
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var status string
		var started, duration int64
		if err := rows.Scan(&r.ID, &r.Name, &r.Device, &status, &started, &duration, &r.Passed, &r.Failed); err != nil {
			return nil, err
		}
		if r.Status, err = core.ParseFlowStatus(status); err != nil {
			return nil, err
		}
		r.StartTime = time.UnixMilli(started)
		r.Duration = time.Duration(duration) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Flows returns the flows of a run in execution order.
func (s *Store) Flows(runID string) ([]FlowRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, seq, name, file, status, duration_ms, failure
		 FROM flows WHERE run_id = ? ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flows []FlowRecord
	for rows.Next() {
		var f FlowRecord
		var status string
		var duration int64
		if err := rows.Scan(&f.RunID, &f.Seq, &f.Name, &f.File, &status, &duration, &f.Failure); err != nil {
			return nil, err
		}
		if f.Status, err = core.ParseFlowStatus(status); err != nil {
			return nil, err
		}
		f.Duration = time.Duration(duration) * time.Millisecond
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

// Package history records every calibration run in a sqlite database.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/charlie0129/stereovision/pkg/geometry"
)

// Outcomes of a run.
const (
	OutcomeRunning   = "running"
	OutcomeDone      = "done"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Triggers of a run.
const (
	TriggerStartup   = "startup"
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

var ErrRunNotFound = errors.New("calibration run not found")

// Run is one calibration attempt.
type Run struct {
	ID            string            `json:"id"`
	Trigger       string            `json:"trigger"`
	StartedAt     time.Time         `json:"startedAt"`
	FinishedAt    time.Time         `json:"finishedAt,omitempty"`
	Outcome       string            `json:"outcome"`
	Geometry      geometry.Geometry `json:"geometry"`
	Target        int               `json:"target"`
	PairsCaptured int               `json:"pairsCaptured"`
	Rejected      int               `json:"rejected"`
	Error         string            `json:"error,omitempty"`
}

type DB struct {
	*sql.DB
}

func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single writer avoids SQLITE_BUSY between the app and API goroutines.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS calibration_runs (
			run_id          TEXT PRIMARY KEY,
			trigger_kind    TEXT NOT NULL,
			started_at      BIGINT NOT NULL,
			finished_at     BIGINT,
			outcome         TEXT NOT NULL,
			corners_width   INTEGER NOT NULL,
			corners_height  INTEGER NOT NULL,
			square_size     DOUBLE NOT NULL,
			target          INTEGER NOT NULL,
			pairs_captured  INTEGER NOT NULL DEFAULT 0,
			rejected        INTEGER NOT NULL DEFAULT 0,
			error           TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_calibration_runs_started ON calibration_runs (started_at);
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	return &DB{db}, nil
}

// Begin records a run that has just started.
func (db *DB) Begin(r Run) error {
	if r.Outcome == "" {
		r.Outcome = OutcomeRunning
	}
	_, err := db.Exec(`
		INSERT INTO calibration_runs (
			run_id, trigger_kind, started_at, outcome,
			corners_width, corners_height, square_size, target
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Trigger, r.StartedAt.UnixNano(), r.Outcome,
		r.Geometry.CornersWidth, r.Geometry.CornersHeight, r.Geometry.SquareSize, r.Target,
	)
	if err != nil {
		return fmt.Errorf("failed to record calibration run %s: %w", r.ID, err)
	}
	return nil
}

// Finish records the outcome of a run.
func (db *DB) Finish(id, outcome string, finishedAt time.Time, captured, rejected int, runErr error) error {
	var errText sql.NullString
	if runErr != nil {
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}
	res, err := db.Exec(`
		UPDATE calibration_runs
		SET finished_at = ?, outcome = ?, pairs_captured = ?, rejected = ?, error = ?
		WHERE run_id = ?`,
		finishedAt.UnixNano(), outcome, captured, rejected, errText, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish calibration run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// List returns the most recent runs first. A non-positive limit returns all.
func (db *DB) List(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT run_id, trigger_kind, started_at, finished_at, outcome,
			corners_width, corners_height, square_size, target,
			pairs_captured, rejected, error
		FROM calibration_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Get returns one run.
func (db *DB) Get(id string) (Run, error) {
	row := db.QueryRow(`
		SELECT run_id, trigger_kind, started_at, finished_at, outcome,
			corners_width, corners_height, square_size, target,
			pairs_captured, rejected, error
		FROM calibration_runs
		WHERE run_id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		r          Run
		startedAt  int64
		finishedAt sql.NullInt64
		errText    sql.NullString
	)
	err := s.Scan(
		&r.ID, &r.Trigger, &startedAt, &finishedAt, &r.Outcome,
		&r.Geometry.CornersWidth, &r.Geometry.CornersHeight, &r.Geometry.SquareSize, &r.Target,
		&r.PairsCaptured, &r.Rejected, &errText,
	)
	if err != nil {
		return Run{}, err
	}
	r.StartedAt = time.Unix(0, startedAt)
	if finishedAt.Valid {
		r.FinishedAt = time.Unix(0, finishedAt.Int64)
	}
	r.Error = errText.String
	return r, nil
}

// Package storage keeps run history and incremental-sync state in sqlite.
//
// The engine writes one row per run plus one per step outcome; the CLI
// and TUI read them back. The sync_state table holds high-water marks for
// sync-style step functions and is unrelated to the run lifecycle.
package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stepwise-cli/stepwise/internal/models"
)

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		dry_run INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS step_outcomes (
		run_id TEXT NOT NULL REFERENCES runs(run_id),
		seq INTEGER NOT NULL,
		step TEXT NOT NULL,
		call TEXT NOT NULL,
		status TEXT NOT NULL,
		args TEXT,
		result TEXT,
		error TEXT,
		PRIMARY KEY (run_id, seq)
	);

	CREATE TABLE IF NOT EXISTS sync_state (
		task TEXT NOT NULL,
		field TEXT NOT NULL,
		value TEXT NOT NULL,
		last_run TIMESTAMP NOT NULL,
		PRIMARY KEY (task, field)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_outcomes_run ON step_outcomes(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// RecordRun persists a completed run and its step outcomes in one
// transaction. Satisfies engine.History.
func (s *Storage) RecordRun(res *models.Result) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	dryRun := 0
	if res.DryRun {
		dryRun = 1
	}

	if _, err := tx.Exec(
		`INSERT INTO runs (run_id, job_id, dry_run, status, started_at, completed_at, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, res.JobID, dryRun, res.Status, res.StartedAt, res.CompletedAt, nullString(res.Error),
	); err != nil {
		return err
	}

	for i, outcome := range res.Steps {
		args, err := encodeJSON(outcome.Args)
		if err != nil {
			return err
		}
		result, err := encodeJSON(outcome.Result)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(
			`INSERT INTO step_outcomes (run_id, seq, step, call, status, args, result, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			res.RunID, i+1, outcome.Step, outcome.Call, outcome.Status, args, result, nullString(outcome.Error),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetRun returns one run with its step outcomes.
func (s *Storage) GetRun(runID string) (*models.Result, error) {
	row := s.db.QueryRow(
		`SELECT run_id, job_id, dry_run, status, started_at, completed_at, error
		 FROM runs WHERE run_id = ?`, runID,
	)

	res, err := scanRun(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT step, call, status, args, result, error
		 FROM step_outcomes WHERE run_id = ? ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var outcome models.StepOutcome
		var args, result, outcomeErr sql.NullString

		if err := rows.Scan(&outcome.Step, &outcome.Call, &outcome.Status, &args, &result, &outcomeErr); err != nil {
			return nil, err
		}

		if args.Valid {
			json.Unmarshal([]byte(args.String), &outcome.Args)
		}
		if result.Valid {
			json.Unmarshal([]byte(result.String), &outcome.Result)
		}
		if outcomeErr.Valid {
			outcome.Error = outcomeErr.String
		}
		outcome.DryRun = res.DryRun && outcome.Status == models.StepStatusSkipped

		res.Steps = append(res.Steps, &outcome)
	}

	return res, rows.Err()
}

// ListRuns returns the most recent runs, newest first, without outcomes.
func (s *Storage) ListRuns(limit int) ([]*models.Result, error) {
	rows, err := s.db.Query(
		`SELECT run_id, job_id, dry_run, status, started_at, completed_at, error
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Result
	for rows.Next() {
		res, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, res)
	}

	return runs, rows.Err()
}

// DeleteRun removes a run and its outcomes.
func (s *Storage) DeleteRun(runID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM step_outcomes WHERE run_id = ?`, runID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM runs WHERE run_id = ?`, runID); err != nil {
		return err
	}

	return tx.Commit()
}

// HighWaterMark returns the stored mark for a task's incremental field,
// or false if the task has never recorded one.
func (s *Storage) HighWaterMark(task, field string) (string, bool, error) {
	row := s.db.QueryRow(
		`SELECT value FROM sync_state WHERE task = ? AND field = ?`, task, field,
	)
	var value string
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// SetHighWaterMark upserts a task's incremental-field mark and records
// when the task last ran.
func (s *Storage) SetHighWaterMark(task, field, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO sync_state (task, field, value, last_run) VALUES (?, ?, ?, ?)
		 ON CONFLICT(task, field) DO UPDATE SET value = excluded.value, last_run = excluded.last_run`,
		task, field, value, time.Now().UTC(),
	)
	return err
}

// LastRun returns when a task last recorded any high-water mark.
func (s *Storage) LastRun(task string) (time.Time, bool, error) {
	row := s.db.QueryRow(
		`SELECT MAX(last_run) FROM sync_state WHERE task = ?`, task,
	)
	var last sql.NullTime
	if err := row.Scan(&last); err != nil {
		return time.Time{}, false, err
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	return last.Time, true, nil
}

// ClearTask drops all sync state for a task, forcing a full refresh.
func (s *Storage) ClearTask(task string) error {
	_, err := s.db.Exec(`DELETE FROM sync_state WHERE task = ?`, task)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Result, error) {
	var res models.Result
	var dryRun int
	var completedAt sql.NullTime
	var runErr sql.NullString

	err := row.Scan(&res.RunID, &res.JobID, &dryRun, &res.Status, &res.StartedAt, &completedAt, &runErr)
	if err != nil {
		return nil, err
	}

	res.DryRun = dryRun != 0
	if completedAt.Valid {
		res.CompletedAt = &completedAt.Time
	}
	if runErr.Valid {
		res.Error = runErr.String
	}

	return &res, nil
}

func encodeJSON(m map[string]any) (*string, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	str := string(data)
	return &str, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

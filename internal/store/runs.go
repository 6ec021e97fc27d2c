package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RunRecord is the persisted summary of one production run.
// Report holds the run's JSON report, stored verbatim.
type RunRecord struct {
	ID         string          `json:"id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at,omitzero"`
	Outcome    string          `json:"outcome,omitempty"`
	Report     json.RawMessage `json:"report,omitempty"`
}

// WriteRun records the start of a run.
// Uses ON CONFLICT(id) DO NOTHING for idempotency.
func (s *Store) WriteRun(ctx context.Context, id string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, formatTime(startedAt))
	if err != nil {
		return fmt.Errorf("write run %s: %w", id, err)
	}
	return nil
}

// FinishRun stores a run's outcome and report.
// Returns ErrNotFound if the run was never written.
func (s *Store) FinishRun(ctx context.Context, id, outcome string, report json.RawMessage, finishedAt time.Time) error {
	if len(report) == 0 {
		report = json.RawMessage("{}")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, outcome = ?, report = ? WHERE id = ?
	`, formatTime(finishedAt), outcome, string(report), id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	return nil
}

// ReadRun returns one run record.
func (s *Store) ReadRun(ctx context.Context, id string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, outcome, report FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("read run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns every run ordered by start time, then id.
func (s *Store) ListRuns(ctx context.Context) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, outcome, report FROM runs
		ORDER BY started_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row rowScanner) (RunRecord, error) {
	var (
		run               RunRecord
		started, finished string
		report            string
	)
	if err := row.Scan(&run.ID, &started, &finished, &run.Outcome, &report); err != nil {
		return RunRecord{}, err
	}
	var err error
	if run.StartedAt, err = parseTime(started); err != nil {
		return RunRecord{}, err
	}
	if run.FinishedAt, err = parseTime(finished); err != nil {
		return RunRecord{}, err
	}
	run.Report = json.RawMessage(report)
	return run, nil
}

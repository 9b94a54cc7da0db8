package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var _ RunStore = (*RunRepository)(nil)

type RunRepository struct {
	db *DB
}

func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) StartRun(ctx context.Context, kind, windowStart, windowEnd string, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (kind, started_at, status, window_start, window_end)
		VALUES (?, ?, ?, ?, ?)`,
		kind, FormatTime(now), RunStatusRunning, nullString(windowStart), nullString(windowEnd))
	if err != nil {
		return 0, fmt.Errorf("failed to start run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read run id: %w", err)
	}
	return id, nil
}

func (r *RunRepository) FinishRun(ctx context.Context, runID int64, status RunStatus, errorMessage string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, finished_at = ?, error_message = ?
		WHERE id = ?`,
		status, FormatTime(now), nullString(errorMessage), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

func (r *RunRepository) RecordMetrics(ctx context.Context, runID int64, metrics map[string]int64, now time.Time) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		for metric, value := range metrics {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO run_metrics (run_id, metric, value, recorded_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(run_id, metric) DO UPDATE SET value = excluded.value, recorded_at = excluded.recorded_at`,
				runID, metric, value, FormatTime(now))
			if err != nil {
				return fmt.Errorf("failed to record metric %s: %w", metric, err)
			}
		}
		return nil
	})
}

const runColumnsSQL = `id, kind, started_at, finished_at, status, COALESCE(error_message, ''),
	COALESCE(window_start, ''), COALESCE(window_end, '')`

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var startedAt string
	var finishedAt sql.NullString

	err := row.Scan(&run.ID, &run.Kind, &startedAt, &finishedAt, &run.Status,
		&run.ErrorMessage, &run.WindowStart, &run.WindowEnd)
	if err != nil {
		return nil, err
	}
	run.StartedAt, _ = ParseTime(startedAt)
	run.FinishedAt = nullTime(finishedAt)
	return &run, nil
}

// GetRun returns the run with its metrics, or nil if it does not exist.
func (r *RunRepository) GetRun(ctx context.Context, runID int64) (*Run, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, `SELECT `+runColumnsSQL+` FROM runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT metric, value FROM run_metrics WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run metrics: %w", err)
	}
	defer rows.Close()

	run.Metrics = make(map[string]int64)
	for rows.Next() {
		var metric string
		var value int64
		if err := rows.Scan(&metric, &value); err != nil {
			return nil, fmt.Errorf("failed to scan run metric: %w", err)
		}
		run.Metrics[metric] = value
	}
	return run, rows.Err()
}

// ListRuns returns the most recent runs first.
func (r *RunRepository) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+runColumnsSQL+` FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// LastWindowEnd returns the latest window_end of a succeeded run of kind, or
// "" when there is none.
func (r *RunRepository) LastWindowEnd(ctx context.Context, kind string) (string, error) {
	var end sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(window_end) FROM runs
		WHERE kind = ? AND status = ? AND window_end IS NOT NULL`,
		kind, RunStatusSucceeded).Scan(&end)
	if err != nil {
		return "", fmt.Errorf("failed to get last window end: %w", err)
	}
	return end.String, nil
}

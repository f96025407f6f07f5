package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/tinkerbell/hook/internal/sed"
)

var _ sed.Recorder = (*DB)(nil)

// RunRecord is a stored orchestration run
type RunRecord struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Devices    int       `json:"devices"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
}

// OutcomeRecord is a stored per-device outcome
type OutcomeRecord struct {
	RunID      string        `json:"run_id"`
	Serial     string        `json:"serial"`
	DevicePath string        `json:"device_path"`
	Status     sed.Status    `json:"status"`
	Detail     string        `json:"detail,omitempty"`
	Duration   time.Duration `json:"duration"`
	StartedAt  time.Time     `json:"started_at"`
}

// RecordRun stores a finished run and all of its outcomes in one transaction
func (d *DB) RecordRun(ctx context.Context, report *sed.Report) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	rs := report.Results
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sed_runs (run_id, started_at, finished_at, devices, succeeded, failed, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, report.RunID, report.Started.UTC(), report.Finished.UTC(), len(rs),
		rs.Count(sed.StatusSucceeded), rs.Count(sed.StatusFailed), rs.Count(sed.StatusSkipped))
	if err != nil {
		return errors.Wrap(err, "failed to record run")
	}

	for _, serial := range rs.Serials() {
		o := rs[serial]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sed_outcomes (run_id, serial, device_path, status, detail, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?)
		`, report.RunID, serial, o.DevicePath, string(o.Status), o.Detail, o.Duration.Milliseconds())
		if err != nil {
			return errors.Wrapf(err, "failed to record outcome for %s", serial)
		}
	}

	return tx.Commit()
}

// RecentRuns returns the most recent runs, newest first
func (d *DB) RecentRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := d.conn.QueryContext(ctx, `
		SELECT run_id, started_at, finished_at, devices, succeeded, failed, skipped
		FROM sed_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query runs")
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.RunID, &r.StartedAt, &r.FinishedAt, &r.Devices, &r.Succeeded, &r.Failed, &r.Skipped); err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}
		runs = append(runs, &r)
	}

	return runs, rows.Err()
}

// OutcomesForRun returns the outcomes of one run ordered by serial
func (d *DB) OutcomesForRun(ctx context.Context, runID string) ([]*OutcomeRecord, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT o.run_id, o.serial, o.device_path, o.status, o.detail, o.duration_ms, r.started_at
		FROM sed_outcomes o JOIN sed_runs r ON r.run_id = o.run_id
		WHERE o.run_id = ?
		ORDER BY o.serial
	`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query run outcomes")
	}
	defer rows.Close()

	return scanOutcomes(rows)
}

// OutcomesBySerial returns the reset history of one device, newest first
func (d *DB) OutcomesBySerial(ctx context.Context, serial string, limit int) ([]*OutcomeRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := d.conn.QueryContext(ctx, `
		SELECT o.run_id, o.serial, o.device_path, o.status, o.detail, o.duration_ms, r.started_at
		FROM sed_outcomes o JOIN sed_runs r ON r.run_id = o.run_id
		WHERE o.serial = ?
		ORDER BY r.started_at DESC, o.id DESC
		LIMIT ?
	`, serial, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query device outcomes")
	}
	defer rows.Close()

	return scanOutcomes(rows)
}

func scanOutcomes(rows *sql.Rows) ([]*OutcomeRecord, error) {
	var outcomes []*OutcomeRecord
	for rows.Next() {
		var o OutcomeRecord
		var devicePath, detail sql.NullString
		var status string
		var durationMS int64

		if err := rows.Scan(&o.RunID, &o.Serial, &devicePath, &status, &detail, &durationMS, &o.StartedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan outcome")
		}

		o.DevicePath = devicePath.String
		o.Detail = detail.String
		o.Status = sed.Status(status)
		o.Duration = time.Duration(durationMS) * time.Millisecond

		outcomes = append(outcomes, &o)
	}

	return outcomes, rows.Err()
}

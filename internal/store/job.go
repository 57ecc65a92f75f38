package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// JobRow mirrors the ingest_job table (C6).
type JobRow struct {
	JobID            string
	Kind             string
	Status           string
	Phase            string
	Progress         float64
	CancelRequested  bool
	Filename         string
	DeviceKey        string
	LinesProcessed   int64
	RawLogsInserted  int64
	EventsInserted   int64
	ParseOK          int64
	ParseErr         int64
	FilteredID       int64
	TimeMin, TimeMax *time.Time
	ErrorType        string
	ErrorMessage     string
	ErrorStage       string
	CreatedAt        time.Time
	StartedAt        *time.Time
	FinishedAt       *time.Time
}

type JobRepo struct {
	db Querier
}

func (r *JobRepo) Create(ctx context.Context, jobID, kind, filename, deviceKey string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO ingest_jobs (job_id, kind, status, phase, filename, device_key)
		VALUES ($1,$2,'queued','queued',$3,$4)`,
		jobID, kind, nullIfEmpty(filename), nullIfEmpty(deviceKey),
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// ClaimNext atomically claims the oldest queued job of the given kinds
// using FOR UPDATE SKIP LOCKED, transitioning it to running. Returns nil
// if nothing is queued.
func (r *JobRepo) ClaimNext(ctx context.Context, tx pgx.Tx, kinds []string) (*JobRow, error) {
	row := tx.QueryRow(ctx, `
		SELECT job_id FROM ingest_jobs
		WHERE status = 'queued' AND kind = ANY($1)
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1`, kinds)
	var jobID string
	if err := row.Scan(&jobID); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE ingest_jobs SET status='running', started_at=now(), updated_at=now() WHERE job_id=$1`, jobID); err != nil {
		return nil, fmt.Errorf("mark job running: %w", err)
	}
	return r.Get(ctx, jobID)
}

func (r *JobRepo) Get(ctx context.Context, jobID string) (*JobRow, error) {
	row := r.db.QueryRow(ctx, `
		SELECT job_id, kind, status, COALESCE(phase,''), progress, cancel_requested,
		       COALESCE(filename,''), COALESCE(device_key,''),
		       lines_processed, raw_logs_inserted, events_inserted, parse_ok, parse_err, filtered_id,
		       time_min, time_max, COALESCE(error_type,''), COALESCE(error_message,''), COALESCE(error_stage,''),
		       created_at, started_at, finished_at
		FROM ingest_jobs WHERE job_id = $1`, jobID)
	var j JobRow
	if err := row.Scan(&j.JobID, &j.Kind, &j.Status, &j.Phase, &j.Progress, &j.CancelRequested,
		&j.Filename, &j.DeviceKey, &j.LinesProcessed, &j.RawLogsInserted, &j.EventsInserted,
		&j.ParseOK, &j.ParseErr, &j.FilteredID, &j.TimeMin, &j.TimeMax,
		&j.ErrorType, &j.ErrorMessage, &j.ErrorStage, &j.CreatedAt, &j.StartedAt, &j.FinishedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

// List returns jobs optionally filtered by status, most recent first.
func (r *JobRepo) List(ctx context.Context, deviceKey, status string, limit int) ([]JobRow, error) {
	q := `SELECT job_id, kind, status, COALESCE(phase,''), progress, cancel_requested,
	             COALESCE(filename,''), COALESCE(device_key,''),
	             lines_processed, raw_logs_inserted, events_inserted, parse_ok, parse_err, filtered_id,
	             time_min, time_max, COALESCE(error_type,''), COALESCE(error_message,''), COALESCE(error_stage,''),
	             created_at, started_at, finished_at
	      FROM ingest_jobs WHERE 1=1`
	args := []any{}
	if deviceKey != "" {
		args = append(args, deviceKey)
		q += fmt.Sprintf(" AND device_key = $%d", len(args))
	}
	if status != "" {
		args = append(args, status)
		q += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []JobRow
	for rows.Next() {
		var j JobRow
		if err := rows.Scan(&j.JobID, &j.Kind, &j.Status, &j.Phase, &j.Progress, &j.CancelRequested,
			&j.Filename, &j.DeviceKey, &j.LinesProcessed, &j.RawLogsInserted, &j.EventsInserted,
			&j.ParseOK, &j.ParseErr, &j.FilteredID, &j.TimeMin, &j.TimeMax,
			&j.ErrorType, &j.ErrorMessage, &j.ErrorStage, &j.CreatedAt, &j.StartedAt, &j.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// HasNonTerminal reports whether a non-terminal job exists, optionally
// scoped to deviceKey and/or a set of kinds — backs the 409 busy check.
func (r *JobRepo) HasNonTerminal(ctx context.Context, deviceKey string, kinds []string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM ingest_jobs
			WHERE status IN ('queued','running')
			  AND ($1 = '' OR device_key = $1)
			  AND ($2::text[] IS NULL OR kind = ANY($2))
		)`, deviceKey, kinds).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check non-terminal jobs: %w", err)
	}
	return exists, nil
}

// UpdateProgress advances progress/phase/counters on batch boundaries.
func (r *JobRepo) UpdateProgress(ctx context.Context, jobID, phase string, progress float64, lines, rawLogs, events, parseOK, parseErr, filteredID int64, timeMin, timeMax *time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE ingest_jobs SET phase=$2, progress=$3, lines_processed=$4, raw_logs_inserted=$5,
			events_inserted=$6, parse_ok=$7, parse_err=$8, filtered_id=$9,
			time_min = LEAST(COALESCE(time_min, $10), $10),
			time_max = GREATEST(COALESCE(time_max, $11), $11),
			updated_at = now()
		WHERE job_id = $1`,
		jobID, phase, progress, lines, rawLogs, events, parseOK, parseErr, filteredID, timeMin, timeMax,
	)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

func (r *JobRepo) RequestCancel(ctx context.Context, jobID string) error {
	_, err := r.db.Exec(ctx, `UPDATE ingest_jobs SET cancel_requested = true, updated_at = now() WHERE job_id = $1 AND status IN ('queued','running')`, jobID)
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	return nil
}

func (r *JobRepo) IsCancelRequested(ctx context.Context, jobID string) (bool, error) {
	var c bool
	if err := r.db.QueryRow(ctx, `SELECT cancel_requested FROM ingest_jobs WHERE job_id = $1`, jobID).Scan(&c); err != nil {
		return false, fmt.Errorf("check cancel requested: %w", err)
	}
	return c, nil
}

func (r *JobRepo) Finish(ctx context.Context, jobID, status, errType, errMsg, errStage string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE ingest_jobs SET status=$2, error_type=NULLIF($3,''), error_message=NULLIF($4,''),
			error_stage=NULLIF($5,''), finished_at=now(), updated_at=now(), progress = CASE WHEN $2='done' THEN 1 ELSE progress END
		WHERE job_id = $1`,
		jobID, status, errType, errMsg, errStage,
	)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return nil
}

// RecoverCrashed marks every job left in 'running' as errored on startup.
func (r *JobRepo) RecoverCrashed(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE ingest_jobs SET status='error', error_type='recovered_after_crash',
			error_message='process restarted while job was running', finished_at=now(), updated_at=now()
		WHERE status = 'running'`)
	if err != nil {
		return 0, fmt.Errorf("recover crashed jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *JobRepo) Delete(ctx context.Context, jobID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM ingest_jobs WHERE job_id = $1 AND status IN ('done','error','canceled')`, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job not found or not terminal")
	}
	return nil
}

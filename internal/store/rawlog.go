package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// RawLogRow is one append-only raw_logs record (C2).
type RawLogRow struct {
	ID          int64
	DeviceKey   string
	ReceivedAt  time.Time
	Sequence    int64
	RawLine     string
	ParseStatus string
	ParseError  *string
	JobID       *string
}

type RawLogRepo struct {
	db Querier
}

// InsertBatch appends a batch of raw_log rows in a single round trip via
// pgx.Batch, returning the assigned surrogate ids in input order. This
// backs C2's target-500-rows-or-100ms batching policy; callers own the
// batching cadence.
func (r *RawLogRepo) InsertBatch(ctx context.Context, rows []RawLogRow) ([]int64, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(
			`INSERT INTO raw_logs (device_key, received_at, sequence, raw_line, parse_status, parse_error, job_id)
			 VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
			row.DeviceKey, row.ReceivedAt, row.Sequence, row.RawLine, row.ParseStatus, row.ParseError, row.JobID,
		)
	}
	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	ids := make([]int64, 0, len(rows))
	for range rows {
		var id int64
		if err := br.QueryRow().Scan(&id); err != nil {
			return ids, fmt.Errorf("insert raw_log batch: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// NextSequence returns the next per-device sequence number for raw_logs,
// used by ingest callers to keep (device_key, sequence) increasing.
func (r *RawLogRepo) NextSequence(ctx context.Context, deviceKey string) (int64, error) {
	var next int64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(MAX(sequence), 0) + 1 FROM raw_logs WHERE device_key = $1`, deviceKey).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return next, nil
}

// DeleteOlderThan deletes raw_logs for device_key older than cutoff, up to
// limit rows, returning the count deleted — used by the retention job's
// batched cleanup loop.
func (r *RawLogRepo) DeleteOlderThan(ctx context.Context, deviceKey string, cutoff time.Time, limit int) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM raw_logs WHERE id IN (
			SELECT id FROM raw_logs WHERE device_key = $1 AND received_at < $2 LIMIT $3
		)`, deviceKey, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("delete raw_logs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteByDevice removes all raw_logs for a device (purge).
func (r *RawLogRepo) DeleteByDevice(ctx context.Context, deviceKey string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM raw_logs WHERE device_key = $1`, deviceKey); err != nil {
		return fmt.Errorf("delete raw_logs by device: %w", err)
	}
	return nil
}

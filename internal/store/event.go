package store

import (
	"context"
	"fmt"
	"time"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/parser"
)

// EventRow is one open|close event row (C3 output).
type EventRow struct {
	ID        int64
	DeviceKey string
	TS        time.Time
	EventKind string // open|close
	Fields    parser.ConnFields
	RawLogID  int64
}

type EventRepo struct {
	db Querier
}

// Insert stores a single event row, returning its surrogate id. A unique
// index on raw_log_id makes re-processing the same raw_log a no-op update
// (ON CONFLICT DO UPDATE to the same value) that returns the existing
// row's id, which the reconstructor relies on for idempotent retry after a
// transaction conflict.
func (r *EventRepo) Insert(ctx context.Context, row EventRow) (int64, error) {
	f := row.Fields
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO events (
			device_key, ts, event_kind, proto, src_ip, src_port, dst_ip, dst_port,
			src_zone, dst_zone, src_if, dst_if, src_mac, dst_mac,
			xlat_src_ip, xlat_src_port, xlat_dst_ip, xlat_dst_port,
			rule, app_name, bytes_orig, bytes_term, raw_log_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		ON CONFLICT (raw_log_id) DO UPDATE SET raw_log_id = EXCLUDED.raw_log_id
		RETURNING id`,
		row.DeviceKey, row.TS, row.EventKind, f.Proto, f.SrcIP, f.SrcPort, f.DstIP, f.DstPort,
		f.SrcZone, f.DstZone, f.SrcIf, f.DstIf, nullIfEmpty(f.SrcMAC), nullIfEmpty(f.DstMAC),
		f.XlatSrcIP, f.XlatSrcPort, f.XlatDstIP, f.XlatDstPort,
		f.Rule, f.AppName, f.BytesOrig, f.BytesTerm, row.RawLogID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	return id, nil
}

// DeleteByDevice removes every event for a device. The events.raw_log_id
// foreign key has no ON DELETE CASCADE, so purge runs this before it
// deletes the device's raw_logs.
func (r *EventRepo) DeleteByDevice(ctx context.Context, deviceKey string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM events WHERE device_key = $1`, deviceKey); err != nil {
		return fmt.Errorf("delete events by device: %w", err)
	}
	return nil
}

// DeleteOlderThan deletes retention-eligible events, mirroring RawLogRepo's
// batched cutoff delete.
func (r *EventRepo) DeleteOlderThan(ctx context.Context, deviceKey string, cutoff time.Time, limit int) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM events WHERE id IN (
			SELECT id FROM events WHERE device_key = $1 AND ts < $2 LIMIT $3
		)`, deviceKey, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DistinctNames enumerates the zone or interface names seen on events for
// the given device members, for the `/endpoints?kind=zone|interface`
// picker. kind must be "zone" or "interface".
func (r *EventRepo) DistinctNames(ctx context.Context, deviceKeys []string, kind string) ([]string, error) {
	srcCol, dstCol := "src_zone", "dst_zone"
	if kind == "interface" {
		srcCol, dstCol = "src_if", "dst_if"
	}
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT name FROM (
			SELECT %s AS name FROM events WHERE device_key = ANY($1)
			UNION
			SELECT %s AS name FROM events WHERE device_key = ANY($1)
		) names
		WHERE name IS NOT NULL AND name <> ''
		ORDER BY name`, srcCol, dstCol),
		deviceKeys)
	if err != nil {
		return nil, fmt.Errorf("distinct %s names: %w", kind, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// InspectRow is one raw event returned by the graph inspect-logs drilldown.
type InspectRow struct {
	EventID   int64     `json:"event_id"`
	DeviceKey string    `json:"device_key"`
	TS        time.Time `json:"ts"`
	EventKind string    `json:"event_kind"`
	SrcIP     string    `json:"src_ip"`
	SrcPort   int       `json:"src_port"`
	DstIP     string    `json:"dst_ip"`
	DstPort   int       `json:"dst_port"`
	Proto     string    `json:"proto"`
	AppName   string    `json:"app_name"`
	Rule      string    `json:"rule"`
	BytesOrig int64     `json:"bytes_orig"`
	BytesTerm int64     `json:"bytes_term"`
	RawLine   string    `json:"raw_line"`
}

// InspectQuery narrows events to a single (src, dst, service) selection
// inside a time window; AppName of nil means any app, a pointer to ""
// matches events with no app_name.
type InspectQuery struct {
	DeviceKeys []string
	From, To   time.Time
	SrcIP      string
	DstIP      string
	Proto      string
	DstPort    int
	AppName    *string
	Limit      int
	Offset     int
}

// Inspect returns a page of raw events (joined with their raw_line)
// matching q, plus the total match count.
func (r *EventRepo) Inspect(ctx context.Context, q InspectQuery) ([]InspectRow, int64, error) {
	where := `
		e.device_key = ANY($1) AND e.ts >= $2 AND e.ts < $3
		AND e.src_ip = $4 AND e.dst_ip = $5 AND e.proto = $6 AND e.dst_port = $7`
	args := []any{q.DeviceKeys, q.From, q.To, q.SrcIP, q.DstIP, q.Proto, q.DstPort}
	if q.AppName != nil {
		where += fmt.Sprintf(` AND COALESCE(e.app_name,'') = $%d`, len(args)+1)
		args = append(args, *q.AppName)
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM events e WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count inspect events: %w", err)
	}

	args = append(args, q.Limit, q.Offset)
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT e.id, e.device_key, e.ts, e.event_kind,
		       COALESCE(e.src_ip,''), COALESCE(e.src_port,0),
		       COALESCE(e.dst_ip,''), COALESCE(e.dst_port,0),
		       COALESCE(e.proto,''), COALESCE(e.app_name,''), COALESCE(e.rule,''),
		       e.bytes_orig, e.bytes_term, r.raw_line
		FROM events e
		JOIN raw_logs r ON r.id = e.raw_log_id
		WHERE %s
		ORDER BY e.ts, e.id
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("select inspect events: %w", err)
	}
	defer rows.Close()

	var out []InspectRow
	for rows.Next() {
		var row InspectRow
		if err := rows.Scan(&row.EventID, &row.DeviceKey, &row.TS, &row.EventKind,
			&row.SrcIP, &row.SrcPort, &row.DstIP, &row.DstPort,
			&row.Proto, &row.AppName, &row.Rule,
			&row.BytesOrig, &row.BytesTerm, &row.RawLine); err != nil {
			return nil, 0, fmt.Errorf("scan inspect row: %w", err)
		}
		out = append(out, row)
	}
	return out, total, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// FlowRow is a long-lived flow aggregate keyed by the 5-tuple + open_ts.
type FlowRow struct {
	ID          int64
	DeviceKey   string
	Proto       string
	SrcIP       string
	SrcPort     int
	DstIP       string
	DstPort     int
	OpenTS      time.Time
	CloseTS     *time.Time
	BytesOrig   int64
	BytesTerm   int64
	Rule        string
	AppName     string
	SrcZone     string
	DstZone     string
	SrcIf       string
	DstIf       string
	SrcMAC      string
	DstMAC      string
	XlatSrcIP   string
	XlatSrcPort int
	XlatDstIP   string
	XlatDstPort int
	LastSeen    time.Time
}

type FlowRepo struct {
	db Querier
}

// FlowKey is the exact identity tuple of a flow row.
type FlowKey struct {
	DeviceKey string
	Proto     string
	SrcIP     string
	SrcPort   int
	DstIP     string
	DstPort   int
	OpenTS    time.Time
}

// InsertOpen creates a new flow row for an `open` event, returning false
// (no error) if a row with this exact key already exists — the upsert
// policy's "insert if key absent; otherwise suppress duplicate" rule.
func (r *FlowRepo) InsertOpen(ctx context.Context, key FlowKey, srcMAC, srcZone, srcIf, rule, appName string, lastSeen time.Time) (int64, bool, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO flows (device_key, proto, src_ip, src_port, dst_ip, dst_port, open_ts,
			src_mac, src_zone, src_if, rule, app_name, last_seen)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (device_key, proto, src_ip, src_port, dst_ip, dst_port, open_ts) DO NOTHING
		RETURNING id`,
		key.DeviceKey, key.Proto, key.SrcIP, key.SrcPort, key.DstIP, key.DstPort, key.OpenTS,
		nullIfEmpty(srcMAC), nullIfEmpty(srcZone), nullIfEmpty(srcIf), nullIfEmpty(rule), nullIfEmpty(appName), lastSeen,
	).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("insert open flow: %w", err)
	}
	return id, true, nil
}

// FindLatestOpen locates the most recent still-open flow for (device,
// proto, 5-tuple) with open_ts <= at, for applying a close or re-open.
func (r *FlowRepo) FindLatestOpen(ctx context.Context, deviceKey, proto, srcIP string, srcPort int, dstIP string, dstPort int, at time.Time) (*FlowRow, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, device_key, proto, src_ip, src_port, dst_ip, dst_port, open_ts, close_ts,
		       bytes_orig, bytes_term, COALESCE(rule,''), COALESCE(app_name,''),
		       COALESCE(src_zone,''), COALESCE(dst_zone,''), COALESCE(src_if,''), COALESCE(dst_if,''),
		       COALESCE(src_mac,''), COALESCE(dst_mac,''), last_seen
		FROM flows
		WHERE device_key = $1 AND proto = $2 AND src_ip = $3 AND src_port = $4
		  AND dst_ip = $5 AND dst_port = $6 AND close_ts IS NULL AND open_ts <= $7
		ORDER BY open_ts DESC
		LIMIT 1`,
		deviceKey, proto, srcIP, srcPort, dstIP, dstPort, at,
	)
	var f FlowRow
	err := row.Scan(&f.ID, &f.DeviceKey, &f.Proto, &f.SrcIP, &f.SrcPort, &f.DstIP, &f.DstPort,
		&f.OpenTS, &f.CloseTS, &f.BytesOrig, &f.BytesTerm, &f.Rule, &f.AppName,
		&f.SrcZone, &f.DstZone, &f.SrcIf, &f.DstIf, &f.SrcMAC, &f.DstMAC, &f.LastSeen)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find latest open flow: %w", err)
	}
	return &f, nil
}

// ApplyClose sets close_ts and the terminal fields on an open flow row.
// Byte counters are monotonically non-decreasing, so callers pass the
// observed totals and the store takes the greater of existing/new.
func (r *FlowRepo) ApplyClose(ctx context.Context, id int64, closeTS time.Time, bytesOrig, bytesTerm int64, dstMAC, dstZone, dstIf, rule, appName, xlatSrcIP string, xlatSrcPort int, xlatDstIP string, xlatDstPort int) error {
	_, err := r.db.Exec(ctx, `
		UPDATE flows SET
			close_ts = $2,
			bytes_orig = GREATEST(bytes_orig, $3),
			bytes_term = GREATEST(bytes_term, $4),
			dst_mac = COALESCE(NULLIF($5,''), dst_mac),
			dst_zone = COALESCE(NULLIF($6,''), dst_zone),
			dst_if = COALESCE(NULLIF($7,''), dst_if),
			rule = COALESCE(NULLIF($8,''), rule),
			app_name = COALESCE(NULLIF($9,''), app_name),
			xlat_src_ip = COALESCE(NULLIF($10,''), xlat_src_ip),
			xlat_src_port = CASE WHEN $11 <> 0 THEN $11 ELSE xlat_src_port END,
			xlat_dst_ip = COALESCE(NULLIF($12,''), xlat_dst_ip),
			xlat_dst_port = CASE WHEN $13 <> 0 THEN $13 ELSE xlat_dst_port END,
			last_seen = $2
		WHERE id = $1`,
		id, closeTS, bytesOrig, bytesTerm, dstMAC, dstZone, dstIf, rule, appName,
		xlatSrcIP, xlatSrcPort, xlatDstIP, xlatDstPort,
	)
	if err != nil {
		return fmt.Errorf("apply close: %w", err)
	}
	return nil
}

// CreateClosed inserts a flow that is already closed at insert time — used
// for close-only observations (no prior open). The re-open policy's
// forced close of a prior flow goes through ForceClose instead.
func (r *FlowRepo) CreateClosed(ctx context.Context, key FlowKey, closeTS time.Time, bytesOrig, bytesTerm int64, dstMAC, rule, appName string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO flows (device_key, proto, src_ip, src_port, dst_ip, dst_port, open_ts, close_ts,
			bytes_orig, bytes_term, dst_mac, rule, app_name, last_seen)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$8)
		ON CONFLICT (device_key, proto, src_ip, src_port, dst_ip, dst_port, open_ts)
		DO UPDATE SET close_ts = EXCLUDED.close_ts,
		              bytes_orig = GREATEST(flows.bytes_orig, EXCLUDED.bytes_orig),
		              bytes_term = GREATEST(flows.bytes_term, EXCLUDED.bytes_term)
		RETURNING id`,
		key.DeviceKey, key.Proto, key.SrcIP, key.SrcPort, key.DstIP, key.DstPort, key.OpenTS, closeTS,
		bytesOrig, bytesTerm, nullIfEmpty(dstMAC), nullIfEmpty(rule), nullIfEmpty(appName),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create closed flow: %w", err)
	}
	return id, nil
}

// ForceClose closes an already-identified flow row at exactly closeTS,
// with no byte or field mutation beyond last_seen — the re-open policy's
// "close the prior flow at open_ts-1ms with zero additional bytes" step.
func (r *FlowRepo) ForceClose(ctx context.Context, id int64, closeTS time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE flows SET close_ts = $2, last_seen = $2 WHERE id = $1`, id, closeTS)
	if err != nil {
		return fmt.Errorf("force close flow: %w", err)
	}
	return nil
}

func (r *FlowRepo) DeleteByDevice(ctx context.Context, deviceKey string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM flows WHERE device_key = $1`, deviceKey); err != nil {
		return fmt.Errorf("delete flows by device: %w", err)
	}
	return nil
}

// SelectWindow returns flows active within [from, to) for the query
// engine (C9): open_ts < to AND (close_ts >= from OR close_ts IS NULL).
func (r *FlowRepo) SelectWindow(ctx context.Context, deviceKeys []string, from, to time.Time) ([]FlowRow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, device_key, proto, src_ip, src_port, dst_ip, dst_port, open_ts, close_ts,
		       bytes_orig, bytes_term, COALESCE(rule,''), COALESCE(app_name,''),
		       COALESCE(src_zone,''), COALESCE(dst_zone,''), COALESCE(src_if,''), COALESCE(dst_if,''),
		       COALESCE(src_mac,''), COALESCE(dst_mac,''),
		       COALESCE(xlat_src_ip,''), COALESCE(xlat_src_port,0), COALESCE(xlat_dst_ip,''), COALESCE(xlat_dst_port,0),
		       last_seen
		FROM flows
		WHERE device_key = ANY($1) AND open_ts < $3 AND (close_ts >= $2 OR close_ts IS NULL)`,
		deviceKeys, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("select flow window: %w", err)
	}
	defer rows.Close()

	var out []FlowRow
	for rows.Next() {
		var f FlowRow
		if err := rows.Scan(&f.ID, &f.DeviceKey, &f.Proto, &f.SrcIP, &f.SrcPort, &f.DstIP, &f.DstPort,
			&f.OpenTS, &f.CloseTS, &f.BytesOrig, &f.BytesTerm, &f.Rule, &f.AppName,
			&f.SrcZone, &f.DstZone, &f.SrcIf, &f.DstIf, &f.SrcMAC, &f.DstMAC,
			&f.XlatSrcIP, &f.XlatSrcPort, &f.XlatDstIP, &f.XlatDstPort, &f.LastSeen); err != nil {
			return nil, fmt.Errorf("scan flow row: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

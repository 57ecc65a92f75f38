package store

import (
	"context"
	"fmt"
	"time"
)

// FirewallRow is one firewall inventory row (C5).
type FirewallRow struct {
	DeviceKey       string
	DisplayName     string
	SourceSyslog    bool
	SourceImport    bool
	FirstSeen       time.Time
	LastSeen        time.Time
	LastImportTS    *time.Time
	OverrideName    string
	OverrideComment string
}

type FirewallRepo struct {
	db Querier
}

// UpsertSeen records a sighting of deviceKey from either the syslog or
// import path, bumping last_seen and setting the appropriate source flag.
func (r *FirewallRepo) UpsertSeen(ctx context.Context, deviceKey, displayName string, at time.Time, viaSyslog, viaImport bool) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO firewalls (device_key, display_name, source_syslog, source_import, first_seen, last_seen, last_import_ts)
		VALUES ($1,$2,$3,$4,$5,$5, CASE WHEN $4 THEN $5 ELSE NULL END)
		ON CONFLICT (device_key) DO UPDATE SET
			display_name = CASE WHEN EXCLUDED.last_seen >= firewalls.last_seen THEN EXCLUDED.display_name ELSE firewalls.display_name END,
			last_seen = GREATEST(firewalls.last_seen, EXCLUDED.last_seen),
			source_syslog = firewalls.source_syslog OR EXCLUDED.source_syslog,
			source_import = firewalls.source_import OR EXCLUDED.source_import,
			last_import_ts = CASE WHEN EXCLUDED.source_import THEN EXCLUDED.last_seen ELSE firewalls.last_import_ts END`,
		deviceKey, displayName, viaSyslog, viaImport, at,
	)
	if err != nil {
		return fmt.Errorf("upsert firewall: %w", err)
	}
	return nil
}

// List returns the full firewall inventory with overrides applied.
func (r *FirewallRepo) List(ctx context.Context) ([]FirewallRow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT f.device_key, f.display_name, f.source_syslog, f.source_import,
		       f.first_seen, f.last_seen, f.last_import_ts,
		       COALESCE(o.display_name,''), COALESCE(o.comment,'')
		FROM firewalls f LEFT JOIN firewall_overrides o ON o.device_key = f.device_key
		ORDER BY f.display_name`)
	if err != nil {
		return nil, fmt.Errorf("list firewalls: %w", err)
	}
	defer rows.Close()

	var out []FirewallRow
	for rows.Next() {
		var f FirewallRow
		if err := rows.Scan(&f.DeviceKey, &f.DisplayName, &f.SourceSyslog, &f.SourceImport,
			&f.FirstSeen, &f.LastSeen, &f.LastImportTS, &f.OverrideName, &f.OverrideComment); err != nil {
			return nil, fmt.Errorf("scan firewall: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Get returns a single firewall row; a missing row yields an error
// wrapping pgx.ErrNoRows.
func (r *FirewallRepo) Get(ctx context.Context, deviceKey string) (*FirewallRow, error) {
	row := r.db.QueryRow(ctx, `
		SELECT f.device_key, f.display_name, f.source_syslog, f.source_import,
		       f.first_seen, f.last_seen, f.last_import_ts,
		       COALESCE(o.display_name,''), COALESCE(o.comment,'')
		FROM firewalls f LEFT JOIN firewall_overrides o ON o.device_key = f.device_key
		WHERE f.device_key = $1`, deviceKey)
	var f FirewallRow
	if err := row.Scan(&f.DeviceKey, &f.DisplayName, &f.SourceSyslog, &f.SourceImport,
		&f.FirstSeen, &f.LastSeen, &f.LastImportTS, &f.OverrideName, &f.OverrideComment); err != nil {
		return nil, fmt.Errorf("get firewall: %w", err)
	}
	return &f, nil
}

// SetOverride sets the user-managed display name/comment for a firewall.
func (r *FirewallRepo) SetOverride(ctx context.Context, deviceKey, displayName, comment string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO firewall_overrides (device_key, display_name, comment)
		VALUES ($1,$2,$3)
		ON CONFLICT (device_key) DO UPDATE SET display_name = EXCLUDED.display_name, comment = EXCLUDED.comment`,
		deviceKey, nullIfEmpty(displayName), nullIfEmpty(comment),
	)
	if err != nil {
		return fmt.Errorf("set firewall override: %w", err)
	}
	return nil
}

// DeleteAll purges every row belonging to a device_key across every
// dependent table, inside the transaction the caller owns.
func (r *FirewallRepo) DeleteAll(ctx context.Context, deviceKey string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM firewall_overrides WHERE device_key = $1`, deviceKey); err != nil {
		return fmt.Errorf("delete firewall override: %w", err)
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM router_mac_rules WHERE device_key = $1`, deviceKey); err != nil {
		return fmt.Errorf("delete router mac rules: %w", err)
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM firewalls WHERE device_key = $1`, deviceKey); err != nil {
		return fmt.Errorf("delete firewall: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"fmt"
	"time"
)

// HAClusterRow materializes an enabled master/slave pairing under a
// synthetic "ha:" device_key (C5).
type HAClusterRow struct {
	Base      string
	DeviceKey string
	MasterKey string
	SlaveKey  string
	EnabledAt time.Time
}

type HAClusterRepo struct {
	db Querier
}

func (r *HAClusterRepo) Enable(ctx context.Context, base, deviceKey, masterKey, slaveKey string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO ha_clusters (base, device_key, master_key, slave_key) VALUES ($1,$2,$3,$4)
		ON CONFLICT (base) DO UPDATE SET master_key = EXCLUDED.master_key, slave_key = EXCLUDED.slave_key`,
		base, deviceKey, masterKey, slaveKey,
	)
	if err != nil {
		return fmt.Errorf("enable ha cluster: %w", err)
	}
	return nil
}

func (r *HAClusterRepo) List(ctx context.Context) ([]HAClusterRow, error) {
	rows, err := r.db.Query(ctx, `SELECT base, device_key, master_key, slave_key, enabled_at FROM ha_clusters`)
	if err != nil {
		return nil, fmt.Errorf("list ha clusters: %w", err)
	}
	defer rows.Close()

	var out []HAClusterRow
	for rows.Next() {
		var h HAClusterRow
		if err := rows.Scan(&h.Base, &h.DeviceKey, &h.MasterKey, &h.SlaveKey, &h.EnabledAt); err != nil {
			return nil, fmt.Errorf("scan ha cluster: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Members resolves a device_key to its constituent device keys: an "ha:"
// key expands to [master, slave]; any other key maps to itself.
func (r *HAClusterRepo) Members(ctx context.Context, deviceKey string) ([]string, error) {
	row := r.db.QueryRow(ctx, `SELECT master_key, slave_key FROM ha_clusters WHERE device_key = $1`, deviceKey)
	var master, slave string
	if err := row.Scan(&master, &slave); err != nil {
		return []string{deviceKey}, nil
	}
	return []string{master, slave}, nil
}

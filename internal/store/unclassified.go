package store

import (
	"context"
	"fmt"
)

// UnclassifiedRow counts, per device, the zone/interface names observed on
// CONN events so operators can review their zone/interface naming. Every
// non-empty name is counted; no classification check filters them.
type UnclassifiedRow struct {
	DeviceKey string
	Kind      string // zone|interface
	Name      string
	Count     int64
}

type UnclassifiedRepo struct {
	db Querier
}

func (r *UnclassifiedRepo) Bump(ctx context.Context, deviceKey, kind, name string) error {
	if name == "" {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO unclassified_names (device_key, kind, name, count) VALUES ($1,$2,$3,1)
		ON CONFLICT (device_key, kind, name) DO UPDATE SET count = unclassified_names.count + 1`,
		deviceKey, kind, name,
	)
	if err != nil {
		return fmt.Errorf("bump unclassified name: %w", err)
	}
	return nil
}

func (r *UnclassifiedRepo) List(ctx context.Context, deviceKey string) ([]UnclassifiedRow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT device_key, kind, name, count FROM unclassified_names
		WHERE device_key = $1 ORDER BY count DESC`, deviceKey)
	if err != nil {
		return nil, fmt.Errorf("list unclassified names: %w", err)
	}
	defer rows.Close()

	var out []UnclassifiedRow
	for rows.Next() {
		var u UnclassifiedRow
		if err := rows.Scan(&u.DeviceKey, &u.Kind, &u.Name, &u.Count); err != nil {
			return nil, fmt.Errorf("scan unclassified name: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type SettingsRepo struct {
	db Querier
}

// Get reads a named setting's raw JSON value, or (nil, nil) if absent.
func (r *SettingsRepo) Get(ctx context.Context, name string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := r.db.QueryRow(ctx, `SELECT value_json FROM settings WHERE name = $1`, name).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get setting %s: %w", name, err)
	}
	return raw, nil
}

// GetAll reads every known setting row.
func (r *SettingsRepo) GetAll(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := r.db.Query(ctx, `SELECT name, value_json FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("get all settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var name string
		var raw json.RawMessage
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[name] = raw
	}
	return out, rows.Err()
}

// Set upserts a named setting's JSON value.
func (r *SettingsRepo) Set(ctx context.Context, name string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal setting %s: %w", name, err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO settings (name, value_json, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET value_json = EXCLUDED.value_json, updated_at = now()`,
		name, raw,
	)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", name, err)
	}
	return nil
}

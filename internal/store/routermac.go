package store

import (
	"context"
	"fmt"
	"time"
)

// RouterMACRule is a user-managed rule classifying a MAC as a router for
// C11's endpoint_id resolution.
type RouterMACRule struct {
	DeviceKey string
	MAC       string
	Direction string // src|dst|both
}

type RouterMACRepo struct {
	db Querier
}

func (r *RouterMACRepo) List(ctx context.Context, deviceKey string) ([]RouterMACRule, error) {
	rows, err := r.db.Query(ctx, `SELECT device_key, mac, direction FROM router_mac_rules WHERE device_key = $1`, deviceKey)
	if err != nil {
		return nil, fmt.Errorf("list router mac rules: %w", err)
	}
	defer rows.Close()

	var out []RouterMACRule
	for rows.Next() {
		var rule RouterMACRule
		if err := rows.Scan(&rule.DeviceKey, &rule.MAC, &rule.Direction); err != nil {
			return nil, fmt.Errorf("scan router mac rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *RouterMACRepo) Upsert(ctx context.Context, rule RouterMACRule) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO router_mac_rules (device_key, mac, direction) VALUES ($1,$2,$3)
		ON CONFLICT (device_key, mac) DO UPDATE SET direction = EXCLUDED.direction`,
		rule.DeviceKey, rule.MAC, rule.Direction,
	)
	if err != nil {
		return fmt.Errorf("upsert router mac rule: %w", err)
	}
	return nil
}

func (r *RouterMACRepo) Delete(ctx context.Context, deviceKey, mac string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM router_mac_rules WHERE device_key = $1 AND mac = $2`, deviceKey, mac); err != nil {
		return fmt.Errorf("delete router mac rule: %w", err)
	}
	return nil
}

// MACRollup feeds the router-MAC suggestion endpoint: per MAC, the
// distinct IP count and sample IPs it's been seen with.
type MACRollup struct {
	MAC             string
	DistinctIPCount int64
	SampleIPs       []string
	LastSeen        string
}

// ListMACRollups aggregates endpoints by MAC for a device, surfacing the
// ones seen with enough distinct IPs to be router candidates (§4.11's
// "suggest a router MAC" inventory view). Only rows that carry a MAC are
// considered; sample IPs are capped at 5 and ordered most-recently-seen
// first.
func (r *RouterMACRepo) ListMACRollups(ctx context.Context, deviceKey string, minDistinctIPs int) ([]MACRollup, error) {
	rows, err := r.db.Query(ctx, `
		SELECT mac, count(*) AS distinct_ips, max(last_seen) AS last_seen
		FROM endpoints
		WHERE device_key = $1 AND mac <> ''
		GROUP BY mac
		HAVING count(*) >= $2
		ORDER BY distinct_ips DESC, mac`,
		deviceKey, minDistinctIPs,
	)
	if err != nil {
		return nil, fmt.Errorf("list mac rollups: %w", err)
	}
	defer rows.Close()

	var out []MACRollup
	for rows.Next() {
		var roll MACRollup
		var lastSeen time.Time
		if err := rows.Scan(&roll.MAC, &roll.DistinctIPCount, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan mac rollup: %w", err)
		}
		roll.LastSeen = lastSeen.Format(time.RFC3339)
		out = append(out, roll)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		ips, err := r.sampleIPs(ctx, deviceKey, out[i].MAC, 5)
		if err != nil {
			return nil, err
		}
		out[i].SampleIPs = ips
	}
	return out, nil
}

func (r *RouterMACRepo) sampleIPs(ctx context.Context, deviceKey, mac string, limit int) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT ip FROM endpoints WHERE device_key = $1 AND mac = $2 ORDER BY last_seen DESC LIMIT $3`,
		deviceKey, mac, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sample ips: %w", err)
	}
	defer rows.Close()

	var ips []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, fmt.Errorf("scan sample ip: %w", err)
		}
		ips = append(ips, ip)
	}
	return ips, rows.Err()
}

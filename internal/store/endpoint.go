package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// EndpointRow is a device-identity inventory row (C4).
type EndpointRow struct {
	ID                                                               int64
	DeviceKey                                                        string
	MAC                                                              string
	IP                                                               string
	FirstSeen                                                        time.Time
	LastSeen                                                         time.Time
	SeenCount                                                        int64
	AutoVendor, AutoType, AutoOS, AutoBrand, AutoModel, AutoHostname string
}

// EndpointOverride shadows auto fields at read time; never merged back.
type EndpointOverride struct {
	DeviceKey, MAC, IP                                string
	Vendor, Type, OS, Brand, Model, Hostname, Comment string
}

type EndpointRepo struct {
	db Querier
}

// Sight upserts an endpoint sighting: bumps last_seen/seen_count, sets
// first_seen only on insert, and merges any non-empty auto-attribute with
// last-writer-wins semantics.
func (r *EndpointRepo) Sight(ctx context.Context, deviceKey, mac, ip string, at time.Time, vendor, typ, os, brand, model, hostname string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO endpoints (device_key, mac, ip, first_seen, last_seen, seen_count,
			auto_vendor, auto_type, auto_os, auto_brand, auto_model, auto_hostname)
		VALUES ($1,$2,$3,$4,$4,1,
			NULLIF($5,''), NULLIF($6,''), NULLIF($7,''), NULLIF($8,''), NULLIF($9,''), NULLIF($10,''))
		ON CONFLICT (device_key, mac, ip) DO UPDATE SET
			last_seen = GREATEST(endpoints.last_seen, EXCLUDED.last_seen),
			seen_count = endpoints.seen_count + 1,
			auto_vendor = COALESCE(EXCLUDED.auto_vendor, endpoints.auto_vendor),
			auto_type = COALESCE(EXCLUDED.auto_type, endpoints.auto_type),
			auto_os = COALESCE(EXCLUDED.auto_os, endpoints.auto_os),
			auto_brand = COALESCE(EXCLUDED.auto_brand, endpoints.auto_brand),
			auto_model = COALESCE(EXCLUDED.auto_model, endpoints.auto_model),
			auto_hostname = COALESCE(EXCLUDED.auto_hostname, endpoints.auto_hostname)`,
		deviceKey, mac, ip, at, vendor, typ, os, brand, model, hostname,
	)
	if err != nil {
		return fmt.Errorf("sight endpoint: %w", err)
	}
	return nil
}

// ListInWindow returns endpoints seen for a device within [from, to),
// optionally restricted to rows that carry a MAC.
func (r *EndpointRepo) ListInWindow(ctx context.Context, deviceKey string, from, to time.Time, hasMAC bool) ([]EndpointRow, error) {
	q := `SELECT id, device_key, mac, ip, first_seen, last_seen, seen_count,
	             COALESCE(auto_vendor,''), COALESCE(auto_type,''), COALESCE(auto_os,''),
	             COALESCE(auto_brand,''), COALESCE(auto_model,''), COALESCE(auto_hostname,'')
	      FROM endpoints WHERE device_key = $1 AND last_seen >= $2 AND first_seen < $3`
	args := []any{deviceKey, from, to}
	if hasMAC {
		q += " AND mac <> ''"
	}
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	var out []EndpointRow
	for rows.Next() {
		var e EndpointRow
		if err := rows.Scan(&e.ID, &e.DeviceKey, &e.MAC, &e.IP, &e.FirstSeen, &e.LastSeen, &e.SeenCount,
			&e.AutoVendor, &e.AutoType, &e.AutoOS, &e.AutoBrand, &e.AutoModel, &e.AutoHostname); err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var knownSortColumns = map[string]string{
	"last_seen":  "last_seen",
	"first_seen": "first_seen",
	"seen_count": "seen_count",
	"ip":         "ip",
	"hostname":   "COALESCE(auto_hostname,'')",
}

// KnownQuery parameters the `/endpoints/known` paginated inventory view.
type KnownQuery struct {
	DeviceKey  string
	Limit      int
	Offset     int
	Sort       string // one of knownSortColumns' keys; "" defaults to last_seen
	Descending bool
	Filter     string // case-insensitive substring over ip/hostname/vendor
	LocalOnly  bool
	LocalCIDRs []string
}

// ListKnown returns a page of the full inventory with optional sort,
// substring filter, and local-networks restriction.
func (r *EndpointRepo) ListKnown(ctx context.Context, q KnownQuery) ([]EndpointRow, int64, error) {
	sortCol, ok := knownSortColumns[q.Sort]
	if !ok {
		sortCol = knownSortColumns["last_seen"]
	}
	dir := "DESC"
	if !q.Descending {
		dir = "ASC"
	}

	where := `device_key = $1`
	args := []any{q.DeviceKey}

	if q.Filter != "" {
		args = append(args, "%"+strings.ToLower(q.Filter)+"%")
		where += fmt.Sprintf(` AND (lower(ip) LIKE $%d OR lower(COALESCE(auto_hostname,'')) LIKE $%d OR lower(COALESCE(auto_vendor,'')) LIKE $%d)`,
			len(args), len(args), len(args))
	}
	if q.LocalOnly && len(q.LocalCIDRs) > 0 {
		args = append(args, q.LocalCIDRs)
		where += fmt.Sprintf(` AND EXISTS (SELECT 1 FROM unnest($%d::cidr[]) c WHERE ip::inet <<= c)`, len(args))
	}

	var total int64
	countSQL := `SELECT count(*) FROM endpoints WHERE ` + where
	if err := r.db.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count endpoints: %w", err)
	}

	limitArg, offsetArg := len(args)+1, len(args)+2
	args = append(args, q.Limit, q.Offset)
	listSQL := fmt.Sprintf(`
		SELECT id, device_key, mac, ip, first_seen, last_seen, seen_count,
		       COALESCE(auto_vendor,''), COALESCE(auto_type,''), COALESCE(auto_os,''),
		       COALESCE(auto_brand,''), COALESCE(auto_model,''), COALESCE(auto_hostname,'')
		FROM endpoints WHERE %s ORDER BY %s %s, id LIMIT $%d OFFSET $%d`,
		where, sortCol, dir, limitArg, offsetArg)

	rows, err := r.db.Query(ctx, listSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list known endpoints: %w", err)
	}
	defer rows.Close()

	var out []EndpointRow
	for rows.Next() {
		var e EndpointRow
		if err := rows.Scan(&e.ID, &e.DeviceKey, &e.MAC, &e.IP, &e.FirstSeen, &e.LastSeen, &e.SeenCount,
			&e.AutoVendor, &e.AutoType, &e.AutoOS, &e.AutoBrand, &e.AutoModel, &e.AutoHostname); err != nil {
			return nil, 0, fmt.Errorf("scan known endpoint: %w", err)
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// UpsertOverride sets (or clears, when every field is empty) the override
// row shadowing a given endpoint's auto attributes.
func (r *EndpointRepo) UpsertOverride(ctx context.Context, o EndpointOverride) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO endpoint_overrides (device_key, mac, ip, vendor, type, os, brand, model, hostname, comment, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now())
		ON CONFLICT (device_key, mac, ip) DO UPDATE SET
			vendor = EXCLUDED.vendor, type = EXCLUDED.type, os = EXCLUDED.os,
			brand = EXCLUDED.brand, model = EXCLUDED.model, hostname = EXCLUDED.hostname,
			comment = EXCLUDED.comment, updated_at = now()`,
		o.DeviceKey, o.MAC, o.IP, nullIfEmpty(o.Vendor), nullIfEmpty(o.Type), nullIfEmpty(o.OS),
		nullIfEmpty(o.Brand), nullIfEmpty(o.Model), nullIfEmpty(o.Hostname), nullIfEmpty(o.Comment),
	)
	if err != nil {
		return fmt.Errorf("upsert endpoint override: %w", err)
	}
	return nil
}

// ListOverrides returns every override row for a device, keyed for
// read-time shadowing of auto attributes in API responses.
func (r *EndpointRepo) ListOverrides(ctx context.Context, deviceKey string) (map[string]EndpointOverride, error) {
	rows, err := r.db.Query(ctx, `
		SELECT device_key, mac, ip,
		       COALESCE(vendor,''), COALESCE(type,''), COALESCE(os,''),
		       COALESCE(brand,''), COALESCE(model,''), COALESCE(hostname,''), COALESCE(comment,'')
		FROM endpoint_overrides WHERE device_key = $1`, deviceKey)
	if err != nil {
		return nil, fmt.Errorf("list endpoint overrides: %w", err)
	}
	defer rows.Close()

	out := make(map[string]EndpointOverride)
	for rows.Next() {
		var o EndpointOverride
		if err := rows.Scan(&o.DeviceKey, &o.MAC, &o.IP,
			&o.Vendor, &o.Type, &o.OS, &o.Brand, &o.Model, &o.Hostname, &o.Comment); err != nil {
			return nil, fmt.Errorf("scan endpoint override: %w", err)
		}
		out[o.DeviceKey+"|"+o.MAC+"|"+o.IP] = o
	}
	return out, rows.Err()
}

func (r *EndpointRepo) DeleteByDevice(ctx context.Context, deviceKey string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM endpoint_overrides WHERE device_key = $1`, deviceKey); err != nil {
		return fmt.Errorf("delete endpoint overrides: %w", err)
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM endpoints WHERE device_key = $1`, deviceKey); err != nil {
		return fmt.Errorf("delete endpoints: %w", err)
	}
	return nil
}

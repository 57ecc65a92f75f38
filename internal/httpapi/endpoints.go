package httpapi

import (
	"net/http"
	"strings"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/apierr"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/parser"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/store"
)

// EndpointNames handles GET /api/endpoints?device&kind=zone|interface:
// the zone/interface picker for the graph query form.
func (h *Handler) EndpointNames(w http.ResponseWriter, r *http.Request) {
	device, err := requireQuery(r, "device")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	kind := r.URL.Query().Get("kind")
	if kind != "zone" && kind != "interface" {
		h.fail(w, r, apierr.ValidationError(`kind must be "zone" or "interface"`))
		return
	}

	members, err := h.store.HAClusters.Members(r.Context(), device)
	if err != nil {
		h.fail(w, r, apierr.Internal(err))
		return
	}
	names, err := h.store.Events.DistinctNames(r.Context(), members, kind)
	if err != nil {
		h.fail(w, r, apierr.Internal(err))
		return
	}
	if names == nil {
		names = []string{}
	}
	h.writeJSON(w, http.StatusOK, names)
}

// endpointListItem is one row of the endpoint picker.
type endpointListItem struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	IP         string `json:"ip"`
	DeviceName string `json:"device_name"`
}

// EndpointList handles GET /api/endpoints/list: endpoints seen in window.
func (h *Handler) EndpointList(w http.ResponseWriter, r *http.Request) {
	device, err := requireQuery(r, "device")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	from, to, err := parseWindow(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	hasMAC := r.URL.Query().Get("has_mac") == "true"

	members, err := h.store.HAClusters.Members(r.Context(), device)
	if err != nil {
		h.fail(w, r, apierr.Internal(err))
		return
	}

	var items []endpointListItem
	for _, member := range members {
		rows, err := h.store.Endpoints.ListInWindow(r.Context(), member, from, to, hasMAC)
		if err != nil {
			h.fail(w, r, apierr.Internal(err))
			return
		}
		overrides, err := h.store.Endpoints.ListOverrides(r.Context(), member)
		if err != nil {
			h.fail(w, r, apierr.Internal(err))
			return
		}
		for _, row := range rows {
			id := row.DeviceKey + "|" + row.MAC + "|" + row.IP
			label := row.AutoHostname
			if o, ok := overrides[id]; ok && o.Hostname != "" {
				label = o.Hostname
			}
			if label == "" {
				label = row.IP
			}
			items = append(items, endpointListItem{ID: id, Label: label, IP: row.IP, DeviceName: row.DeviceKey})
		}
	}
	if items == nil {
		items = []endpointListItem{}
	}
	h.writeJSON(w, http.StatusOK, items)
}

// knownEndpoint is one row of the paginated inventory, with override
// fields shadowing auto fields and the auto values still visible.
type knownEndpoint struct {
	ID        string            `json:"id"`
	MAC       string            `json:"mac"`
	IP        string            `json:"ip"`
	FirstSeen string            `json:"first_seen"`
	LastSeen  string            `json:"last_seen"`
	SeenCount int64             `json:"seen_count"`
	Vendor    string            `json:"vendor"`
	Type      string            `json:"type"`
	OS        string            `json:"os"`
	Brand     string            `json:"brand"`
	Model     string            `json:"model"`
	Hostname  string            `json:"hostname"`
	Comment   string            `json:"comment,omitempty"`
	Auto      map[string]string `json:"auto"`
	Override  bool              `json:"override"`
}

// KnownEndpoints handles GET /api/endpoints/known: the paginated
// inventory with sort/filter and the optional local-networks restriction.
func (h *Handler) KnownEndpoints(w http.ResponseWriter, r *http.Request) {
	device, err := requireQuery(r, "device")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	q := store.KnownQuery{
		DeviceKey:  device,
		Limit:      intQuery(r, "limit", 50, 500),
		Offset:     intQuery(r, "offset", 0, 0),
		Sort:       r.URL.Query().Get("sort"),
		Descending: r.URL.Query().Get("order") != "asc",
		Filter:     r.URL.Query().Get("filter"),
	}
	if r.URL.Query().Get("local_only") == "true" {
		snap, err := h.settings.Get(r.Context())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if snap.LocalNetworks.Enabled {
			q.LocalOnly = true
			q.LocalCIDRs = snap.LocalNetworks.CIDRs
		}
	}

	rows, total, err := h.store.Endpoints.ListKnown(r.Context(), q)
	if err != nil {
		h.fail(w, r, apierr.Internal(err))
		return
	}
	overrides, err := h.store.Endpoints.ListOverrides(r.Context(), device)
	if err != nil {
		h.fail(w, r, apierr.Internal(err))
		return
	}

	items := make([]knownEndpoint, 0, len(rows))
	for _, row := range rows {
		items = append(items, shadowEndpoint(row, overrides))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

// shadowEndpoint applies read-time override shadowing: non-empty override
// fields replace the displayed value; auto fields stay visible untouched.
func shadowEndpoint(row store.EndpointRow, overrides map[string]store.EndpointOverride) knownEndpoint {
	e := knownEndpoint{
		ID:        row.DeviceKey + "|" + row.MAC + "|" + row.IP,
		MAC:       row.MAC,
		IP:        row.IP,
		FirstSeen: row.FirstSeen.UTC().Format("2006-01-02T15:04:05.000Z"),
		LastSeen:  row.LastSeen.UTC().Format("2006-01-02T15:04:05.000Z"),
		SeenCount: row.SeenCount,
		Vendor:    row.AutoVendor,
		Type:      row.AutoType,
		OS:        row.AutoOS,
		Brand:     row.AutoBrand,
		Model:     row.AutoModel,
		Hostname:  row.AutoHostname,
		Auto: map[string]string{
			"vendor": row.AutoVendor, "type": row.AutoType, "os": row.AutoOS,
			"brand": row.AutoBrand, "model": row.AutoModel, "hostname": row.AutoHostname,
		},
	}
	o, ok := overrides[e.ID]
	if !ok {
		return e
	}
	e.Override = true
	e.Comment = o.Comment
	for _, f := range []struct {
		val string
		dst *string
	}{
		{o.Vendor, &e.Vendor}, {o.Type, &e.Type}, {o.OS, &e.OS},
		{o.Brand, &e.Brand}, {o.Model, &e.Model}, {o.Hostname, &e.Hostname},
	} {
		if f.val != "" {
			*f.dst = f.val
		}
	}
	return e
}

// SetEndpointOverride handles PUT /api/endpoints/override.
func (h *Handler) SetEndpointOverride(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Device   string `json:"device"`
		MAC      string `json:"mac"`
		IP       string `json:"ip"`
		Vendor   string `json:"vendor"`
		Type     string `json:"type"`
		OS       string `json:"os"`
		Brand    string `json:"brand"`
		Model    string `json:"model"`
		Hostname string `json:"hostname"`
		Comment  string `json:"comment"`
	}
	if err := decodeJSON(r.Body, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Device == "" || req.IP == "" {
		h.fail(w, r, apierr.ValidationError("device and ip are required"))
		return
	}
	o := store.EndpointOverride{
		DeviceKey: req.Device, MAC: parser.NormalizeMAC(req.MAC), IP: req.IP,
		Vendor: req.Vendor, Type: req.Type, OS: req.OS,
		Brand: req.Brand, Model: req.Model, Hostname: req.Hostname, Comment: req.Comment,
	}
	if err := h.store.Endpoints.UpsertOverride(r.Context(), o); err != nil {
		h.fail(w, r, apierr.Internal(err))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// MACInventory handles GET /api/inventory/macs: the per-MAC rollup that
// feeds the router-MAC suggestion view.
func (h *Handler) MACInventory(w http.ResponseWriter, r *http.Request) {
	device, err := requireQuery(r, "device")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	rollups, err := h.store.RouterMACs.ListMACRollups(r.Context(), device, 2)
	if err != nil {
		h.fail(w, r, apierr.Internal(err))
		return
	}

	type macRollup struct {
		MAC             string   `json:"mac"`
		DistinctIPCount int64    `json:"distinct_ip_count"`
		SampleIPs       []string `json:"sample_ips"`
		LastSeen        string   `json:"last_seen"`
		SuggestedRouter bool     `json:"suggested_router"`
	}
	out := make([]macRollup, 0, len(rollups))
	for _, m := range rollups {
		out = append(out, macRollup{
			MAC:             m.MAC,
			DistinctIPCount: m.DistinctIPCount,
			SampleIPs:       m.SampleIPs,
			LastSeen:        m.LastSeen,
			SuggestedRouter: m.DistinctIPCount >= 10,
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}

// RouterMACs handles GET/POST/DELETE /api/router-macs.
func (h *Handler) RouterMACs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		device, err := requireQuery(r, "device")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		rules, err := h.store.RouterMACs.List(r.Context(), device)
		if err != nil {
			h.fail(w, r, apierr.Internal(err))
			return
		}
		type ruleItem struct {
			Device    string `json:"device"`
			MAC       string `json:"mac"`
			Direction string `json:"direction"`
		}
		out := make([]ruleItem, 0, len(rules))
		for _, rule := range rules {
			out = append(out, ruleItem{Device: rule.DeviceKey, MAC: rule.MAC, Direction: rule.Direction})
		}
		h.writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		var req struct {
			Device    string `json:"device"`
			MAC       string `json:"mac"`
			Direction string `json:"direction"`
		}
		if err := decodeJSON(r.Body, &req); err != nil {
			h.fail(w, r, err)
			return
		}
		mac := parser.NormalizeMAC(req.MAC)
		if req.Device == "" || mac == "" {
			h.fail(w, r, apierr.ValidationError("device and mac are required"))
			return
		}
		dir := strings.ToLower(req.Direction)
		switch dir {
		case "src", "dst", "both":
		case "":
			dir = "both"
		default:
			h.fail(w, r, apierr.ValidationError(`direction must be "src", "dst" or "both"`))
			return
		}
		rule := store.RouterMACRule{DeviceKey: req.Device, MAC: mac, Direction: dir}
		if err := h.store.RouterMACs.Upsert(r.Context(), rule); err != nil {
			h.fail(w, r, apierr.Internal(err))
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})

	case http.MethodDelete:
		device, err := requireQuery(r, "device")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		mac, err := requireQuery(r, "mac")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if err := h.store.RouterMACs.Delete(r.Context(), device, parser.NormalizeMAC(mac)); err != nil {
			h.fail(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})

	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		h.writeJSON(w, http.StatusMethodNotAllowed, errorBody{Detail: "method not allowed"})
	}
}

// UnclassifiedNames handles GET /api/classification/unclassified: the
// zone/interface names the classification policy has no grouping for.
func (h *Handler) UnclassifiedNames(w http.ResponseWriter, r *http.Request) {
	device, err := requireQuery(r, "device")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rows, err := h.store.Unclassified.List(r.Context(), device)
	if err != nil {
		h.fail(w, r, apierr.Internal(err))
		return
	}
	type nameCount struct {
		Kind  string `json:"kind"`
		Name  string `json:"name"`
		Count int64  `json:"count"`
	}
	out := make([]nameCount, 0, len(rows))
	for _, row := range rows {
		out = append(out, nameCount{Kind: row.Kind, Name: row.Name, Count: row.Count})
	}
	h.writeJSON(w, http.StatusOK, out)
}

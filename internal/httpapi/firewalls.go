package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/apierr"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/jobs"
)

// firewallItem is one row of the firewall inventory, with the user
// override shadowing the auto display name.
type firewallItem struct {
	DeviceKey    string     `json:"device_key"`
	DisplayName  string     `json:"display_name"`
	SourceSyslog bool       `json:"source_syslog"`
	SourceImport bool       `json:"source_import"`
	FirstSeen    time.Time  `json:"first_seen"`
	LastSeen     time.Time  `json:"last_seen"`
	LastImportTS *time.Time `json:"last_import_ts"`
	Comment      string     `json:"comment,omitempty"`
	Override     bool       `json:"override"`
}

// Firewalls handles GET /api/firewalls.
func (h *Handler) Firewalls(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.Firewalls.List(r.Context())
	if err != nil {
		h.fail(w, r, apierr.Internal(err))
		return
	}
	out := make([]firewallItem, 0, len(rows))
	for _, fw := range rows {
		item := firewallItem{
			DeviceKey:    fw.DeviceKey,
			DisplayName:  fw.DisplayName,
			SourceSyslog: fw.SourceSyslog,
			SourceImport: fw.SourceImport,
			FirstSeen:    fw.FirstSeen,
			LastSeen:     fw.LastSeen,
			LastImportTS: fw.LastImportTS,
			Comment:      fw.OverrideComment,
		}
		if fw.OverrideName != "" {
			item.DisplayName = fw.OverrideName
			item.Override = true
		}
		out = append(out, item)
	}
	h.writeJSON(w, http.StatusOK, out)
}

// UpdateFirewall handles PUT /api/firewalls/{device_key}.
func (h *Handler) UpdateFirewall(w http.ResponseWriter, r *http.Request) {
	deviceKey := r.PathValue("device_key")
	var req struct {
		DisplayName string `json:"display_name"`
		Comment     string `json:"comment"`
	}
	if err := decodeJSON(r.Body, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	if _, err := h.store.Firewalls.Get(r.Context(), deviceKey); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			h.fail(w, r, apierr.NotFound("firewall not found"))
			return
		}
		h.fail(w, r, apierr.Internal(err))
		return
	}
	if err := h.store.Firewalls.SetOverride(r.Context(), deviceKey, req.DisplayName, req.Comment); err != nil {
		h.fail(w, r, apierr.Internal(err))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// PurgeFirewall handles POST /api/firewalls/{device_key}/purge: enqueue a
// purge job, refusing with 409 while any conflicting job is active.
func (h *Handler) PurgeFirewall(w http.ResponseWriter, r *http.Request) {
	deviceKey := r.PathValue("device_key")
	if _, err := h.store.Firewalls.Get(r.Context(), deviceKey); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			h.fail(w, r, apierr.NotFound("firewall not found"))
			return
		}
		h.fail(w, r, apierr.Internal(err))
		return
	}

	jobID, err := h.jobs.Submit(r.Context(), jobs.KindPurge, "", deviceKey)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "job_id": jobID})
}

// FirewallImportJobs handles GET /api/firewalls/{device_key}/import-jobs.
func (h *Handler) FirewallImportJobs(w http.ResponseWriter, r *http.Request) {
	deviceKey := r.PathValue("device_key")
	rows, err := h.jobs.List(r.Context(), deviceKey, "", intQuery(r, "limit", 50, 200))
	if err != nil {
		h.fail(w, r, apierr.Internal(err))
		return
	}
	out := make([]jobStatus, 0, len(rows))
	for _, j := range rows {
		if j.Kind != jobs.KindImport {
			continue
		}
		out = append(out, toJobStatus(&j))
	}
	h.writeJSON(w, http.StatusOK, out)
}

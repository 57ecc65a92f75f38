package httpapi

import (
	"net/http"
	"strings"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/apierr"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/firewallid"
)

// DeviceGroup is one selectable query target: a single firewall or an
// enabled HA cluster.
type DeviceGroup struct {
	ID      string   `json:"id"`
	Kind    string   `json:"kind"` // single|ha
	Label   string   `json:"label"`
	Members []string `json:"members"`
}

// DeviceGroups handles GET /api/devices/groups.
func (h *Handler) DeviceGroups(w http.ResponseWriter, r *http.Request) {
	firewalls, err := h.store.Firewalls.List(r.Context())
	if err != nil {
		h.fail(w, r, apierr.Internal(err))
		return
	}
	clusters, err := h.store.HAClusters.List(r.Context())
	if err != nil {
		h.fail(w, r, apierr.Internal(err))
		return
	}

	clustered := make(map[string]bool)
	groups := make([]DeviceGroup, 0, len(firewalls)+len(clusters))
	for _, c := range clusters {
		clustered[c.MasterKey] = true
		clustered[c.SlaveKey] = true
		groups = append(groups, DeviceGroup{
			ID:      c.DeviceKey,
			Kind:    "ha",
			Label:   strings.ToUpper(c.Base[:1]) + c.Base[1:],
			Members: []string{c.MasterKey, c.SlaveKey},
		})
	}
	for _, fw := range firewalls {
		if clustered[fw.DeviceKey] {
			continue
		}
		label := fw.DisplayName
		if fw.OverrideName != "" {
			label = fw.OverrideName
		}
		groups = append(groups, DeviceGroup{
			ID:      fw.DeviceKey,
			Kind:    "single",
			Label:   label,
			Members: []string{fw.DeviceKey},
		})
	}
	h.writeJSON(w, http.StatusOK, groups)
}

// HACandidates handles GET /api/devices/ha-candidates: suggested pairs
// not yet enabled, minus any base the operator has dismissed.
func (h *Handler) HACandidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := firewallid.Candidates(r.Context(), h.store)
	if err != nil {
		h.fail(w, r, apierr.Internal(err))
		return
	}
	snap, err := h.settings.Get(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dismissed := make(map[string]bool, len(snap.HABannerDismissed))
	for _, base := range snap.HABannerDismissed {
		dismissed[base] = true
	}

	type candidate struct {
		Base           string `json:"base"`
		Master         string `json:"master"`
		Slave          string `json:"slave"`
		SuggestedLabel string `json:"suggested_label"`
	}
	out := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if dismissed[c.Base] {
			continue
		}
		out = append(out, candidate{Base: c.Base, Master: c.Master, Slave: c.Slave, SuggestedLabel: c.SuggestedLabel})
	}
	h.writeJSON(w, http.StatusOK, out)
}

// EnableHAGroup handles POST /api/devices/groups/enable.
func (h *Handler) EnableHAGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Base string `json:"base"`
	}
	if err := decodeJSON(r.Body, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Base == "" {
		h.fail(w, r, apierr.ValidationError("base is required"))
		return
	}

	candidates, err := firewallid.Candidates(r.Context(), h.store)
	if err != nil {
		h.fail(w, r, apierr.Internal(err))
		return
	}
	for _, c := range candidates {
		if c.Base != req.Base {
			continue
		}
		if err := firewallid.Enable(r.Context(), h.store, c.Base, c.Master, c.Slave); err != nil {
			h.fail(w, r, apierr.Internal(err))
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	h.fail(w, r, apierr.NotFound("no HA candidate with that base"))
}

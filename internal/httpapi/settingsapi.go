package httpapi

import (
	"net/http"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/apierr"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/settings"
)

// Settings handles GET /api/settings.
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	snap, err := h.settings.Get(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// PutLogRetention handles PUT /api/settings/log-retention.
func (h *Handler) PutLogRetention(w http.ResponseWriter, r *http.Request) {
	var req settings.LogRetention
	if err := decodeJSON(r.Body, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.settings.SetLogRetention(r.Context(), req); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// PutLocalNetworks handles PUT /api/settings/local-networks.
func (h *Handler) PutLocalNetworks(w http.ResponseWriter, r *http.Request) {
	var req settings.LocalNetworks
	if err := decodeJSON(r.Body, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.settings.SetLocalNetworks(r.Context(), req); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// DismissHABanner handles POST /api/settings/ha-banner/dismiss.
func (h *Handler) DismissHABanner(w http.ResponseWriter, r *http.Request) {
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
	if err := h.settings.DismissHABanner(r.Context(), req.Base); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Stats handles GET /api/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.counters.Snapshot())
}

// DBStats handles GET /api/stats/db.
func (h *Handler) DBStats(w http.ResponseWriter, r *http.Request) {
	st := h.store.Stats()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"acquired_conns":      st.AcquiredConns,
		"idle_conns":          st.IdleConns,
		"max_conns":           st.MaxConns,
		"total_conns":         st.TotalConns,
		"new_conns_count":     st.NewConnsCount,
		"acquire_count":       st.AcquireCount,
		"acquire_duration_ms": st.AcquireDuration.Milliseconds(),
	})
}

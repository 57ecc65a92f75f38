package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/middleware"
)

// NewRouter registers every API route on a method+path ServeMux and wraps
// it in the request-id, recovery and CORS middleware.
func NewRouter(h *Handler, serveFrontend bool, frontendDir string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/devices/groups", h.DeviceGroups)
	mux.HandleFunc("GET /api/devices/ha-candidates", h.HACandidates)
	mux.HandleFunc("POST /api/devices/groups/enable", h.EnableHAGroup)

	mux.HandleFunc("GET /api/endpoints", h.EndpointNames)
	mux.HandleFunc("GET /api/endpoints/list", h.EndpointList)
	mux.HandleFunc("GET /api/endpoints/known", h.KnownEndpoints)
	mux.HandleFunc("PUT /api/endpoints/override", h.SetEndpointOverride)
	mux.HandleFunc("GET /api/inventory/macs", h.MACInventory)
	mux.HandleFunc("/api/router-macs", h.RouterMACs)
	mux.HandleFunc("GET /api/classification/unclassified", h.UnclassifiedNames)

	mux.HandleFunc("GET /api/graph", h.Graph)
	mux.HandleFunc("GET /api/graph/inspect-logs", h.InspectLogs)

	mux.HandleFunc("GET /api/firewalls", h.Firewalls)
	mux.HandleFunc("PUT /api/firewalls/{device_key}", h.UpdateFirewall)
	mux.HandleFunc("POST /api/firewalls/{device_key}/purge", h.PurgeFirewall)
	mux.HandleFunc("GET /api/firewalls/{device_key}/import-jobs", h.FirewallImportJobs)

	mux.HandleFunc("POST /api/ingest/upload", h.Upload)
	mux.HandleFunc("GET /api/ingest/jobs", h.IngestJobs)
	mux.HandleFunc("GET /api/ingest/upload/status", h.UploadStatus)
	mux.HandleFunc("POST /api/ingest/jobs/{job_id}/cancel", h.CancelJob)
	mux.HandleFunc("DELETE /api/ingest/jobs/{job_id}", h.DeleteJob)

	mux.HandleFunc("GET /api/settings", h.Settings)
	mux.HandleFunc("PUT /api/settings/log-retention", h.PutLogRetention)
	mux.HandleFunc("PUT /api/settings/local-networks", h.PutLocalNetworks)
	mux.HandleFunc("POST /api/settings/ha-banner/dismiss", h.DismissHABanner)

	mux.HandleFunc("GET /api/stats", h.Stats)
	mux.HandleFunc("GET /api/stats/db", h.DBStats)

	mux.HandleFunc("GET /api/maintenance/jobs/{job_id}", h.MaintenanceJob)
	mux.HandleFunc("POST /api/maintenance/cleanup", h.TriggerCleanup)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if serveFrontend && frontendDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(frontendDir)))
	}

	var handler http.Handler = mux
	handler = middleware.CORS(middleware.DefaultCORSConfig())(handler)
	handler = middleware.Recovery(h.logger.Logger)(handler)
	handler = middleware.RequestID(handler)
	return handler
}

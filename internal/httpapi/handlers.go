// Package httpapi exposes the analytical HTTP API under /api: device
// groups, endpoint inventory, the graph query, ingest jobs, settings and
// stats. Handlers validate inputs, call the owning component, and
// translate failures through the apierr taxonomy.
package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/apierr"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/graph"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/importer"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/jobs"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/logging"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/middleware"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/settings"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/stats"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/store"
)

// Handler wires the API routes to their owning components.
type Handler struct {
	store    *store.Store
	jobs     *jobs.Manager
	settings *settings.Store
	graph    *graph.Engine
	importer *importer.Importer
	counters *stats.Counters
	logger   *logging.Logger
}

func New(s *store.Store, mgr *jobs.Manager, set *settings.Store, eng *graph.Engine, imp *importer.Importer, counters *stats.Counters, logger *logging.Logger) *Handler {
	return &Handler{store: s, jobs: mgr, settings: set, graph: eng, importer: imp, counters: counters, logger: logger}
}

// errorBody is the uniform error response shape: {detail: string}, plus
// job_id when the error carries one. Busy refusals from jobs.Submit carry
// none, so job_id is omitted on them.
type errorBody struct {
	Detail string `json:"detail"`
	JobID  string `json:"job_id,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// fail translates err through the apierr taxonomy. Unknown errors become
// internal with the request id logged for correlation.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	ae := apierr.As(err)
	if ae.Kind == apierr.KindInternal {
		h.logger.ErrorContext(r.Context(), "request failed",
			logging.Component("httpapi"),
			logging.Err(err),
		)
	}
	detail := ae.Detail
	if detail == "" {
		detail = string(ae.Kind)
	}
	h.writeJSON(w, ae.Status(), errorBody{Detail: detail, JobID: ae.JobID})
}

func (h *Handler) requestLogger(r *http.Request) *logging.Logger {
	if id := middleware.GetRequestID(r.Context()); id != "" {
		return h.logger.With("request_id", id)
	}
	return h.logger
}

func decodeJSON(body io.ReadCloser, dst any) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apierr.ValidationError("invalid request body: " + err.Error())
	}
	return nil
}

// requireQuery returns the named query parameter or a validation error.
func requireQuery(r *http.Request, name string) (string, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return "", apierr.ValidationError(fmt.Sprintf("missing required parameter %q", name))
	}
	return v, nil
}

// parseTimeParam parses an RFC3339 (or unix-milliseconds) query value.
func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	v, err := requireQuery(r, name)
	if err != nil {
		return time.Time{}, err
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, apierr.ValidationError(fmt.Sprintf("parameter %q is not a valid RFC3339 timestamp", name))
}

// parseWindow reads the half-open [time_from, time_to) interval.
func parseWindow(r *http.Request) (from, to time.Time, err error) {
	from, err = parseTimeParam(r, "time_from")
	if err != nil {
		return
	}
	to, err = parseTimeParam(r, "time_to")
	if err != nil {
		return
	}
	if to.Before(from) {
		err = apierr.ValidationError("time_to must not precede time_from")
	}
	return
}

func intQuery(r *http.Request, name string, def, max int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}

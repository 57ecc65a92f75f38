package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/apierr"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/graph"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/store"
)

const (
	graphDeadline      = 60 * time.Second
	inspectPageSizeMax = 100
)

// Graph handles GET /api/graph, the main analytical query (§4.9).
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	req, err := parseGraphRequest(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), graphDeadline)
	defer cancel()

	resp, err := h.graph.Query(ctx, *req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func parseGraphRequest(r *http.Request) (*graph.Request, error) {
	device, err := requireQuery(r, "device_key")
	if err != nil {
		return nil, err
	}
	srcKind, err := requireQuery(r, "src_kind")
	if err != nil {
		return nil, err
	}
	srcValue, err := requireQuery(r, "src_value")
	if err != nil {
		return nil, err
	}
	dstKind, err := requireQuery(r, "dst_kind")
	if err != nil {
		return nil, err
	}

	switch srcKind {
	case graph.KindZone, graph.KindIface, graph.KindEndpoint:
	default:
		return nil, apierr.ValidationError(`src_kind must be "zone", "interface" or "endpoint"`)
	}

	dstValue := r.URL.Query().Get("dst_value")
	switch dstKind {
	case graph.KindAny:
		// dst_value is ignored when dst_kind=any.
		dstValue = ""
	case graph.KindZone, graph.KindIface, graph.KindEndpoint:
		if dstValue == "" {
			return nil, apierr.ValidationError("dst_value is required unless dst_kind=any")
		}
	default:
		return nil, apierr.ValidationError(`dst_kind must be "zone", "interface", "endpoint" or "any"`)
	}

	from, to, err := parseWindow(r)
	if err != nil {
		return nil, err
	}

	view := r.URL.Query().Get("view")
	switch view {
	case "":
		view = graph.ViewOriginal
	case graph.ViewOriginal, graph.ViewTranslated:
	default:
		return nil, apierr.ValidationError(`view must be "original" or "translated"`)
	}

	destView := r.URL.Query().Get("dest_view")
	switch destView {
	case "":
		destView = graph.DestViewEndpoints
	case graph.DestViewEndpoints, graph.DestViewServices:
	default:
		return nil, apierr.ValidationError(`dest_view must be "endpoints" or "services"`)
	}

	return &graph.Request{
		DeviceKey: device,
		SrcKind:   srcKind,
		SrcValue:  srcValue,
		DstKind:   dstKind,
		DstValue:  dstValue,
		TimeFrom:  from,
		TimeTo:    to,
		View:      view,
		DestView:  destView,
	}, nil
}

// InspectLogs handles GET /api/graph/inspect-logs: paginated raw events
// for one (src, dst, service) selection.
func (h *Handler) InspectLogs(w http.ResponseWriter, r *http.Request) {
	device, err := requireQuery(r, "device_key")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	from, to, err := parseWindow(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	srcIP, err := requireQuery(r, "src_ip")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dstIP, err := requireQuery(r, "dest_ip")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	proto, err := requireQuery(r, "proto")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dstPort := intQuery(r, "dst_port", -1, 0)
	if dstPort < 0 {
		h.fail(w, r, apierr.ValidationError("dst_port is required"))
		return
	}

	members, err := h.store.HAClusters.Members(r.Context(), device)
	if err != nil {
		h.fail(w, r, apierr.Internal(err))
		return
	}

	q := store.InspectQuery{
		DeviceKeys: members,
		From:       from,
		To:         to,
		SrcIP:      srcIP,
		DstIP:      dstIP,
		Proto:      proto,
		DstPort:    dstPort,
		Limit:      intQuery(r, "limit", inspectPageSizeMax, inspectPageSizeMax),
		Offset:     intQuery(r, "offset", 0, 0),
	}
	if vals, ok := r.URL.Query()["app_name"]; ok && len(vals) > 0 {
		app := vals[0]
		if app == "—" {
			app = ""
		}
		q.AppName = &app
	}

	rows, total, err := h.store.Events.Inspect(r.Context(), q)
	if err != nil {
		h.fail(w, r, apierr.Internal(err))
		return
	}
	if rows == nil {
		rows = []store.InspectRow{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"rows": rows, "total": total})
}

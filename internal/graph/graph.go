// Package graph implements the analytical `graph` query (C9): it turns a
// device/time/filter selection into a two-sided node-link topology with
// per-service and per-pair breakdowns, following §4.9's ten-step
// algorithm.
package graph

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/apierr"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/classify"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/config"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/store"
)

const (
	KindZone     = "zone"
	KindIface    = "interface"
	KindEndpoint = "endpoint"
	KindAny      = "any"

	ViewOriginal   = "original"
	ViewTranslated = "translated"

	DestViewEndpoints = "endpoints"
	DestViewServices  = "services"

	leftCap       = 9
	byPairCap     = 200
	topMapCap     = 5
	topServiceCap = 5
)

// Request is the fully-resolved input to a graph query (§4.9).
type Request struct {
	DeviceKey string
	SrcKind   string
	SrcValue  string
	DstKind   string
	DstValue  string
	TimeFrom  time.Time
	TimeTo    time.Time
	View      string
	DestView  string
}

// Node is a single rendered left-column or nested-child node.
type Node struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	IP         string `json:"ip"`
	MAC        string `json:"mac,omitempty"`
	DeviceName string `json:"device_name"`
	SeenCount  int64  `json:"seen_count"`
}

// RouterBucket collapses many-to-one router-MAC traffic per §4.9 step 7/8.
type RouterBucket struct {
	Count       int64    `json:"count"`
	HiddenNodes []string `json:"hidden_nodes"`
	HiddenEdges []string `json:"hidden_edges"`
}

// InterfaceGroup is a `dest_view=endpoints` right-column grouping.
type InterfaceGroup struct {
	ID       string       `json:"id"`
	Label    string       `json:"label"`
	Children []Node       `json:"children"`
	Router   RouterBucket `json:"router"`
}

// PairBreakdown is one (source,dest) contributor to a service leaf.
type PairBreakdown struct {
	SourceLabel string `json:"source_label"`
	DestLabel   string `json:"dest_label"`
	SrcIP       string `json:"src_ip"`
	DestIP      string `json:"dest_ip"`
	Count       int64  `json:"count"`
}

// ServiceAppNode is a per-app_name leaf under a service_port_node.
type ServiceAppNode struct {
	ID      string          `json:"id"`
	AppName string          `json:"app_name"`
	Count   int64           `json:"count"`
	ByPair  []PairBreakdown `json:"by_pair"`
}

// ServicePortNode groups flows by (proto, dst_port) for dest_view=services.
type ServicePortNode struct {
	ID       string           `json:"id"`
	Label    string           `json:"label"`
	Count    int64            `json:"count"`
	Children []ServiceAppNode `json:"children"`
}

// ServiceCount is one entry of an edge's top_services[].
type ServiceCount struct {
	Service string `json:"service"`
	Count   int64  `json:"count"`
}

// Edge is the aggregated traffic between two rendered node ids (§4.9 step 9).
type Edge struct {
	SourceID      string           `json:"source_id"`
	TargetID      string           `json:"target_id"`
	CountOpen     int64            `json:"count_open"`
	CountClose    int64            `json:"count_close"`
	BytesSrcToDst int64            `json:"bytes_src_to_dst"`
	BytesDstToSrc int64            `json:"bytes_dst_to_src"`
	TopPorts      map[string]int64 `json:"top_ports"`
	TopRules      map[string]int64 `json:"top_rules"`
	TopApps       map[string]int64 `json:"top_apps"`
	LastSeen      time.Time        `json:"last_seen"`
	TopServices   []ServiceCount   `json:"top_services"`
}

// Meta carries the resolved window and device membership for the caller.
type Meta struct {
	DeviceKeys []string  `json:"device_keys"`
	FlowCount  int       `json:"flow_count"`
	TimeFrom   time.Time `json:"time_from"`
	TimeTo     time.Time `json:"time_to"`
}

// Response is the full `graph` payload (§4.9).
type Response struct {
	LeftNodes        []Node            `json:"left_nodes"`
	InterfaceGroups  []InterfaceGroup  `json:"interface_groups,omitempty"`
	ServicePortNodes []ServicePortNode `json:"service_port_nodes,omitempty"`
	RouterBucketLeft RouterBucket      `json:"router_bucket_left"`
	Edges            []Edge            `json:"edges"`
	Meta             Meta              `json:"meta"`
}

// Engine answers graph queries against the flow/endpoint tables.
type Engine struct {
	store      *store.Store
	classifier *classify.Policy
	precedence config.ClassificationPrecedence
}

func New(s *store.Store, classifier *classify.Policy, precedence config.ClassificationPrecedence) *Engine {
	return &Engine{store: s, classifier: classifier, precedence: precedence}
}

// side is one flow's resolved source or destination: its classification
// identity plus the fields needed for labelling and service grouping.
type side struct {
	endpoint classify.EndpointID
	zone     string
	iface    string
	mac      string
	ip       string
	port     int
}

// projected holds one flow's effective fields after the view projection
// (§4.9 step 4) is applied.
type projected struct {
	f   store.FlowRow
	src side
	dst side
}

// Query runs the full §4.9 algorithm and returns the node-link payload.
func (e *Engine) Query(ctx context.Context, req Request) (*Response, error) {
	if !req.TimeTo.After(req.TimeFrom) {
		return &Response{Meta: Meta{TimeFrom: req.TimeFrom, TimeTo: req.TimeTo}}, nil
	}

	members, err := e.store.HAClusters.Members(ctx, req.DeviceKey)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("resolve device membership: %w", err))
	}

	flows, err := e.store.Flows.SelectWindow(ctx, members, req.TimeFrom, req.TimeTo)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("select flow window: %w", err))
	}

	var matched []projected
	for _, f := range flows {
		p := e.project(ctx, f, req.View)

		srcMatch, err := e.matches(ctx, f.DeviceKey, p.src, "src", req.SrcKind, req.SrcValue)
		if err != nil {
			return nil, err
		}
		if !srcMatch {
			continue
		}
		if req.DstKind != KindAny {
			dstMatch, err := e.matches(ctx, f.DeviceKey, p.dst, "dst", req.DstKind, req.DstValue)
			if err != nil {
				return nil, err
			}
			if !dstMatch {
				continue
			}
		}
		matched = append(matched, p)
	}

	seenCounts, err := e.seenCountIndex(ctx, members, req.TimeFrom, req.TimeTo)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Meta: Meta{DeviceKeys: members, FlowCount: len(matched), TimeFrom: req.TimeFrom, TimeTo: req.TimeTo},
	}

	leftNodes, routerLeft, srcIDByFlow := buildLeftColumn(matched, seenCounts)
	resp.LeftNodes = leftNodes
	resp.RouterBucketLeft = routerLeft

	var dstIDByFlow map[int]string
	switch req.DestView {
	case DestViewServices:
		resp.ServicePortNodes, dstIDByFlow = buildServiceColumn(matched)
	default:
		resp.InterfaceGroups, dstIDByFlow = buildEndpointColumn(matched, seenCounts)
	}

	resp.Edges = buildEdges(matched, srcIDByFlow, dstIDByFlow)
	return resp, nil
}

// project applies the view projection (§4.9 step 4): `translated` swaps
// in NAT-translated addresses/ports when present on the flow's close
// side; `original` (the default) uses the fields as logged.
func (e *Engine) project(ctx context.Context, f store.FlowRow, view string) projected {
	srcIP, srcPort, dstIP, dstPort := f.SrcIP, f.SrcPort, f.DstIP, f.DstPort
	if view == ViewTranslated {
		if f.XlatSrcIP != "" {
			srcIP = f.XlatSrcIP
		}
		if f.XlatSrcPort != 0 {
			srcPort = f.XlatSrcPort
		}
		if f.XlatDstIP != "" {
			dstIP = f.XlatDstIP
		}
		if f.XlatDstPort != 0 {
			dstPort = f.XlatDstPort
		}
	}

	srcEP, _ := e.classifier.Resolve(ctx, f.DeviceKey, f.SrcMAC, srcIP, "src")
	dstEP, _ := e.classifier.Resolve(ctx, f.DeviceKey, f.DstMAC, dstIP, "dst")

	return projected{
		f:   f,
		src: side{endpoint: srcEP, zone: f.SrcZone, iface: f.SrcIf, mac: f.SrcMAC, ip: srcIP, port: srcPort},
		dst: side{endpoint: dstEP, zone: f.DstZone, iface: f.DstIf, mac: f.DstMAC, ip: dstIP, port: dstPort},
	}
}

// matches classifies a flow side against the requested kind/value (§4.9
// steps 5/6): zone/interface matches consult the relevant event field;
// endpoint matches compare the resolved endpoint_id's stable key.
func (e *Engine) matches(ctx context.Context, deviceKey string, s side, direction, kind, value string) (bool, error) {
	switch kind {
	case KindZone, KindIface:
		return classify.FieldMatch(e.precedence, s.zone, s.iface, kind, value), nil
	case KindEndpoint:
		return s.endpoint.Key() == value, nil
	}
	return false, apierr.ValidationError(fmt.Sprintf("invalid %s_kind %q", direction, kind))
}

// seenCountIndex builds a (mac,ip) -> seen_count lookup across the window
// for the left/right column activity ordering and cap rule.
func (e *Engine) seenCountIndex(ctx context.Context, deviceKeys []string, from, to time.Time) (map[string]int64, error) {
	idx := make(map[string]int64)
	for _, dk := range deviceKeys {
		rows, err := e.store.Endpoints.ListInWindow(ctx, dk, from, to, false)
		if err != nil {
			return nil, apierr.Internal(fmt.Errorf("list endpoints for seen counts: %w", err))
		}
		for _, row := range rows {
			idx[dk+"|"+row.MAC+"|"+row.IP] = row.SeenCount
		}
	}
	return idx, nil
}

// buildLeftColumn implements §4.9 step 7: group by source endpoint_id,
// cap to 9 entries by seen_count desc, the rest into the router bucket.
func buildLeftColumn(matched []projected, seenCounts map[string]int64) ([]Node, RouterBucket, map[int]string) {
	type agg struct {
		node  Node
		count int64
	}
	groups := make(map[string]*agg)
	var order []string
	for _, p := range matched {
		ep := p.src.endpoint
		key := ep.Key()
		if g, ok := groups[key]; ok {
			g.count++
			continue
		}
		n := Node{ID: key, DeviceName: p.f.DeviceKey}
		if ep.IsRouter {
			n.Label = "router"
		} else {
			n.MAC, n.IP = ep.MAC, ep.IP
			n.Label = ep.IP
			n.SeenCount = seenCounts[key]
		}
		groups[key] = &agg{node: n, count: 1}
		order = append(order, key)
	}

	var router []string
	var individuals []*agg
	for _, key := range order {
		g := groups[key]
		if g.node.Label == "router" {
			router = append(router, key)
			continue
		}
		individuals = append(individuals, g)
	}
	sort.Slice(individuals, func(i, j int) bool {
		if individuals[i].node.SeenCount != individuals[j].node.SeenCount {
			return individuals[i].node.SeenCount > individuals[j].node.SeenCount
		}
		return individuals[i].node.ID < individuals[j].node.ID
	})

	var leftNodes []Node
	idByKey := make(map[string]string)
	var overflowCount int64
	var hiddenNodes []string
	for i, g := range individuals {
		if i < leftCap {
			leftNodes = append(leftNodes, g.node)
			idByKey[g.node.ID] = g.node.ID
			continue
		}
		overflowCount += g.count
		hiddenNodes = append(hiddenNodes, g.node.ID)
		idByKey[g.node.ID] = "router_left"
	}
	var routerCount int64
	for _, key := range router {
		routerCount += groups[key].count
		idByKey[key] = "router_left"
	}
	sort.Strings(hiddenNodes)

	srcIDByFlow := make(map[int]string, len(matched))
	for i, p := range matched {
		srcIDByFlow[i] = idByKey[p.src.endpoint.Key()]
	}

	return leftNodes, RouterBucket{
		Count:       overflowCount + routerCount,
		HiddenNodes: hiddenNodes,
	}, srcIDByFlow
}

// buildEndpointColumn implements §4.9 step 8's `endpoints` dest_view:
// group by destination interface, nesting local (mac present, non-router)
// devices and collapsing the rest into a per-group router bucket.
func buildEndpointColumn(matched []projected, seenCounts map[string]int64) ([]InterfaceGroup, map[int]string) {
	type groupAgg struct {
		group    InterfaceGroup
		children map[string]Node
		hidden   map[string]bool
	}
	groups := make(map[string]*groupAgg)
	var order []string
	dstIDByFlow := make(map[int]string, len(matched))

	for i, p := range matched {
		ifKey := p.dst.iface
		if ifKey == "" {
			ifKey = "—"
		}
		groupID := p.f.DeviceKey + "|if|" + ifKey
		g, ok := groups[groupID]
		if !ok {
			g = &groupAgg{
				group:    InterfaceGroup{ID: groupID, Label: ifKey},
				children: make(map[string]Node),
				hidden:   make(map[string]bool),
			}
			groups[groupID] = g
			order = append(order, groupID)
		}

		ep := p.dst.endpoint
		if !ep.IsRouter && ep.MAC != "" {
			key := ep.Key()
			if _, exists := g.children[key]; !exists {
				g.children[key] = Node{
					ID: key, MAC: ep.MAC, IP: ep.IP, Label: ep.IP,
					DeviceName: p.f.DeviceKey, SeenCount: seenCounts[key],
				}
			}
			dstIDByFlow[i] = key
			continue
		}

		key := ep.Key()
		g.hidden[key] = true
		dstIDByFlow[i] = groupID + "|router"
		g.group.Router.Count++
	}

	var out []InterfaceGroup
	for _, groupID := range order {
		g := groups[groupID]
		var children []Node
		for _, c := range g.children {
			children = append(children, c)
		}
		sort.Slice(children, func(i, j int) bool {
			if children[i].SeenCount != children[j].SeenCount {
				return children[i].SeenCount > children[j].SeenCount
			}
			return children[i].ID < children[j].ID
		})
		var hidden []string
		for k := range g.hidden {
			hidden = append(hidden, k)
		}
		sort.Strings(hidden)
		g.group.Children = children
		g.group.Router.HiddenNodes = hidden
		out = append(out, g.group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, dstIDByFlow
}

// buildServiceColumn implements §4.9 step 8's `services` dest_view: group
// by (proto, dst_port), nest app_name children, cap by_pair at 200 by
// count descending.
func buildServiceColumn(matched []projected) ([]ServicePortNode, map[int]string) {
	type pairKey struct{ srcLabel, dstLabel, srcIP, dstIP string }
	type appAgg struct {
		node  ServiceAppNode
		pairs map[pairKey]int64
	}
	type portAgg struct {
		node  ServicePortNode
		count int64
		apps  map[string]*appAgg
	}
	ports := make(map[string]*portAgg)
	var order []string
	dstIDByFlow := make(map[int]string, len(matched))

	for i, p := range matched {
		portID := fmt.Sprintf("%s|svc|%s/%d", p.f.DeviceKey, p.f.Proto, p.dst.port)
		pg, ok := ports[portID]
		if !ok {
			pg = &portAgg{
				node: ServicePortNode{ID: portID, Label: fmt.Sprintf("%s/%d", p.f.Proto, p.dst.port)},
				apps: make(map[string]*appAgg),
			}
			ports[portID] = pg
			order = append(order, portID)
		}
		pg.count++

		appName := p.f.AppName
		if appName == "" {
			appName = "—"
		}
		appID := portID + "|" + appName
		ag, ok := pg.apps[appID]
		if !ok {
			ag = &appAgg{node: ServiceAppNode{ID: appID, AppName: appName}, pairs: make(map[pairKey]int64)}
			pg.apps[appID] = ag
		}
		ag.node.Count++

		pk := pairKey{srcLabel: p.src.ip, dstLabel: p.dst.ip, srcIP: p.src.ip, dstIP: p.dst.ip}
		ag.pairs[pk]++

		dstIDByFlow[i] = appID
	}

	var out []ServicePortNode
	for _, portID := range order {
		pg := ports[portID]
		pg.node.Count = pg.count
		var apps []ServiceAppNode
		for _, ag := range pg.apps {
			var pairs []PairBreakdown
			for pk, count := range ag.pairs {
				pairs = append(pairs, PairBreakdown{
					SourceLabel: pk.srcLabel, DestLabel: pk.dstLabel,
					SrcIP: pk.srcIP, DestIP: pk.dstIP, Count: count,
				})
			}
			sort.Slice(pairs, func(i, j int) bool {
				if pairs[i].Count != pairs[j].Count {
					return pairs[i].Count > pairs[j].Count
				}
				return pairs[i].SrcIP < pairs[j].SrcIP
			})
			if len(pairs) > byPairCap {
				pairs = pairs[:byPairCap]
			}
			ag.node.ByPair = pairs
			apps = append(apps, ag.node)
		}
		sort.Slice(apps, func(i, j int) bool {
			if apps[i].Count != apps[j].Count {
				return apps[i].Count > apps[j].Count
			}
			return apps[i].AppName < apps[j].AppName
		})
		pg.node.Children = apps
		out = append(out, pg.node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, dstIDByFlow
}

// buildEdges implements §4.9 step 9: aggregate per rendered (source,
// target) pair across every matched flow, merging top-5 maps and the
// max last_seen, with deterministic (source_id, target_id) ordering.
func buildEdges(matched []projected, srcIDByFlow, dstIDByFlow map[int]string) []Edge {
	type counters struct {
		edge     Edge
		portSeen map[string]int64
		ruleSeen map[string]int64
		appSeen  map[string]int64
		svcSeen  map[string]int64
	}
	agg := make(map[string]*counters)
	var order []string

	for i, p := range matched {
		srcID, ok1 := srcIDByFlow[i]
		dstID, ok2 := dstIDByFlow[i]
		if !ok1 || !ok2 {
			continue
		}
		edgeKey := srcID + "->" + dstID
		c, ok := agg[edgeKey]
		if !ok {
			c = &counters{
				edge:     Edge{SourceID: srcID, TargetID: dstID},
				portSeen: make(map[string]int64),
				ruleSeen: make(map[string]int64),
				appSeen:  make(map[string]int64),
				svcSeen:  make(map[string]int64),
			}
			agg[edgeKey] = c
			order = append(order, edgeKey)
		}

		if p.f.CloseTS == nil {
			c.edge.CountOpen++
		} else {
			c.edge.CountClose++
		}
		c.edge.BytesSrcToDst = clampAdd(c.edge.BytesSrcToDst, p.f.BytesOrig)
		c.edge.BytesDstToSrc = clampAdd(c.edge.BytesDstToSrc, p.f.BytesTerm)
		if p.f.LastSeen.After(c.edge.LastSeen) {
			c.edge.LastSeen = p.f.LastSeen
		}

		portLabel := fmt.Sprintf("%s/%d", p.f.Proto, p.dst.port)
		c.portSeen[portLabel]++
		if p.f.Rule != "" {
			c.ruleSeen[p.f.Rule]++
		}
		if p.f.AppName != "" {
			c.appSeen[p.f.AppName]++
		}
		c.svcSeen[portLabel]++
	}

	var out []Edge
	for _, key := range order {
		c := agg[key]
		c.edge.TopPorts = topN(c.portSeen, topMapCap)
		c.edge.TopRules = topN(c.ruleSeen, topMapCap)
		c.edge.TopApps = topN(c.appSeen, topMapCap)
		c.edge.TopServices = topServices(c.svcSeen, topServiceCap)
		out = append(out, c.edge)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		return out[i].TargetID < out[j].TargetID
	})
	return out
}

func clampAdd(a, b int64) int64 {
	sum := a + b
	if sum < a {
		return 1<<63 - 1
	}
	return sum
}

// topN returns the top-k (by value desc, key asc on ties) entries of m.
func topN(m map[string]int64, k int) map[string]int64 {
	type kv struct {
		key string
		val int64
	}
	var all []kv
	for key, val := range m {
		all = append(all, kv{key, val})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].val != all[j].val {
			return all[i].val > all[j].val
		}
		return all[i].key < all[j].key
	})
	if len(all) > k {
		all = all[:k]
	}
	out := make(map[string]int64, len(all))
	for _, e := range all {
		out[e.key] = e.val
	}
	return out
}

func topServices(m map[string]int64, k int) []ServiceCount {
	type kv struct {
		key string
		val int64
	}
	var all []kv
	for key, val := range m {
		all = append(all, kv{key, val})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].val != all[j].val {
			return all[i].val > all[j].val
		}
		return all[i].key < all[j].key
	})
	if len(all) > k {
		all = all[:k]
	}
	out := make([]ServiceCount, 0, len(all))
	for _, e := range all {
		out = append(out, ServiceCount{Service: e.key, Count: e.val})
	}
	return out
}

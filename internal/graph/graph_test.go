package graph

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/classify"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/store"
)

func srcProjected(deviceKey, mac, ip string) projected {
	return projected{
		f: store.FlowRow{DeviceKey: deviceKey, Proto: "tcp", DstPort: 443},
		src: side{
			endpoint: classify.EndpointID{DeviceKey: deviceKey, MAC: mac, IP: ip},
			ip:       ip, mac: mac,
		},
		dst: side{
			endpoint: classify.EndpointID{DeviceKey: deviceKey, MAC: "AA-AA-AA-AA-AA-FF", IP: "8.8.8.8"},
			ip:       "8.8.8.8", port: 443, iface: "wan",
		},
	}
}

func TestBuildLeftColumn_CapsAtNine(t *testing.T) {
	var matched []projected
	seen := make(map[string]int64)
	for i := 0; i < 14; i++ {
		ip := fmt.Sprintf("10.0.0.%d", i+1)
		mac := fmt.Sprintf("AA-BB-CC-DD-EE-%02X", i+1)
		p := srcProjected("fw1", mac, ip)
		matched = append(matched, p)
		seen["fw1|"+mac+"|"+ip] = int64(100 - i)
	}

	nodes, bucket, srcIDs := buildLeftColumn(matched, seen)

	require.Len(t, nodes, 9)
	// Highest seen_count first.
	assert.Equal(t, "10.0.0.1", nodes[0].IP)
	assert.EqualValues(t, 5, bucket.Count)
	assert.Len(t, bucket.HiddenNodes, 5)
	// Every flow resolved to a rendered id.
	for i := range matched {
		assert.NotEmpty(t, srcIDs[i])
	}
	// Overflow flows point at the left router bucket.
	last := matched[13]
	assert.Equal(t, "router_left", srcIDs[13], "lowest-activity source %s should be bucketed", last.src.ip)
}

func TestBuildLeftColumn_RouterSourcesBucketed(t *testing.T) {
	var matched []projected
	for i := 0; i < 20; i++ {
		p := srcProjected("fw1", "", fmt.Sprintf("172.16.0.%d", i+1))
		p.src.endpoint = classify.EndpointID{IsRouter: true, DeviceKey: "fw1"}
		matched = append(matched, p)
	}

	nodes, bucket, _ := buildLeftColumn(matched, map[string]int64{})
	assert.Empty(t, nodes)
	assert.EqualValues(t, 20, bucket.Count)
}

func TestBuildServiceColumn_PortAndAppGrouping(t *testing.T) {
	var matched []projected
	for i := 0; i < 5; i++ {
		p := srcProjected("fw1", "AA-BB-CC-00-00-01", "10.0.0.1")
		p.f.AppName = "https"
		matched = append(matched, p)
	}
	for i := 0; i < 3; i++ {
		p := srcProjected("fw1", "AA-BB-CC-00-00-01", "10.0.0.1")
		p.f.AppName = "quic-proxy"
		matched = append(matched, p)
	}

	ports, dstIDs := buildServiceColumn(matched)

	require.Len(t, ports, 1)
	assert.Equal(t, "tcp/443", ports[0].Label)
	assert.EqualValues(t, 8, ports[0].Count)
	require.Len(t, ports[0].Children, 2)
	// Children ordered by count desc.
	assert.Equal(t, "https", ports[0].Children[0].AppName)
	assert.EqualValues(t, 5, ports[0].Children[0].Count)
	assert.Equal(t, "quic-proxy", ports[0].Children[1].AppName)
	assert.EqualValues(t, 3, ports[0].Children[1].Count)
	assert.Len(t, dstIDs, 8)
}

func TestBuildServiceColumn_NullAppBecomesDash(t *testing.T) {
	p := srcProjected("fw1", "AA-BB-CC-00-00-01", "10.0.0.1")
	ports, _ := buildServiceColumn([]projected{p})
	require.Len(t, ports, 1)
	require.Len(t, ports[0].Children, 1)
	assert.Equal(t, "—", ports[0].Children[0].AppName)
}

func TestBuildEdges_AggregatesAndOrders(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	closeTS := now.Add(5 * time.Second)

	open := srcProjected("fw1", "AA-BB-CC-00-00-01", "10.0.0.1")
	open.f.BytesOrig, open.f.BytesTerm = 100, 200
	open.f.LastSeen = now

	closed := srcProjected("fw1", "AA-BB-CC-00-00-01", "10.0.0.1")
	closed.f.CloseTS = &closeTS
	closed.f.BytesOrig, closed.f.BytesTerm = 1000, 2000
	closed.f.Rule = "allow-https"
	closed.f.AppName = "https"
	closed.f.LastSeen = closeTS

	matched := []projected{open, closed}
	srcIDs := map[int]string{0: "left-a", 1: "left-a"}
	dstIDs := map[int]string{0: "right-b", 1: "right-b"}

	edges := buildEdges(matched, srcIDs, dstIDs)
	require.Len(t, edges, 1)
	e := edges[0]
	assert.Equal(t, "left-a", e.SourceID)
	assert.Equal(t, "right-b", e.TargetID)
	assert.EqualValues(t, 1, e.CountOpen)
	assert.EqualValues(t, 1, e.CountClose)
	assert.EqualValues(t, 1100, e.BytesSrcToDst)
	assert.EqualValues(t, 2200, e.BytesDstToSrc)
	assert.Equal(t, closeTS, e.LastSeen)
	assert.EqualValues(t, 1, e.TopRules["allow-https"])
	assert.EqualValues(t, 1, e.TopApps["https"])
	require.Len(t, e.TopServices, 1)
	assert.Equal(t, "tcp/443", e.TopServices[0].Service)
}

func TestClampAdd_Overflow(t *testing.T) {
	max := int64(1<<63 - 1)
	assert.Equal(t, max, clampAdd(max, 1))
	assert.Equal(t, int64(3), clampAdd(1, 2))
}

func TestTopN_CapsAndTieBreaks(t *testing.T) {
	m := map[string]int64{"a": 5, "b": 5, "c": 1, "d": 9, "e": 2, "f": 2}
	got := topN(m, 5)
	assert.Len(t, got, 5)
	assert.NotContains(t, got, "c")
	assert.Contains(t, got, "d")
}

func TestQuery_EmptyWindowReturnsEmpty(t *testing.T) {
	eng := New(nil, nil, "")
	ts := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	resp, err := eng.Query(context.Background(), Request{TimeFrom: ts, TimeTo: ts})
	require.NoError(t, err)
	assert.Empty(t, resp.LeftNodes)
	assert.Empty(t, resp.Edges)
}

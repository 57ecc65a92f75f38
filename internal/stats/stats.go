// Package stats exposes process counters through both a JSON /stats
// surface and Prometheus /metrics scraping, following the promauto
// package-level registration style of ingest/internal/metrics.
package stats

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	udpPacketsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netwall_udp_packets_total",
		Help: "Total UDP datagrams received by the syslog receiver.",
	})
	udpDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netwall_udp_drops_total",
		Help: "Total datagram lines dropped because a consumer shard queue was full.",
	})
	parseOKTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netwall_parse_ok_total",
		Help: "Total syslog lines parsed successfully.",
	})
	parseErrTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netwall_parse_errors_total",
		Help: "Total syslog lines that failed to parse, by error kind.",
	}, []string{"kind"})
	rawLogsSavedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netwall_raw_logs_saved_total",
		Help: "Total raw_log rows persisted.",
	})
	eventsSavedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netwall_events_saved_total",
		Help: "Total event rows persisted.",
	})
	storageErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netwall_storage_errors_total",
		Help: "Total storage write failures that triggered a retry.",
	})
	jobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netwall_jobs_running",
		Help: "Number of heavy jobs currently running (0 or 1 by design).",
	})
)

// Counters is a lightweight in-process mirror used for the /stats JSON
// endpoint: each increment updates both its own atomic field here and the
// matching Prometheus collector.
type Counters struct {
	udpPackets    int64
	udpDrops      int64
	parseOK       int64
	parseErr      int64
	rawLogsSaved  int64
	eventsSaved   int64
	storageErrors int64
}

func New() *Counters { return &Counters{} }

func (c *Counters) IncUDPPackets() {
	atomic.AddInt64(&c.udpPackets, 1)
	udpPacketsTotal.Inc()
}

func (c *Counters) IncUDPDrops() {
	atomic.AddInt64(&c.udpDrops, 1)
	udpDropsTotal.Inc()
}

func (c *Counters) AddParseOK(n int64) {
	atomic.AddInt64(&c.parseOK, n)
	parseOKTotal.Add(float64(n))
}

func (c *Counters) IncParseErr(kind string) {
	atomic.AddInt64(&c.parseErr, 1)
	parseErrTotal.WithLabelValues(kind).Inc()
}

func (c *Counters) AddRawLogsSaved(n int64) {
	atomic.AddInt64(&c.rawLogsSaved, n)
	rawLogsSavedTotal.Add(float64(n))
}

func (c *Counters) AddEventsSaved(n int64) {
	atomic.AddInt64(&c.eventsSaved, n)
	eventsSavedTotal.Add(float64(n))
}

func (c *Counters) IncStorageErrors() {
	atomic.AddInt64(&c.storageErrors, 1)
	storageErrorsTotal.Inc()
}

func (c *Counters) SetJobsRunning(n int) { jobsRunning.Set(float64(n)) }

// Snapshot is the JSON shape returned by GET /stats.
type Snapshot struct {
	UDPPackets    int64 `json:"udp_packets"`
	UDPDrops      int64 `json:"udp_drops"`
	ParseOK       int64 `json:"parse_ok"`
	ParseErr      int64 `json:"parse_err"`
	RawLogsSaved  int64 `json:"raw_logs_saved"`
	EventsSaved   int64 `json:"events_saved"`
	StorageErrors int64 `json:"storage_errors"`
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		UDPPackets:    atomic.LoadInt64(&c.udpPackets),
		UDPDrops:      atomic.LoadInt64(&c.udpDrops),
		ParseOK:       atomic.LoadInt64(&c.parseOK),
		ParseErr:      atomic.LoadInt64(&c.parseErr),
		RawLogsSaved:  atomic.LoadInt64(&c.rawLogsSaved),
		EventsSaved:   atomic.LoadInt64(&c.eventsSaved),
		StorageErrors: atomic.LoadInt64(&c.storageErrors),
	}
}

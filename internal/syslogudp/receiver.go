// Package syslogudp binds the UDP syslog port and drains datagrams into a
// bounded queue, fanned out to a shard pool that preserves per-source
// ordering (C7).
package syslogudp

import (
	"context"
	"hash/fnv"
	"net"
	"strings"
	"time"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/logging"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/stats"
)

const (
	queueCapacity = 8192
	maxDatagram   = 64 * 1024
	batchSize     = 256
	batchInterval = 50 * time.Millisecond
	numConsumers  = 4
)

// Line is one \n-split line from a datagram, tagged with its source so
// consumer shards can preserve per-source ordering.
type Line struct {
	Source     string
	Raw        string
	ReceivedAt time.Time
	Oversize   bool
}

// Handler processes one batch of lines (shared across all consumer
// shards); typically wired to C1→C2→C3/C4.
type Handler func(ctx context.Context, lines []Line)

// Receiver binds a UDP socket and drains it into per-shard bounded queues.
type Receiver struct {
	addr    string
	metrics *stats.Counters
	logger  *logging.Logger
	queues  []chan Line
}

func New(addr string, metrics *stats.Counters, logger *logging.Logger) *Receiver {
	queues := make([]chan Line, numConsumers)
	for i := range queues {
		queues[i] = make(chan Line, queueCapacity/numConsumers)
	}
	return &Receiver{addr: addr, metrics: metrics, logger: logger, queues: queues}
}

// shardFor hashes (src_ip, src_port) to a consumer index so records from
// one source address are always handled by the same shard, preserving
// arrival order for that source.
func shardFor(source string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(source))
	return int(h.Sum32()) % n
}

// Serve binds the UDP socket and runs the receive loop and consumer
// shards until ctx is canceled.
func (r *Receiver) Serve(ctx context.Context, handler Handler) error {
	udpAddr, err := net.ResolveUDPAddr("udp", r.addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for i, q := range r.queues {
		go r.consume(ctx, i, q, handler)
	}

	buf := make([]byte, maxDatagram)
	for {
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			r.logger.WarnContext(ctx, "udp read error", logging.Err(err))
			continue
		}
		r.dispatch(raddr.String(), buf[:n])
	}
}

func (r *Receiver) dispatch(source string, data []byte) {
	r.metrics.IncUDPPackets()
	now := time.Now().UTC()
	for _, raw := range strings.Split(string(data), "\n") {
		raw = strings.TrimRight(raw, "\r")
		if raw == "" {
			continue
		}
		oversize := false
		if len(raw) > 16*1024 {
			raw = raw[:16*1024]
			oversize = true
		}
		line := Line{Source: source, Raw: raw, ReceivedAt: now, Oversize: oversize}
		q := r.queues[shardFor(source, len(r.queues))]
		select {
		case q <- line:
		default:
			r.metrics.IncUDPDrops()
		}
	}
}

func (r *Receiver) consume(ctx context.Context, shard int, q chan Line, handler Handler) {
	batch := make([]Line, 0, batchSize)
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		handler(ctx, batch)
		batch = make([]Line, 0, batchSize)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case line := <-q:
			batch = append(batch, line)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

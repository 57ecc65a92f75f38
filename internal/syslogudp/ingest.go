package syslogudp

import (
	"context"
	"sync"
	"time"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/firewallid"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/importer"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/logging"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/parser"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/store"
)

// Ingestor adapts receiver batches to the shared ingest pipeline: it
// reassembles wrapped records per source, parses each line, derives the
// device_key from the record's hostname, and hands the parsed record to
// the pipeline with a per-device raw_log sequence number.
type Ingestor struct {
	store    *store.Store
	parser   *parser.Parser
	pipeline *importer.Pipeline
	fwid     *firewallid.Resolver
	logger   *logging.Logger

	mu          sync.Mutex
	reassembler map[string]*parser.Reassembler
	sequences   map[string]int64
}

func NewIngestor(s *store.Store, p *parser.Parser, pipe *importer.Pipeline, fwid *firewallid.Resolver, logger *logging.Logger) *Ingestor {
	return &Ingestor{
		store:       s,
		parser:      p,
		pipeline:    pipe,
		fwid:        fwid,
		logger:      logger,
		reassembler: make(map[string]*parser.Reassembler),
		sequences:   make(map[string]int64),
	}
}

// HandleBatch is the Handler wired into Receiver.Serve. Each consumer
// shard calls it with lines from the sources hashed to that shard, so
// per-source ordering is already guaranteed by the caller.
func (in *Ingestor) HandleBatch(ctx context.Context, lines []Line) {
	seenDevices := make(map[string]time.Time)
	for _, line := range lines {
		record, ok := in.reassemble(line.Source, line.Raw)
		if !ok {
			continue
		}
		deviceKey := in.processRecord(ctx, record, line.ReceivedAt)
		if deviceKey != "" {
			seenDevices[deviceKey] = line.ReceivedAt
		}
	}
	for deviceKey, at := range seenDevices {
		if err := in.store.Firewalls.UpsertSeen(ctx, deviceKey, deviceKey, at, true, false); err != nil {
			in.logger.WarnContext(ctx, "mark firewall seen failed", logging.DeviceKey(deviceKey), logging.Err(err))
		}
	}
}

// reassemble feeds a line into the per-source record reassembler and
// returns a complete record when one is available.
func (in *Ingestor) reassemble(source, raw string) (string, bool) {
	in.mu.Lock()
	r, ok := in.reassembler[source]
	if !ok {
		r = parser.NewReassembler()
		in.reassembler[source] = r
	}
	in.mu.Unlock()
	return r.Feed(raw)
}

func (in *Ingestor) processRecord(ctx context.Context, raw string, receivedAt time.Time) string {
	rec, perr := in.parser.Parse(raw)

	hostname := ""
	if rec != nil {
		hostname = rec.DeviceHint
	}
	deviceKey, err := in.fwid.DeviceKeyForSyslog(ctx, hostname)
	if err != nil {
		in.logger.WarnContext(ctx, "derive device key failed", logging.Err(err))
		deviceKey = "unknown"
	}

	seq, err := in.nextSequence(ctx, deviceKey)
	if err != nil {
		in.logger.WarnContext(ctx, "next raw_log sequence failed", logging.DeviceKey(deviceKey), logging.Err(err))
		return ""
	}

	if _, err := in.pipeline.ProcessParsed(ctx, deviceKey, seq, raw, rec, perr, receivedAt, ""); err != nil {
		in.logger.WarnContext(ctx, "ingest line failed", logging.DeviceKey(deviceKey), logging.Err(err))
		return ""
	}
	return deviceKey
}

// nextSequence hands out monotonically increasing per-device sequence
// numbers, seeding each counter from the database on first use.
func (in *Ingestor) nextSequence(ctx context.Context, deviceKey string) (int64, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	seq, ok := in.sequences[deviceKey]
	if !ok {
		dbSeq, err := in.store.RawLogs.NextSequence(ctx, deviceKey)
		if err != nil {
			return 0, err
		}
		seq = dbSeq
	}
	in.sequences[deviceKey] = seq + 1
	return seq, nil
}

// Package importer streams bulk log files into the same parse→store→
// reconstruct pipeline the UDP receiver drives, reporting progress through
// the job manager (C8). An interrupted import is not resumed: a job left
// running when the process stops is marked error on the next start.
package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/apierr"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/classify"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/identity"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/logging"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/parser"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/reconstruct"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/stats"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/store"
)

// Pipeline is the single per-line ingest path shared by the UDP receiver
// ingestor (in internal/syslogudp) and the file importer: parse, persist the
// raw_log + event atomically, reconstruct the flow, and update the
// identity inventory.
type Pipeline struct {
	store    *store.Store
	parser   *parser.Parser
	recon    *reconstruct.Reconstructor
	identity *identity.Resolver
	metrics  *stats.Counters
	logger   *logging.Logger
}

func NewPipeline(s *store.Store, p *parser.Parser, recon *reconstruct.Reconstructor, idn *identity.Resolver, metrics *stats.Counters, logger *logging.Logger) *Pipeline {
	return &Pipeline{store: s, parser: p, recon: recon, identity: idn, metrics: metrics, logger: logger}
}

// LineOutcome summarises one processed line for a caller's counters.
type LineOutcome struct {
	ParseOK  bool
	ParseErr bool
	Filtered bool // record kind "other": stored but not CONN/DEVICE
	EventTS  *time.Time
}

// ProcessLine parses and persists a single already-trimmed syslog line for
// deviceKey. sequence is the caller-maintained per-device raw_log
// sequence number; receivedAt is the ingest-time wall clock (not the
// record's own timestamp).
func (p *Pipeline) ProcessLine(ctx context.Context, deviceKey string, sequence int64, raw string, receivedAt time.Time, jobID string) (LineOutcome, error) {
	rec, perr := p.parser.Parse(raw)
	return p.ProcessParsed(ctx, deviceKey, sequence, raw, rec, perr, receivedAt, jobID)
}

// ProcessParsed is ProcessLine for callers that already hold the parse
// result — the UDP ingest path parses first to learn the hostname it
// derives the device_key from, then hands the record here.
func (p *Pipeline) ProcessParsed(ctx context.Context, deviceKey string, sequence int64, raw string, rec *parser.Record, perr *parser.ParseError, receivedAt time.Time, jobID string) (LineOutcome, error) {
	var outcome LineOutcome
	parseStatus := "ok"
	var parseErrMsg *string
	if perr != nil {
		parseStatus = "error"
		msg := perr.Error()
		parseErrMsg = &msg
		outcome.ParseErr = true
		p.metrics.IncParseErr(string(perr.Kind))
	} else {
		outcome.ParseOK = true
		p.metrics.AddParseOK(1)
	}

	var jobIDPtr *string
	if jobID != "" {
		jobIDPtr = &jobID
	}

	rawLogRow := store.RawLogRow{
		DeviceKey:   deviceKey,
		ReceivedAt:  receivedAt,
		Sequence:    sequence,
		RawLine:     raw,
		ParseStatus: parseStatus,
		ParseError:  parseErrMsg,
		JobID:       jobIDPtr,
	}

	err := p.withStorageRetry(ctx, func() error {
		return reconstruct.WithTx(ctx, p.store, func(tx *store.TxStore) error {
			ids, err := tx.RawLogs.InsertBatch(ctx, []store.RawLogRow{rawLogRow})
			if err != nil {
				return fmt.Errorf("insert raw_log: %w", err)
			}
			rawLogID := ids[0]
			p.metrics.AddRawLogsSaved(1)

			if rec == nil {
				return nil
			}

			switch rec.Kind {
			case parser.KindConn:
				fields := parser.ExtractConnFields(rec.KV)
				if _, err := p.recon.ProcessConn(ctx, tx, deviceKey, rec, fields, rawLogID); err != nil {
					return err
				}
				p.metrics.AddEventsSaved(1)
				outcome.EventTS = &rec.ReceivedAt
			case parser.KindOther:
				outcome.Filtered = true
			}
			return nil
		})
	})
	if err != nil {
		return outcome, err
	}

	if rec == nil {
		return outcome, nil
	}

	switch rec.Kind {
	case parser.KindConn:
		fields := parser.ExtractConnFields(rec.KV)
		if err := p.identity.ApplyConnSighting(ctx, deviceKey, fields, rec.ReceivedAt); err != nil {
			p.logger.WarnContext(ctx, "apply conn sighting failed", logging.DeviceKey(deviceKey), logging.Err(err))
		}
		for _, z := range []struct{ kind, name string }{
			{"zone", fields.SrcZone}, {"zone", fields.DstZone},
			{"interface", fields.SrcIf}, {"interface", fields.DstIf},
		} {
			if bumpErr := classify.RecordUnclassified(ctx, p.store, deviceKey, z.kind, z.name); bumpErr != nil {
				p.logger.WarnContext(ctx, "record unclassified name failed", logging.DeviceKey(deviceKey), logging.Err(bumpErr))
			}
		}
	case parser.KindDevice:
		fields := parser.ExtractDeviceFields(rec.KV)
		if err := p.identity.ApplyDevice(ctx, deviceKey, fields, rec.ReceivedAt); err != nil {
			p.logger.WarnContext(ctx, "apply device record failed", logging.DeviceKey(deviceKey), logging.Err(err))
		}
	}

	return outcome, nil
}

// storageBackoffs is the retry schedule for transient storage failures:
// three retries before the failure surfaces as storage_unavailable.
var storageBackoffs = []time.Duration{50 * time.Millisecond, 200 * time.Millisecond, time.Second}

// withStorageRetry runs fn, retrying on error per the backoff schedule.
// Conflict errors from the flow upsert are not storage failures and pass
// through untouched; everything else that persists becomes
// storage_unavailable so producers can pause.
func (p *Pipeline) withStorageRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if apierr.As(err).Kind == apierr.KindConflict || attempt >= len(storageBackoffs) {
			break
		}
		p.metrics.IncStorageErrors()
		select {
		case <-ctx.Done():
			return apierr.StorageUnavailable("canceled while retrying storage", ctx.Err())
		case <-time.After(storageBackoffs[attempt]):
		}
	}
	if apierr.As(err).Kind == apierr.KindConflict {
		return err
	}
	return apierr.StorageUnavailable("storage failed after retries", err)
}

// Package reconstruct converts parsed CONN records into open/close event
// rows and maintains the long-lived flow aggregate per the upsert and
// re-open policy (C3).
package reconstruct

import (
	"context"
	"fmt"
	"time"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/apierr"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/logging"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/parser"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/store"
)

const maxConflictRetries = 3

// Reconstructor applies C3's event+flow semantics inside a caller-owned
// transaction, so a raw_log row and the event(s) it produces commit
// atomically.
type Reconstructor struct {
	db     *store.Store
	logger *logging.Logger
}

func New(db *store.Store, logger *logging.Logger) *Reconstructor {
	return &Reconstructor{db: db, logger: logger}
}

// Result reports the outcome of processing one CONN record.
type Result struct {
	EventID int64
	FlowID  int64
}

// ProcessConn applies the event+flow policy for a single CONN record
// within tx, re-running the flow upsert after any error for at most
// maxConflictRetries attempts in all per §4.3's failure-mode rule; when
// every attempt fails it returns a conflict error.
func (rc *Reconstructor) ProcessConn(ctx context.Context, tx *store.TxStore, deviceKey string, rec *parser.Record, fields parser.ConnFields, rawLogID int64) (Result, error) {
	kind := "close"
	if fields.Conn == parser.ConnOpen {
		kind = "open"
	}

	eventID, err := tx.Events.Insert(ctx, store.EventRow{
		DeviceKey: deviceKey,
		TS:        rec.ReceivedAt,
		EventKind: kind,
		Fields:    fields,
		RawLogID:  rawLogID,
	})
	if err != nil {
		return Result{}, apierr.Internal(fmt.Errorf("insert event: %w", err))
	}

	var flowID int64
	var applyErr error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		flowID, applyErr = rc.applyFlow(ctx, tx, deviceKey, rec.ReceivedAt, fields)
		if applyErr == nil {
			break
		}
	}
	if applyErr != nil {
		return Result{EventID: eventID}, apierr.Conflict("flow upsert failed after retries")
	}
	return Result{EventID: eventID, FlowID: flowID}, nil
}

func (rc *Reconstructor) applyFlow(ctx context.Context, tx *store.TxStore, deviceKey string, ts time.Time, f parser.ConnFields) (int64, error) {
	switch f.Conn {
	case parser.ConnOpen:
		return rc.applyOpen(ctx, tx, deviceKey, ts, f)
	default: // close, blocked, reject are all synthetic closes
		bytesOrig, bytesTerm := f.BytesOrig, f.BytesTerm
		if f.Conn == parser.ConnBlocked || f.Conn == parser.ConnReject {
			bytesOrig, bytesTerm = 0, 0
		}
		return rc.applyClose(ctx, tx, deviceKey, ts, f, bytesOrig, bytesTerm)
	}
}

func (rc *Reconstructor) applyOpen(ctx context.Context, tx *store.TxStore, deviceKey string, ts time.Time, f parser.ConnFields) (int64, error) {
	key := store.FlowKey{
		DeviceKey: deviceKey, Proto: f.Proto, SrcIP: f.SrcIP, SrcPort: f.SrcPort,
		DstIP: f.DstIP, DstPort: f.DstPort, OpenTS: ts,
	}

	prior, err := tx.Flows.FindLatestOpen(ctx, deviceKey, f.Proto, f.SrcIP, f.SrcPort, f.DstIP, f.DstPort, ts)
	if err != nil {
		return 0, fmt.Errorf("find prior open flow: %w", err)
	}
	if prior != nil && !prior.OpenTS.Equal(ts) {
		// Re-open policy: close the prior still-open flow at ts-1ms with
		// zero additional bytes, then create the new one below.
		if err := tx.Flows.ForceClose(ctx, prior.ID, ts.Add(-time.Millisecond)); err != nil {
			return 0, fmt.Errorf("close prior flow on re-open: %w", err)
		}
	}

	id, inserted, err := tx.Flows.InsertOpen(ctx, key, f.SrcMAC, f.SrcZone, f.SrcIf, f.Rule, f.AppName, ts)
	if err != nil {
		return 0, fmt.Errorf("insert open flow: %w", err)
	}
	if inserted {
		return id, nil
	}
	// Duplicate open for the exact same key: the row already exists, find
	// it so the caller gets a valid flow id.
	existing, err := tx.Flows.FindLatestOpen(ctx, deviceKey, f.Proto, f.SrcIP, f.SrcPort, f.DstIP, f.DstPort, ts)
	if err != nil || existing == nil {
		return 0, fmt.Errorf("re-read duplicate open flow: %w", err)
	}
	return existing.ID, nil
}

func (rc *Reconstructor) applyClose(ctx context.Context, tx *store.TxStore, deviceKey string, ts time.Time, f parser.ConnFields, bytesOrig, bytesTerm int64) (int64, error) {
	key := store.FlowKey{
		DeviceKey: deviceKey, Proto: f.Proto, SrcIP: f.SrcIP, SrcPort: f.SrcPort,
		DstIP: f.DstIP, DstPort: f.DstPort, OpenTS: ts,
	}

	prior, err := tx.Flows.FindLatestOpen(ctx, deviceKey, f.Proto, f.SrcIP, f.SrcPort, f.DstIP, f.DstPort, ts)
	if err != nil {
		return 0, fmt.Errorf("find open flow for close: %w", err)
	}
	if prior == nil {
		// Close-only observation: synthesise open_ts = close_ts.
		id, err := tx.Flows.CreateClosed(ctx, key, ts, bytesOrig, bytesTerm, f.DstMAC, f.Rule, f.AppName)
		if err != nil {
			return 0, fmt.Errorf("create synthetic closed flow: %w", err)
		}
		return id, nil
	}
	if err := tx.Flows.ApplyClose(ctx, prior.ID, ts, bytesOrig, bytesTerm, f.DstMAC, f.DstZone, f.DstIf, f.Rule, f.AppName,
		f.XlatSrcIP, f.XlatSrcPort, f.XlatDstIP, f.XlatDstPort); err != nil {
		return 0, fmt.Errorf("apply close: %w", err)
	}
	return prior.ID, nil
}

// WithTx runs fn inside a fresh transaction, committing on success and
// rolling back on error or panic.
func WithTx(ctx context.Context, db *store.Store, fn func(tx *store.TxStore) error) (err error) {
	txs, err := db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = txs.Tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err = fn(txs); err != nil {
		_ = txs.Tx.Rollback(ctx)
		return err
	}
	if err = txs.Tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

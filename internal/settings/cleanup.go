package settings

import (
	"context"
	"fmt"
	"time"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/apierr"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/jobs"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/logging"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/store"
)

const cleanupBatchSize = 50_000

// Cleanup runs the retention job as a jobs.Runner for jobs.KindCleanup: for
// every firewall that is syslog-sourced and never imported, deletes events
// and raw_logs older than the configured keep_days, batching deletes per
// device to bound lock time, and vacuums afterward if the pool supports it.
type Cleanup struct {
	store    *store.Store
	settings *Store
	logger   *logging.Logger
}

func NewCleanup(db *store.Store, settings *Store, logger *logging.Logger) *Cleanup {
	return &Cleanup{store: db, settings: settings, logger: logger}
}

func (c *Cleanup) Run(ctx context.Context, job *store.JobRow, ctl *jobs.Control) error {
	snap, err := c.settings.Get(ctx)
	if err != nil {
		return err
	}
	if !snap.LogRetention.Enabled {
		return ctl.Progress(ctx, "done", 1.0, 0, 0, 0, 0, 0, 0, nil, nil)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -snap.LogRetention.KeepDays)

	firewalls, err := c.store.Firewalls.List(ctx)
	if err != nil {
		return apierr.Internal(fmt.Errorf("list firewalls: %w", err))
	}

	var totalDeleted int64
	for _, fw := range firewalls {
		if !fw.SourceSyslog || fw.SourceImport {
			continue
		}
		if err := ctl.CheckCancel(ctx); err != nil {
			return err
		}

		for {
			eventsDeleted, rawDeleted, err := c.deleteBatch(ctx, fw.DeviceKey, cutoff)
			if err != nil {
				return apierr.Internal(fmt.Errorf("cleanup batch for %s: %w", fw.DeviceKey, err))
			}
			totalDeleted += eventsDeleted + rawDeleted
			if err := ctl.Progress(ctx, "deleting", 0, 0, totalDeleted, 0, 0, 0, 0, nil, nil); err != nil {
				return err
			}
			if eventsDeleted == 0 && rawDeleted == 0 {
				break
			}
			if err := ctl.CheckCancel(ctx); err != nil {
				return err
			}
		}
	}

	c.vacuum(ctx)

	c.logger.InfoContext(ctx, "retention cleanup complete", logging.Count(int(totalDeleted)))
	return ctl.Progress(ctx, "done", 1.0, 0, totalDeleted, 0, 0, 0, 0, nil, &cutoff)
}

// deleteBatch deletes up to cleanupBatchSize rows from each of events and
// raw_logs for deviceKey, atomically per table, returning counts removed.
func (c *Cleanup) deleteBatch(ctx context.Context, deviceKey string, cutoff time.Time) (events, rawLogs int64, err error) {
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Tx.Rollback(ctx) }()

	events, err = tx.Events.DeleteOlderThan(ctx, deviceKey, cutoff, cleanupBatchSize)
	if err != nil {
		return 0, 0, err
	}
	rawLogs, err = tx.RawLogs.DeleteOlderThan(ctx, deviceKey, cutoff, cleanupBatchSize)
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("commit cleanup batch: %w", err)
	}
	return events, rawLogs, nil
}

// vacuum reclaims space after a large retention sweep. VACUUM cannot run
// inside a transaction block, so it runs directly against the pool.
func (c *Cleanup) vacuum(ctx context.Context) {
	if _, err := c.store.Pool.Exec(ctx, `VACUUM (ANALYZE) events, raw_logs`); err != nil {
		c.logger.WarnContext(ctx, "post-cleanup vacuum failed", logging.Err(err))
	}
}

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

// Purge runs the per-device purge as a jobs.Runner for jobs.KindPurge:
// it removes every row belonging to the job's device_key across events,
// raw_logs, flows, endpoints and the firewall row itself. Overrides and
// router-MAC rules go with them since their scope key is gone.
type Purge struct {
	store  *store.Store
	logger *logging.Logger
}

func NewPurge(db *store.Store, logger *logging.Logger) *Purge {
	return &Purge{store: db, logger: logger}
}

func (p *Purge) Run(ctx context.Context, job *store.JobRow, ctl *jobs.Control) error {
	deviceKey := job.DeviceKey
	if deviceKey == "" {
		return apierr.ValidationError("purge job has no device_key")
	}

	steps := []struct {
		phase string
		fn    func(context.Context, string) error
	}{
		{"deleting events", p.store.Events.DeleteByDevice},
		{"deleting raw logs", p.store.RawLogs.DeleteByDevice},
		{"deleting flows", p.store.Flows.DeleteByDevice},
		{"deleting endpoints", p.store.Endpoints.DeleteByDevice},
		{"deleting firewall", p.deleteFirewall},
	}
	for i, step := range steps {
		if err := ctl.CheckCancel(ctx); err != nil {
			return err
		}
		if err := ctl.Progress(ctx, "storing", float64(i)/float64(len(steps)), 0, 0, 0, 0, 0, 0, nil, nil); err != nil {
			return err
		}
		if err := step.fn(ctx, deviceKey); err != nil {
			return apierr.Internal(fmt.Errorf("%s for %s: %w", step.phase, deviceKey, err))
		}
	}

	p.logger.InfoContext(ctx, "purge complete", logging.DeviceKey(deviceKey), logging.JobID(job.JobID))
	return ctl.Progress(ctx, "done", 1.0, 0, 0, 0, 0, 0, 0, nil, nil)
}

// deleteFirewall removes the firewall row, its override, its router-MAC
// rules and its unclassified-name counters in one transaction.
func (p *Purge) deleteFirewall(ctx context.Context, deviceKey string) error {
	tx, err := p.store.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, q := range []string{
		`DELETE FROM router_mac_rules WHERE device_key = $1`,
		`DELETE FROM unclassified_names WHERE device_key = $1`,
		`DELETE FROM endpoint_overrides WHERE device_key = $1`,
		`DELETE FROM firewall_overrides WHERE device_key = $1`,
		`DELETE FROM firewalls WHERE device_key = $1`,
	} {
		if _, err := tx.Exec(ctx, q, deviceKey); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// RunDailyCleanup submits a cleanup job once a day until ctx is canceled.
// Cleanup submissions queue behind any running heavy job; a failed
// submission is logged and the next tick tries again.
func RunDailyCleanup(ctx context.Context, mgr *jobs.Manager, logger *logging.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jobID, err := mgr.Submit(ctx, jobs.KindCleanup, "", "")
			if err != nil {
				logger.WarnContext(ctx, "scheduled cleanup not submitted", logging.Err(err))
				continue
			}
			logger.InfoContext(ctx, "scheduled cleanup submitted", logging.JobID(jobID))
		}
	}
}

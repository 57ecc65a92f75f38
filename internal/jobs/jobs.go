// Package jobs implements the single-writer queue for file import, purge
// and retention cleanup: the ingest_job table plus an in-memory status
// cache, crash recovery, and cooperative cancellation (C6).
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/apierr"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/logging"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/stats"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/store"
)

const (
	KindImport  = "import"
	KindPurge   = "purge"
	KindCleanup = "cleanup"

	StatusQueued   = "queued"
	StatusRunning  = "running"
	StatusDone     = "done"
	StatusError    = "error"
	StatusCanceled = "canceled"
)

var heavyKinds = []string{KindImport, KindPurge, KindCleanup}

// Runner is the work a job kind performs once claimed. ctx is canceled if
// the process is shutting down; the runner must call ctl.CheckCancel
// itself for cooperative mid-job cancellation.
type Runner func(ctx context.Context, job *store.JobRow, ctl *Control) error

// Control is handed to a running job for progress reporting and
// cancellation checks.
type Control struct {
	mgr   *Manager
	jobID string
}

// CheckCancel returns apierr.Canceled if a cancel has been requested,
// satisfying the "checks at least every 500ms or 1000 records" rule when
// called from the job's batch loop.
func (c *Control) CheckCancel(ctx context.Context) error {
	canceled, err := c.mgr.store.Jobs.IsCancelRequested(ctx, c.jobID)
	if err != nil {
		return apierr.Internal(err)
	}
	if canceled {
		return apierr.Canceled("job canceled")
	}
	return nil
}

func (c *Control) Progress(ctx context.Context, phase string, progress float64, lines, rawLogs, events, parseOK, parseErr, filteredID int64, timeMin, timeMax *time.Time) error {
	if err := c.mgr.store.Jobs.UpdateProgress(ctx, c.jobID, phase, progress, lines, rawLogs, events, parseOK, parseErr, filteredID, timeMin, timeMax); err != nil {
		return err
	}
	c.mgr.updateCache(c.jobID, func(j *store.JobRow) {
		j.Phase, j.Progress = phase, progress
		j.LinesProcessed, j.RawLogsInserted, j.EventsInserted = lines, rawLogs, events
		j.ParseOK, j.ParseErr, j.FilteredID = parseOK, parseErr, filteredID
	})
	return nil
}

// Manager serializes heavy jobs: a single worker loop claims and runs
// every kind in turn (all three kinds share mutual exclusion per §4.6).
// The mutex guards only the in-memory status cache; each DB write is made
// first, outside the mutex, and the cache update that mirrors it follows.
type Manager struct {
	store   *store.Store
	logger  *logging.Logger
	metrics *stats.Counters
	runners map[string]Runner

	mu    sync.Mutex
	cache map[string]*store.JobRow

	wake chan struct{}
}

func NewManager(s *store.Store, logger *logging.Logger, metrics *stats.Counters) *Manager {
	return &Manager{
		store:   s,
		logger:  logger,
		metrics: metrics,
		runners: make(map[string]Runner),
		cache:   make(map[string]*store.JobRow),
		wake:    make(chan struct{}, 1),
	}
}

func (m *Manager) RegisterRunner(kind string, r Runner) { m.runners[kind] = r }

// RecoverCrashed marks every job left `running` as `error` on startup,
// per §4.6's crash-recovery guarantee.
func (m *Manager) RecoverCrashed(ctx context.Context) error {
	n, err := m.store.Jobs.RecoverCrashed(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		m.logger.InfoContext(ctx, "recovered crashed jobs", logging.Count(int(n)))
	}
	return nil
}

// Submit enqueues a new job. Import and cleanup submissions always queue
// (the single worker serialises them); purge enforces the 409-busy rule:
// it refuses while any non-terminal job exists for the same device_key or
// a cleanup/import is active globally. The busy error does not name the
// holding job: its job id is empty.
func (m *Manager) Submit(ctx context.Context, kind, filename, deviceKey string) (string, error) {
	if kind == KindPurge {
		busy, err := m.store.Jobs.HasNonTerminal(ctx, deviceKey, nil)
		if err != nil {
			return "", apierr.Internal(err)
		}
		if busy {
			return "", apierr.Busy("a job is already active for this device", "")
		}
		globallyBusy, err := m.store.Jobs.HasNonTerminal(ctx, "", []string{KindImport, KindCleanup})
		if err != nil {
			return "", apierr.Internal(err)
		}
		if globallyBusy {
			return "", apierr.Busy("an import or cleanup job is running", "")
		}
	}

	jobID := uuid.New().String()
	if err := m.store.Jobs.Create(ctx, jobID, kind, filename, deviceKey); err != nil {
		return "", apierr.Internal(err)
	}
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return jobID, nil
}

// Run drives the single heavy-job worker loop until ctx is canceled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
			m.drainQueue(ctx)
		case <-ticker.C:
			m.drainQueue(ctx)
		}
	}
}

func (m *Manager) drainQueue(ctx context.Context) {
	for {
		job, err := m.claimNext(ctx)
		if err != nil {
			m.logger.ErrorContext(ctx, "claim next job failed", logging.Err(err))
			return
		}
		if job == nil {
			return
		}
		m.runJob(ctx, job)
	}
}

func (m *Manager) claimNext(ctx context.Context) (*store.JobRow, error) {
	tx, err := m.store.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	job, err := m.store.Jobs.ClaimNext(ctx, tx, heavyKinds)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	if job == nil {
		_ = tx.Rollback(ctx)
		return nil, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	m.setCache(job)
	return job, nil
}

func (m *Manager) runJob(ctx context.Context, job *store.JobRow) {
	runner, ok := m.runners[job.Kind]
	if !ok {
		_ = m.store.Jobs.Finish(ctx, job.JobID, StatusError, "internal", "no runner registered for kind "+job.Kind, "dispatch")
		return
	}
	ctl := &Control{mgr: m, jobID: job.JobID}
	m.metrics.SetJobsRunning(1)
	err := runner(ctx, job, ctl)
	m.metrics.SetJobsRunning(0)

	switch {
	case err == nil:
		_ = m.store.Jobs.Finish(ctx, job.JobID, StatusDone, "", "", "")
		m.updateCache(job.JobID, func(j *store.JobRow) { j.Status = StatusDone })
	case apierr.As(err).Kind == "canceled":
		_ = m.store.Jobs.Finish(ctx, job.JobID, StatusCanceled, "", "", "")
		m.updateCache(job.JobID, func(j *store.JobRow) { j.Status = StatusCanceled })
	default:
		ae := apierr.As(err)
		_ = m.store.Jobs.Finish(ctx, job.JobID, StatusError, string(ae.Kind), ae.Error(), "")
		m.updateCache(job.JobID, func(j *store.JobRow) { j.Status = StatusError; j.ErrorMessage = ae.Error() })
		m.logger.ErrorContext(ctx, "job failed", logging.JobID(job.JobID), logging.JobKind(job.Kind), logging.Err(err))
	}
}

func (m *Manager) setCache(job *store.JobRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	cp.Status = StatusRunning
	m.cache[job.JobID] = &cp
}

func (m *Manager) updateCache(jobID string, fn func(*store.JobRow)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.cache[jobID]; ok {
		fn(j)
	}
}

// Status returns the fastest available view of a job: the in-memory
// cache if warm, otherwise a DB read.
func (m *Manager) Status(ctx context.Context, jobID string) (*store.JobRow, error) {
	m.mu.Lock()
	cached, ok := m.cache[jobID]
	m.mu.Unlock()
	if ok {
		cp := *cached
		return &cp, nil
	}
	return m.store.Jobs.Get(ctx, jobID)
}

func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	return m.store.Jobs.RequestCancel(ctx, jobID)
}

func (m *Manager) List(ctx context.Context, deviceKey, status string, limit int) ([]store.JobRow, error) {
	return m.store.Jobs.List(ctx, deviceKey, status, limit)
}

func (m *Manager) Delete(ctx context.Context, jobID string) error {
	if err := m.store.Jobs.Delete(ctx, jobID); err != nil {
		return apierr.NotFound("job not found or not terminal")
	}
	m.mu.Lock()
	delete(m.cache, jobID)
	m.mu.Unlock()
	return nil
}

// Package executor runs admitted jobs off the request path. Submit returns
// as soon as the run record exists; a bounded worker pool drains the task
// queue and reports every outcome through the run ledger. A watchdog bounds
// run duration so a stuck processor can never pin a tenant's concurrency
// slot forever.
package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spendlens/spendlens-api/internal/apperr"
	"github.com/spendlens/spendlens-api/internal/models"
	"github.com/spendlens/spendlens-api/internal/notification"
	"github.com/spendlens/spendlens-api/internal/processor"
	"github.com/spendlens/spendlens-api/internal/quota"
	"github.com/spendlens/spendlens-api/internal/repository"
	"github.com/spendlens/spendlens-api/internal/secrets"
	"github.com/spendlens/spendlens-api/internal/template"
)

type Config struct {
	Workers          int
	QueueSize        int
	MaxRunDuration   time.Duration
	WatchdogInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxRunDuration <= 0 {
		c.MaxRunDuration = 30 * time.Minute
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = 30 * time.Second
	}
	return c
}

// runHandle tracks one in-flight run. finished flips exactly once; whoever
// wins the flip (worker or watchdog) writes the terminal ledger state and
// releases the concurrency slot.
type runHandle struct {
	runID     string
	tenantID  string
	deadline  time.Time
	cancelled atomic.Bool
	finished  atomic.Bool
	cancelRun atomic.Value // context.CancelFunc, set by the worker, read by the watchdog
}

func (h *runHandle) finish() bool {
	return h.finished.CompareAndSwap(false, true)
}

type task struct {
	run      models.RunRecord
	resolved template.Resolved
	handle   *runHandle
}

type Executor struct {
	cfg      Config
	runs     repository.RunRepository
	gate     *quota.Gate
	creds    *secrets.Store
	registry *processor.Registry
	notifier notification.Service
	logger   zerolog.Logger
	now      func() time.Time

	tasks  chan task
	mu     sync.Mutex
	active map[string]*runHandle
	wg     sync.WaitGroup
}

func New(cfg Config, runs repository.RunRepository, gate *quota.Gate, creds *secrets.Store, registry *processor.Registry, notifier notification.Service, logger zerolog.Logger) *Executor {
	cfg = cfg.withDefaults()
	return &Executor{
		cfg:      cfg,
		runs:     runs,
		gate:     gate,
		creds:    creds,
		registry: registry,
		notifier: notifier,
		logger:   logger.With().Str("component", "executor").Logger(),
		now:      time.Now,
		tasks:    make(chan task, cfg.QueueSize),
		active:   make(map[string]*runHandle),
	}
}

// Start launches the worker pool and the watchdog, and sweeps runs orphaned
// by a previous process. Workers drain until ctx is cancelled.
func (e *Executor) Start(ctx context.Context) error {
	if err := e.sweepOrphans(ctx); err != nil {
		return err
	}
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx)
	}
	e.wg.Add(1)
	go e.watchdog(ctx)
	e.logger.Info().Int("workers", e.cfg.Workers).Msg("executor started")
	return nil
}

// Wait blocks until every worker has drained after Start's context was
// cancelled.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Submit validates a run request, records it, and queues it for execution.
// It returns as soon as the record exists; extract/transform/load happen on
// a worker. Every rejection comes back as a specific error kind with no run
// record created.
func (e *Executor) Submit(ctx context.Context, tenantID string, job models.JobKey, params map[string]string) (models.RunRecord, error) {
	def, _, err := e.registry.Resolve(job)
	if err != nil {
		return models.RunRecord{}, err
	}

	token, err := e.gate.Admit(ctx, tenantID, job)
	if err != nil {
		return models.RunRecord{}, err
	}

	runID := uuid.NewString()
	tctx := models.NewTenantContext(token.Tenant, runID, e.now(), params)
	resolved, err := template.Resolve(def, tctx)
	if err != nil {
		// The concurrency slot goes back; the daily attempt stays consumed,
		// same as any failed run.
		e.releaseSlot(tenantID)
		return models.RunRecord{}, err
	}

	run, err := e.runs.Create(ctx, models.RunRecord{
		ID:       runID,
		TenantID: tenantID,
		Provider: job.Provider,
		Domain:   job.Domain,
		JobName:  job.Name,
	})
	if err != nil {
		e.releaseSlot(tenantID)
		return models.RunRecord{}, errors.Wrap(err, "create run record")
	}

	handle := &runHandle{
		runID:    runID,
		tenantID: tenantID,
		deadline: e.now().Add(e.cfg.MaxRunDuration),
	}
	e.mu.Lock()
	e.active[runID] = handle
	e.mu.Unlock()

	select {
	case e.tasks <- task{run: run, resolved: resolved, handle: handle}:
	default:
		e.forget(runID)
		if handle.finish() {
			e.failRun(run, apperr.KindQuotaExceeded, "execution queue is full")
		}
		return models.RunRecord{}, apperr.New(apperr.KindQuotaExceeded, "execution queue is full")
	}

	if err := e.notifier.NotifyRunStarted(ctx, run); err != nil {
		e.logger.Warn().Err(err).Str("run_id", runID).Msg("run-started notification failed")
	}
	return run, nil
}

// Status returns the run record for polling.
func (e *Executor) Status(ctx context.Context, tenantID, runID string) (models.RunRecord, error) {
	return e.runs.Get(ctx, tenantID, runID)
}

// Cancel requests best-effort cancellation. A pending run is cancelled
// outright; a validating or running one gets its flag set and stops at the
// next phase boundary; a run already loading output reports false and
// finishes.
func (e *Executor) Cancel(ctx context.Context, tenantID, runID string) (bool, error) {
	run, err := e.runs.Get(ctx, tenantID, runID)
	if err != nil {
		return false, err
	}
	if run.Status.IsTerminal() || run.Status == models.RunProcessing {
		return false, nil
	}

	e.mu.Lock()
	handle := e.active[runID]
	e.mu.Unlock()
	if handle != nil {
		handle.cancelled.Store(true)
	}

	if run.Status == models.RunPending {
		// Not started yet: terminal immediately. The worker sees the flag
		// and skips the task.
		if err := e.runs.Transition(ctx, runID, models.RunCancelled); err != nil {
			if err == repository.ErrInvalidTransition {
				// Raced with the worker; the flag still covers it.
				return true, nil
			}
			return false, err
		}
		if handle != nil && handle.finish() {
			e.forget(runID)
			e.releaseSlot(tenantID)
			e.notifyCancelled(run)
		}
	}
	return true, nil
}

// History lists recent runs for a tenant, newest first.
func (e *Executor) History(ctx context.Context, tenantID, provider string, limit int) ([]models.RunRecord, error) {
	return e.runs.List(ctx, tenantID, provider, limit)
}

func (e *Executor) Stats(ctx context.Context, tenantID string, days int) (models.RunStat, error) {
	return e.runs.Stats(ctx, tenantID, days)
}

func (e *Executor) worker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-e.tasks:
			e.execute(ctx, t)
		}
	}
}

func (e *Executor) execute(ctx context.Context, t task) {
	handle := t.handle
	defer e.forget(handle.runID)

	if handle.cancelled.Load() {
		// Cancelled while queued. Cancel() normally wrote the terminal state
		// already; this covers the race where it lost the transition.
		if handle.finish() {
			if err := e.runs.Transition(ctx, handle.runID, models.RunCancelled); err != nil && err != repository.ErrInvalidTransition {
				e.logger.Error().Err(err).Str("run_id", handle.runID).Msg("cancel transition failed")
			}
			e.releaseSlot(handle.tenantID)
			e.notifyCancelled(t.run)
		}
		return
	}

	runCtx, cancelRun := context.WithDeadline(ctx, handle.deadline)
	defer cancelRun()
	handle.cancelRun.Store(cancelRun)

	defer func() {
		if r := recover(); r != nil {
			if handle.finish() {
				e.failRun(t.run, apperr.KindProcessor, fmt.Sprintf("processor panic: %v", r))
			}
		}
	}()

	if err := e.runs.Transition(runCtx, handle.runID, models.RunValidating); err != nil {
		if transitionLost(err) {
			// Cancel or the watchdog got here first.
			e.logger.Debug().Err(err).Str("run_id", handle.runID).Msg("run not started")
			return
		}
		e.finishFailed(handle, t.run, errors.Wrap(err, "record validating state"))
		return
	}

	_, proc, err := e.registry.Resolve(t.run.Job())
	if err != nil {
		e.finishFailed(handle, t.run, err)
		return
	}

	credential, err := e.creds.Get(runCtx, handle.tenantID, t.run.Provider)
	if err != nil {
		e.finishFailed(handle, t.run, err)
		return
	}

	in := processor.Input{
		TenantID:   handle.tenantID,
		RunID:      handle.runID,
		Job:        t.run.Job(),
		Params:     t.resolved.Params,
		Source:     t.resolved.Source,
		Target:     t.resolved.Target,
		Credential: credential,
	}

	if err := e.runs.Transition(runCtx, handle.runID, models.RunRunning); err != nil {
		if transitionLost(err) {
			e.logger.Debug().Err(err).Str("run_id", handle.runID).Msg("run superseded before start")
			return
		}
		e.finishFailed(handle, t.run, errors.Wrap(err, "record running state"))
		return
	}

	raw, err := proc.Extract(runCtx, in)
	if err != nil {
		e.finishFailed(handle, t.run, e.processorError(runCtx, err, "extract"))
		return
	}

	records, err := proc.Transform(runCtx, in, raw)
	if err != nil {
		e.finishFailed(handle, t.run, e.processorError(runCtx, err, "transform"))
		return
	}

	// Phase boundary: the only place cancellation is honored once execution
	// started. Past here the load runs to completion.
	if handle.cancelled.Load() {
		if handle.finish() {
			if err := e.runs.Transition(runCtx, handle.runID, models.RunCancelled); err != nil {
				e.logger.Error().Err(err).Str("run_id", handle.runID).Msg("cancel transition failed")
			}
			e.releaseSlot(handle.tenantID)
			e.notifyCancelled(t.run)
		}
		return
	}

	if err := e.runs.Transition(runCtx, handle.runID, models.RunProcessing); err != nil {
		if transitionLost(err) {
			e.logger.Debug().Err(err).Str("run_id", handle.runID).Msg("run superseded before load")
			return
		}
		e.finishFailed(handle, t.run, errors.Wrap(err, "record processing state"))
		return
	}

	result, err := proc.Load(runCtx, in, records)
	if err != nil {
		e.finishFailed(handle, t.run, e.processorError(runCtx, err, "load"))
		return
	}

	if !handle.finish() {
		return
	}
	if err := e.runs.Complete(context.Background(), handle.runID, result.RecordsWritten, result.TargetLocation); err != nil {
		e.logger.Error().Err(err).Str("run_id", handle.runID).Msg("complete transition failed")
	}
	e.releaseSlot(handle.tenantID)
	if err := e.notifier.NotifyRunCompleted(context.Background(), t.run, result.RecordsWritten); err != nil {
		e.logger.Warn().Err(err).Str("run_id", handle.runID).Msg("run-completed notification failed")
	}
	e.logger.Info().
		Str("run_id", handle.runID).
		Str("tenant_id", handle.tenantID).
		Int64("records", result.RecordsWritten).
		Msg("run completed")
}

// transitionLost reports whether a ledger transition failed because another
// terminal writer (cancel or watchdog) already owns the run. Any other error
// is a real ledger failure and the run must still reach a terminal state, or
// its concurrency slot leaks until the next process restart.
func transitionLost(err error) bool {
	return err == repository.ErrInvalidTransition || err == repository.ErrNotFound
}

// processorError classifies a phase failure: a deadline hit becomes a
// timeout, everything else wraps as a processor error.
func (e *Executor) processorError(ctx context.Context, err error, phase string) error {
	if ctx.Err() == context.DeadlineExceeded {
		return apperr.Wrap(err, apperr.KindTimeout, fmt.Sprintf("%s exceeded maximum run duration", phase))
	}
	if _, ok := apperr.KindOf(err); ok {
		return err
	}
	return apperr.Wrap(err, apperr.KindProcessor, fmt.Sprintf("%s failed", phase))
}

func (e *Executor) finishFailed(handle *runHandle, run models.RunRecord, err error) {
	if !handle.finish() {
		return
	}
	kind, ok := apperr.KindOf(err)
	if !ok {
		kind = apperr.KindProcessor
	}
	e.failRun(run, kind, err.Error())
}

// failRun writes the terminal failed state and releases the slot. It uses a
// background context: the run context may already be past its deadline, and
// the ledger write must still land.
func (e *Executor) failRun(run models.RunRecord, kind apperr.Kind, message string) {
	ctx := context.Background()
	if err := e.runs.Fail(ctx, run.ID, string(kind), message); err != nil {
		e.logger.Error().Err(err).Str("run_id", run.ID).Msg("fail transition failed")
	}
	e.releaseSlot(run.TenantID)
	if err := e.notifier.NotifyRunFailed(ctx, run, message); err != nil {
		e.logger.Warn().Err(err).Str("run_id", run.ID).Msg("run-failed notification failed")
	}
	e.logger.Warn().
		Str("run_id", run.ID).
		Str("tenant_id", run.TenantID).
		Str("error_kind", string(kind)).
		Str("error", message).
		Msg("run failed")
}

func (e *Executor) notifyCancelled(run models.RunRecord) {
	if err := e.notifier.NotifyRunCancelled(context.Background(), run); err != nil {
		e.logger.Warn().Err(err).Str("run_id", run.ID).Msg("run-cancelled notification failed")
	}
}

func (e *Executor) releaseSlot(tenantID string) {
	if err := e.gate.Release(context.Background(), tenantID); err != nil {
		e.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("failed to release concurrency slot")
	}
}

func (e *Executor) forget(runID string) {
	e.mu.Lock()
	delete(e.active, runID)
	e.mu.Unlock()
}

// watchdog force-fails any in-flight run past its deadline. The finish CAS
// keeps it from double-reporting against a worker that returns late.
func (e *Executor) watchdog(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := e.now()
			e.mu.Lock()
			var expired []*runHandle
			for _, handle := range e.active {
				if now.After(handle.deadline) {
					expired = append(expired, handle)
				}
			}
			e.mu.Unlock()

			for _, handle := range expired {
				if !handle.finish() {
					continue
				}
				if cancelRun, ok := handle.cancelRun.Load().(context.CancelFunc); ok {
					cancelRun()
				}
				e.forget(handle.runID)
				run, err := e.runs.Get(ctx, handle.tenantID, handle.runID)
				if err != nil {
					run = models.RunRecord{ID: handle.runID, TenantID: handle.tenantID}
				}
				e.failRun(run, apperr.KindTimeout, "run exceeded maximum duration")
			}
		}
	}
}

// sweepOrphans force-fails non-terminal runs left behind by a previous
// process and releases their slots. It runs once, before workers start, so
// it cannot race the in-process watchdog.
func (e *Executor) sweepOrphans(ctx context.Context) error {
	cutoff := e.now().Add(-e.cfg.MaxRunDuration)
	swept, err := e.runs.SweepStuck(ctx, cutoff)
	if err != nil {
		return errors.Wrap(err, "sweep orphaned runs")
	}
	for _, run := range swept {
		e.releaseSlot(run.TenantID)
		e.logger.Warn().
			Str("run_id", run.ID).
			Str("tenant_id", run.TenantID).
			Msg("orphaned run force-failed")
	}
	return nil
}

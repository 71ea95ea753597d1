package executor_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spendlens/spendlens-api/internal/apperr"
	"github.com/spendlens/spendlens-api/internal/datastore"
	"github.com/spendlens/spendlens-api/internal/executor"
	"github.com/spendlens/spendlens-api/internal/models"
	"github.com/spendlens/spendlens-api/internal/notification"
	"github.com/spendlens/spendlens-api/internal/processor"
	"github.com/spendlens/spendlens-api/internal/quota"
	"github.com/spendlens/spendlens-api/internal/repository"
	"github.com/spendlens/spendlens-api/internal/secrets"
	"github.com/stretchr/testify/require"
)

// ---- in-memory fakes ----

type memRunRepo struct {
	mu   sync.Mutex
	runs map[string]models.RunRecord
}

func newMemRunRepo() *memRunRepo {
	return &memRunRepo{runs: make(map[string]models.RunRecord)}
}

func (m *memRunRepo) Create(_ context.Context, run models.RunRecord) (models.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.Status = models.RunPending
	run.CreatedAt = time.Now()
	run.UpdatedAt = run.CreatedAt
	m.runs[run.ID] = run
	return run, nil
}

func (m *memRunRepo) Get(_ context.Context, tenantID, runID string) (models.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok || run.TenantID != tenantID {
		return models.RunRecord{}, repository.ErrNotFound
	}
	return run, nil
}

func (m *memRunRepo) Transition(_ context.Context, runID string, to models.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return repository.ErrNotFound
	}
	if !models.CanTransition(run.Status, to) {
		return repository.ErrInvalidTransition
	}
	now := time.Now()
	run.Status = to
	run.UpdatedAt = now
	if to == models.RunRunning && run.StartedAt == nil {
		run.StartedAt = &now
	}
	if to.IsTerminal() {
		run.CompletedAt = &now
	}
	m.runs[runID] = run
	return nil
}

func (m *memRunRepo) Fail(_ context.Context, runID, errorKind, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return repository.ErrNotFound
	}
	if run.Status.IsTerminal() {
		return repository.ErrInvalidTransition
	}
	now := time.Now()
	run.Status = models.RunFailed
	run.ErrorKind = &errorKind
	run.ErrorMessage = &errorMessage
	run.UpdatedAt = now
	run.CompletedAt = &now
	m.runs[runID] = run
	return nil
}

func (m *memRunRepo) Complete(_ context.Context, runID string, recordsProcessed int64, targetLocation string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return repository.ErrNotFound
	}
	if run.Status != models.RunProcessing {
		return repository.ErrInvalidTransition
	}
	now := time.Now()
	run.Status = models.RunCompleted
	run.RecordsProcessed = recordsProcessed
	run.TargetLocation = &targetLocation
	run.UpdatedAt = now
	run.CompletedAt = &now
	m.runs[runID] = run
	return nil
}

func (m *memRunRepo) List(_ context.Context, tenantID, provider string, limit int) ([]models.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RunRecord
	for _, run := range m.runs {
		if run.TenantID == tenantID && (provider == "" || run.Provider == provider) {
			out = append(out, run)
		}
	}
	return out, nil
}

func (m *memRunRepo) Stats(_ context.Context, tenantID string, days int) (models.RunStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats models.RunStat
	for _, run := range m.runs {
		if run.TenantID != tenantID {
			continue
		}
		stats.Total++
		switch run.Status {
		case models.RunCompleted:
			stats.Completed++
		case models.RunFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (m *memRunRepo) SweepStuck(_ context.Context, cutoff time.Time) ([]models.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var swept []models.RunRecord
	for id, run := range m.runs {
		if !run.Status.IsTerminal() && run.UpdatedAt.Before(cutoff) {
			kind := string(apperr.KindTimeout)
			msg := "run exceeded maximum duration"
			run.Status = models.RunFailed
			run.ErrorKind = &kind
			run.ErrorMessage = &msg
			m.runs[id] = run
			swept = append(swept, run)
		}
	}
	return swept, nil
}

type memTenantRepo struct {
	tenants map[string]models.Tenant
}

func (m *memTenantRepo) CreateTenant(_ context.Context, tenant models.Tenant) (models.Tenant, error) {
	m.tenants[tenant.ID] = tenant
	return tenant, nil
}

func (m *memTenantRepo) GetTenantByID(_ context.Context, id string) (models.Tenant, error) {
	tenant, ok := m.tenants[id]
	if !ok {
		return models.Tenant{}, repository.ErrNotFound
	}
	return tenant, nil
}

func (m *memTenantRepo) UpdateSubscription(_ context.Context, id string, status models.SubscriptionStatus, tier models.SubscriptionTier) error {
	return nil
}

func (m *memTenantRepo) SetAPIKeyHash(_ context.Context, id, hash string) error { return nil }

type memQuotaRepo struct {
	mu       sync.Mutex
	counters map[string]models.QuotaCounters
}

func newMemQuotaRepo() *memQuotaRepo {
	return &memQuotaRepo{counters: make(map[string]models.QuotaCounters)}
}

func (m *memQuotaRepo) TryAcquire(_ context.Context, tenantID string, now time.Time, limits models.TierLimits) (bool, models.QuotaCounters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counters[tenantID]
	c.TenantID = tenantID
	if c.EffectiveDaily(now) >= limits.DailyRuns ||
		c.EffectiveMonthly(now) >= limits.MonthlyRuns ||
		c.ConcurrentCount >= limits.ConcurrentRuns {
		return false, c, nil
	}
	c.DailyCount = c.EffectiveDaily(now) + 1
	c.Day = now
	c.MonthlyCount = c.EffectiveMonthly(now) + 1
	c.Month = now
	c.ConcurrentCount++
	m.counters[tenantID] = c
	return true, c, nil
}

func (m *memQuotaRepo) ReleaseSlot(_ context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counters[tenantID]
	if c.ConcurrentCount > 0 {
		c.ConcurrentCount--
	}
	m.counters[tenantID] = c
	return nil
}

func (m *memQuotaRepo) Counters(_ context.Context, tenantID string) (models.QuotaCounters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[tenantID], nil
}

func (m *memQuotaRepo) concurrent(tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[tenantID].ConcurrentCount
}

type memCredentialRepo struct {
	mu   sync.Mutex
	rows map[string]models.Credential
}

func (m *memCredentialRepo) GetActive(_ context.Context, tenantID, provider string) (models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.rows[tenantID+"/"+provider]
	if !ok {
		return models.Credential{}, repository.ErrNotFound
	}
	return cred, nil
}

func (m *memCredentialRepo) Replace(_ context.Context, cred models.Credential) (models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred.ID = cred.TenantID + "/" + cred.Provider
	cred.Status = models.CredentialActive
	m.rows[cred.ID] = cred
	return cred, nil
}

func (m *memCredentialRepo) Revoke(_ context.Context, tenantID, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, tenantID+"/"+provider)
	return nil
}

func (m *memCredentialRepo) List(_ context.Context, tenantID string) ([]models.Credential, error) {
	return nil, nil
}

// recordingNotifier satisfies notification.Service and counts events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []models.NotificationEvent
}

func (r *recordingNotifier) record(event models.NotificationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingNotifier) Publish(_ context.Context, evt notification.Event) (models.Notification, error) {
	r.record(evt.Event)
	return models.Notification{}, nil
}

func (r *recordingNotifier) NotifyRunStarted(_ context.Context, _ models.RunRecord) error {
	r.record(models.NotificationEventRunStarted)
	return nil
}

func (r *recordingNotifier) NotifyRunCompleted(_ context.Context, _ models.RunRecord, _ int64) error {
	r.record(models.NotificationEventRunCompleted)
	return nil
}

func (r *recordingNotifier) NotifyRunFailed(_ context.Context, _ models.RunRecord, _ string) error {
	r.record(models.NotificationEventRunFailed)
	return nil
}

func (r *recordingNotifier) NotifyRunCancelled(_ context.Context, _ models.RunRecord) error {
	r.record(models.NotificationEventRunCancelled)
	return nil
}

func (r *recordingNotifier) ListRecent(_ context.Context, _ string, _ int) ([]models.Notification, error) {
	return nil, nil
}

func (r *recordingNotifier) MarkRead(_ context.Context, _, _ string) (models.Notification, error) {
	return models.Notification{}, nil
}

func (r *recordingNotifier) has(event models.NotificationEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

// hookProcessor delegates each phase to an optional hook.
type hookProcessor struct {
	extract   func(ctx context.Context, in processor.Input) ([]models.CostRecord, error)
	transform func(ctx context.Context, in processor.Input, records []models.CostRecord) ([]models.CostRecord, error)
	load      func(ctx context.Context, in processor.Input, records []models.CostRecord) (datastore.LoadResult, error)
}

func (p *hookProcessor) Extract(ctx context.Context, in processor.Input) ([]models.CostRecord, error) {
	if p.extract != nil {
		return p.extract(ctx, in)
	}
	return []models.CostRecord{{TenantID: in.TenantID, Provider: in.Job.Provider, Amount: 1}}, nil
}

func (p *hookProcessor) Transform(ctx context.Context, in processor.Input, records []models.CostRecord) ([]models.CostRecord, error) {
	if p.transform != nil {
		return p.transform(ctx, in, records)
	}
	return records, nil
}

func (p *hookProcessor) Load(ctx context.Context, in processor.Input, records []models.CostRecord) (datastore.LoadResult, error) {
	if p.load != nil {
		return p.load(ctx, in, records)
	}
	return datastore.LoadResult{RecordsWritten: int64(len(records)), TargetLocation: "ds_" + in.TenantID + ".costs"}, nil
}

// ---- harness ----

type harness struct {
	exec     *executor.Executor
	runs     *memRunRepo
	quotas   *memQuotaRepo
	notifier *recordingNotifier
	gate     *quota.Gate
	creds    *secrets.Store
	registry *processor.Registry
	cancel   context.CancelFunc
}

var testJob = models.JobKey{Provider: "aws", Domain: "cost", Name: "daily_spend"}

func newHarness(t *testing.T, cfg executor.Config, proc processor.Processor) *harness {
	t.Helper()

	runs := newMemRunRepo()
	quotas := newMemQuotaRepo()
	tenants := &memTenantRepo{tenants: map[string]models.Tenant{
		"t-1": {
			ID:                 "t-1",
			Name:               "Acme",
			Environment:        "production",
			SubscriptionStatus: models.SubscriptionActive,
			SubscriptionTier:   models.TierStarter,
		},
	}}

	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, 32))
	keyring, err := secrets.NewKeyring(map[int]string{1: key}, 1)
	require.NoError(t, err)
	creds := secrets.NewStore(&memCredentialRepo{rows: make(map[string]models.Credential)}, keyring, zerolog.Nop())
	_, err = creds.Set(context.Background(), "t-1", "aws", []byte(`{"api_key":"sk-test"}`))
	require.NoError(t, err)

	gate := quota.NewGate(tenants, quotas, creds, zerolog.Nop())

	registry := processor.NewRegistry()
	def := models.JobDefinition{
		Provider: "aws", Domain: "cost", Name: "daily_spend", Processor: "aws_cost",
		Params: []models.ParamSpec{{Name: "date", Type: "date", Default: "{{yesterday}}"}},
		Target: map[string]any{"table": "aws_cost_daily"},
	}
	require.NoError(t, registry.Register(def, proc))

	strictDef := models.JobDefinition{
		Provider: "aws", Domain: "cost", Name: "account_spend", Processor: "aws_cost",
		Params: []models.ParamSpec{
			{Name: "date", Type: "date", Default: "{{yesterday}}"},
			{Name: "account_id", Type: "string", Required: true},
		},
		Target: map[string]any{"table": "aws_cost_by_account"},
	}
	require.NoError(t, registry.Register(strictDef, proc))

	notifier := &recordingNotifier{}
	exec := executor.New(cfg, runs, gate, creds, registry, notifier, zerolog.Nop())
	return &harness{
		exec:     exec,
		runs:     runs,
		quotas:   quotas,
		notifier: notifier,
		gate:     gate,
		creds:    creds,
		registry: registry,
	}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	require.NoError(t, h.exec.Start(ctx))
	t.Cleanup(func() {
		cancel()
		h.exec.Wait()
	})
}

func (h *harness) waitStatus(t *testing.T, runID string, want models.RunStatus) models.RunRecord {
	t.Helper()
	var run models.RunRecord
	require.Eventually(t, func() bool {
		var err error
		run, err = h.exec.Status(context.Background(), "t-1", runID)
		return err == nil && run.Status == want
	}, 5*time.Second, 5*time.Millisecond, "run %s never reached %s (last %s)", runID, want, run.Status)
	return run
}

// ---- tests ----

func TestSubmitRunsToCompletion(t *testing.T) {
	h := newHarness(t, executor.Config{Workers: 2}, &hookProcessor{})
	h.start(t)

	run, err := h.exec.Submit(context.Background(), "t-1", testJob, nil)
	require.NoError(t, err)
	require.Equal(t, models.RunPending, run.Status)

	final := h.waitStatus(t, run.ID, models.RunCompleted)
	require.Equal(t, int64(1), final.RecordsProcessed)
	require.NotNil(t, final.TargetLocation)
	require.NotNil(t, final.CompletedAt)

	require.Eventually(t, func() bool { return h.quotas.concurrent("t-1") == 0 },
		time.Second, 5*time.Millisecond, "concurrency slot not released")
	require.True(t, h.notifier.has(models.NotificationEventRunStarted))
	require.True(t, h.notifier.has(models.NotificationEventRunCompleted))
}

func TestSubmitUnknownJob(t *testing.T) {
	h := newHarness(t, executor.Config{}, &hookProcessor{})
	_, err := h.exec.Submit(context.Background(), "t-1", models.JobKey{Provider: "aws", Domain: "cost", Name: "nope"}, nil)
	require.True(t, apperr.IsKind(err, apperr.KindJobNotFound))
	require.Empty(t, h.runs.runs)
}

func TestSubmitTemplateFailureReleasesSlotKeepsAttempt(t *testing.T) {
	h := newHarness(t, executor.Config{}, &hookProcessor{})

	// account_spend requires account_id; no value and no default.
	job := models.JobKey{Provider: "aws", Domain: "cost", Name: "account_spend"}
	_, err := h.exec.Submit(context.Background(), "t-1", job, nil)
	require.True(t, apperr.IsKind(err, apperr.KindUnresolvedTemplate))

	// No run record, slot back, daily attempt consumed.
	require.Empty(t, h.runs.runs)
	counters, err := h.quotas.Counters(context.Background(), "t-1")
	require.NoError(t, err)
	require.Zero(t, counters.ConcurrentCount)
	require.Equal(t, 1, counters.DailyCount)
}

func TestProcessorFailureMarksRunFailed(t *testing.T) {
	h := newHarness(t, executor.Config{Workers: 1}, &hookProcessor{
		load: func(context.Context, processor.Input, []models.CostRecord) (datastore.LoadResult, error) {
			return datastore.LoadResult{}, fmt.Errorf("copy to datastore: connection reset")
		},
	})
	h.start(t)

	run, err := h.exec.Submit(context.Background(), "t-1", testJob, nil)
	require.NoError(t, err)

	final := h.waitStatus(t, run.ID, models.RunFailed)
	require.NotNil(t, final.ErrorKind)
	require.Equal(t, string(apperr.KindProcessor), *final.ErrorKind)
	require.NotNil(t, final.ErrorMessage)
	require.Contains(t, *final.ErrorMessage, "load failed")

	require.Eventually(t, func() bool { return h.quotas.concurrent("t-1") == 0 },
		time.Second, 5*time.Millisecond)
	require.True(t, h.notifier.has(models.NotificationEventRunFailed))
}

func TestCancelPendingRun(t *testing.T) {
	// No workers started: the run stays pending in the queue.
	h := newHarness(t, executor.Config{}, &hookProcessor{})

	run, err := h.exec.Submit(context.Background(), "t-1", testJob, nil)
	require.NoError(t, err)

	cancelled, err := h.exec.Cancel(context.Background(), "t-1", run.ID)
	require.NoError(t, err)
	require.True(t, cancelled)

	final, err := h.exec.Status(context.Background(), "t-1", run.ID)
	require.NoError(t, err)
	require.Equal(t, models.RunCancelled, final.Status)
	require.Zero(t, h.quotas.concurrent("t-1"))
}

func TestCancelDuringExecutionStopsAtPhaseBoundary(t *testing.T) {
	extractStarted := make(chan struct{})
	release := make(chan struct{})
	loadCalled := false

	h := newHarness(t, executor.Config{Workers: 1}, &hookProcessor{
		extract: func(_ context.Context, in processor.Input) ([]models.CostRecord, error) {
			close(extractStarted)
			<-release
			return []models.CostRecord{{TenantID: in.TenantID}}, nil
		},
		load: func(context.Context, processor.Input, []models.CostRecord) (datastore.LoadResult, error) {
			loadCalled = true
			return datastore.LoadResult{}, nil
		},
	})
	h.start(t)

	run, err := h.exec.Submit(context.Background(), "t-1", testJob, nil)
	require.NoError(t, err)
	<-extractStarted

	cancelled, err := h.exec.Cancel(context.Background(), "t-1", run.ID)
	require.NoError(t, err)
	require.True(t, cancelled)

	close(release)
	h.waitStatus(t, run.ID, models.RunCancelled)
	require.False(t, loadCalled, "load must not run after cancellation")
	require.Eventually(t, func() bool { return h.quotas.concurrent("t-1") == 0 },
		time.Second, 5*time.Millisecond)
	require.True(t, h.notifier.has(models.NotificationEventRunCancelled))
}

func TestCancelDuringProcessingIsTooLate(t *testing.T) {
	loadStarted := make(chan struct{})
	release := make(chan struct{})

	h := newHarness(t, executor.Config{Workers: 1}, &hookProcessor{
		load: func(_ context.Context, in processor.Input, records []models.CostRecord) (datastore.LoadResult, error) {
			close(loadStarted)
			<-release
			return datastore.LoadResult{RecordsWritten: int64(len(records)), TargetLocation: "x"}, nil
		},
	})
	h.start(t)

	run, err := h.exec.Submit(context.Background(), "t-1", testJob, nil)
	require.NoError(t, err)
	<-loadStarted

	cancelled, err := h.exec.Cancel(context.Background(), "t-1", run.ID)
	require.NoError(t, err)
	require.False(t, cancelled, "a run loading output can no longer be cancelled")

	close(release)
	h.waitStatus(t, run.ID, models.RunCompleted)
}

func TestWatchdogFailsOverdueRun(t *testing.T) {
	h := newHarness(t, executor.Config{
		Workers:          1,
		MaxRunDuration:   50 * time.Millisecond,
		WatchdogInterval: 10 * time.Millisecond,
	}, &hookProcessor{
		extract: func(ctx context.Context, _ processor.Input) ([]models.CostRecord, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	h.start(t)

	run, err := h.exec.Submit(context.Background(), "t-1", testJob, nil)
	require.NoError(t, err)

	final := h.waitStatus(t, run.ID, models.RunFailed)
	require.NotNil(t, final.ErrorKind)
	require.Equal(t, string(apperr.KindTimeout), *final.ErrorKind)
	require.Eventually(t, func() bool { return h.quotas.concurrent("t-1") == 0 },
		time.Second, 5*time.Millisecond)
}

func TestSubmitQueueFull(t *testing.T) {
	// One-slot queue, no workers draining it.
	h := newHarness(t, executor.Config{QueueSize: 1}, &hookProcessor{})

	first, err := h.exec.Submit(context.Background(), "t-1", testJob, nil)
	require.NoError(t, err)

	_, err = h.exec.Submit(context.Background(), "t-1", testJob, nil)
	require.True(t, apperr.IsKind(err, apperr.KindQuotaExceeded))

	// The queued run is untouched; the rejected one was failed and released.
	got, err := h.exec.Status(context.Background(), "t-1", first.ID)
	require.NoError(t, err)
	require.Equal(t, models.RunPending, got.Status)
	require.Equal(t, 1, h.quotas.concurrent("t-1"))
}

// flakyRunRepo injects one ledger write failure on the validating edge.
type flakyRunRepo struct {
	*memRunRepo
	failValidating atomic.Bool
}

func (f *flakyRunRepo) Transition(ctx context.Context, runID string, to models.RunStatus) error {
	if to == models.RunValidating && f.failValidating.CompareAndSwap(true, false) {
		return fmt.Errorf("db down: connection refused")
	}
	return f.memRunRepo.Transition(ctx, runID, to)
}

func TestLedgerWriteFailureStillReleasesSlot(t *testing.T) {
	h := newHarness(t, executor.Config{}, &hookProcessor{})
	flaky := &flakyRunRepo{memRunRepo: h.runs}
	flaky.failValidating.Store(true)

	exec := executor.New(executor.Config{Workers: 1}, flaky, h.gate, h.creds, h.registry, h.notifier, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, exec.Start(ctx))
	t.Cleanup(func() {
		cancel()
		exec.Wait()
	})

	run, err := exec.Submit(context.Background(), "t-1", testJob, nil)
	require.NoError(t, err)

	// A broken ledger write is not a lost race: the run must still reach a
	// terminal state and give its concurrency slot back, not sit pending
	// until the next process restart sweeps it.
	var final models.RunRecord
	require.Eventually(t, func() bool {
		final, err = exec.Status(context.Background(), "t-1", run.ID)
		return err == nil && final.Status == models.RunFailed
	}, 5*time.Second, 5*time.Millisecond, "run stuck in %s", final.Status)
	require.NotNil(t, final.ErrorMessage)
	require.Contains(t, *final.ErrorMessage, "record validating state")
	require.Eventually(t, func() bool { return h.quotas.concurrent("t-1") == 0 },
		time.Second, 5*time.Millisecond, "concurrency slot leaked")
	require.True(t, h.notifier.has(models.NotificationEventRunFailed))
}

func TestStartSweepsOrphanedRuns(t *testing.T) {
	h := newHarness(t, executor.Config{MaxRunDuration: time.Minute}, &hookProcessor{})

	// A run left mid-flight by a previous process, stale past the cutoff.
	stale := models.RunRecord{
		ID:       "orphan-1",
		TenantID: "t-1",
		Provider: "aws",
		Domain:   "cost",
		JobName:  "daily_spend",
		Status:   models.RunRunning,
	}
	h.runs.mu.Lock()
	stale.UpdatedAt = time.Now().Add(-2 * time.Hour)
	h.runs.runs[stale.ID] = stale
	h.runs.mu.Unlock()
	h.quotas.counters["t-1"] = models.QuotaCounters{TenantID: "t-1", ConcurrentCount: 1}

	h.start(t)

	final, err := h.exec.Status(context.Background(), "t-1", "orphan-1")
	require.NoError(t, err)
	require.Equal(t, models.RunFailed, final.Status)
	require.Equal(t, string(apperr.KindTimeout), *final.ErrorKind)
	require.Zero(t, h.quotas.concurrent("t-1"))
}

// Package quota admits or rejects run requests before anything executes:
// subscription state first, then integration state, then the daily, monthly
// and concurrency limits. Rejection at any step leaves no partial side
// effects.
package quota

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/spendlens/spendlens-api/internal/apperr"
	"github.com/spendlens/spendlens-api/internal/models"
	"github.com/spendlens/spendlens-api/internal/repository"
)

// IntegrationChecker answers whether a tenant has an active, usable
// credential for a provider. Satisfied by the credential store.
type IntegrationChecker interface {
	HasActive(ctx context.Context, tenantID, provider string) (bool, error)
}

// AdmissionToken proves a run passed the gate and holds a concurrency slot.
// The slot must be released exactly once, on any terminal run state.
type AdmissionToken struct {
	Tenant     models.Tenant
	Job        models.JobKey
	AcquiredAt time.Time
}

type Gate struct {
	tenants      repository.TenantRepository
	quotas       repository.QuotaRepository
	integrations IntegrationChecker
	logger       zerolog.Logger
	now          func() time.Time
}

func NewGate(tenants repository.TenantRepository, quotas repository.QuotaRepository, integrations IntegrationChecker, logger zerolog.Logger) *Gate {
	return &Gate{
		tenants:      tenants,
		quotas:       quotas,
		integrations: integrations,
		logger:       logger.With().Str("component", "quota_gate").Logger(),
		now:          time.Now,
	}
}

// Admit validates a run request and atomically consumes quota. The checks run
// in a fixed order so a suspended tenant is never billed an attempt even when
// it has quota left.
func (g *Gate) Admit(ctx context.Context, tenantID string, job models.JobKey) (AdmissionToken, error) {
	tenant, err := g.tenants.GetTenantByID(ctx, tenantID)
	if err == repository.ErrNotFound {
		return AdmissionToken{}, apperr.New(apperr.KindAuthentication, "unknown tenant %s", tenantID)
	}
	if err != nil {
		return AdmissionToken{}, err
	}

	if !tenant.SubscriptionStatus.AllowsExecution() {
		return AdmissionToken{}, apperr.New(apperr.KindSubscriptionInactive,
			"subscription is %s; runs require trial or active", tenant.SubscriptionStatus)
	}

	active, err := g.integrations.HasActive(ctx, tenantID, job.Provider)
	if err != nil {
		return AdmissionToken{}, err
	}
	if !active {
		return AdmissionToken{}, apperr.New(apperr.KindIntegrationNotActive,
			"%s integration is not active for tenant %s", job.Provider, tenantID)
	}

	now := g.now()
	limits := tenant.Limits()
	acquired, counters, err := g.quotas.TryAcquire(ctx, tenantID, now, limits)
	if err != nil {
		return AdmissionToken{}, err
	}
	if !acquired {
		return AdmissionToken{}, quotaError(counters, limits, now)
	}

	g.logger.Debug().
		Str("tenant_id", tenantID).
		Str("job", job.String()).
		Int("daily_count", counters.DailyCount).
		Int("concurrent_count", counters.ConcurrentCount).
		Msg("run admitted")

	return AdmissionToken{Tenant: tenant, Job: job, AcquiredAt: now}, nil
}

// Release frees the concurrency slot held by an admission token. Daily and
// monthly counters stay consumed; a failed run still spent an attempt.
func (g *Gate) Release(ctx context.Context, tenantID string) error {
	return g.quotas.ReleaseSlot(ctx, tenantID)
}

// quotaError names the first exhausted limit, in check order.
func quotaError(counters models.QuotaCounters, limits models.TierLimits, now time.Time) error {
	switch {
	case counters.EffectiveDaily(now) >= limits.DailyRuns:
		return apperr.New(apperr.KindQuotaExceeded,
			"daily run limit reached (%d/%d)", counters.EffectiveDaily(now), limits.DailyRuns)
	case counters.EffectiveMonthly(now) >= limits.MonthlyRuns:
		return apperr.New(apperr.KindQuotaExceeded,
			"monthly run limit reached (%d/%d)", counters.EffectiveMonthly(now), limits.MonthlyRuns)
	default:
		return apperr.New(apperr.KindQuotaExceeded,
			"concurrent run limit reached (%d/%d)", counters.ConcurrentCount, limits.ConcurrentRuns)
	}
}

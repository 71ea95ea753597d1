package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/spendlens/spendlens-api/internal/models"
)

type QuotaRepository interface {
	// TryAcquire atomically checks all three limits and increments the
	// counters in a single statement. On rejection it returns acquired=false
	// together with the current counters so the caller can name the limit
	// that was hit. Two concurrent calls can never both take the last slot.
	TryAcquire(ctx context.Context, tenantID string, now time.Time, limits models.TierLimits) (bool, models.QuotaCounters, error)
	// ReleaseSlot decrements the live concurrency counter. Daily and monthly
	// counters are monotonic within their period and are never rolled back.
	ReleaseSlot(ctx context.Context, tenantID string) error
	Counters(ctx context.Context, tenantID string) (models.QuotaCounters, error)
}

type quotaRepository struct {
	db *sql.DB
}

func NewQuotaRepository(db *sql.DB) QuotaRepository {
	return &quotaRepository{db: db}
}

func (r *quotaRepository) TryAcquire(ctx context.Context, tenantID string, now time.Time, limits models.TierLimits) (bool, models.QuotaCounters, error) {
	day := now.Format("2006-01-02")
	month := now.Format("2006-01") + "-01"

	// Test-and-increment in one statement. The WHERE clause sees the stored
	// row, with counters treated as zero when their period rolled over.
	const query = `
		INSERT INTO tenant.quota_counters AS qc
			(tenant_id, day, daily_count, month, monthly_count, concurrent_count)
		VALUES ($1, $2::date, 1, $3::date, 1, 1)
		ON CONFLICT (tenant_id) DO UPDATE SET
			daily_count      = CASE WHEN qc.day = EXCLUDED.day THEN qc.daily_count + 1 ELSE 1 END,
			day              = EXCLUDED.day,
			monthly_count    = CASE WHEN qc.month = EXCLUDED.month THEN qc.monthly_count + 1 ELSE 1 END,
			month            = EXCLUDED.month,
			concurrent_count = qc.concurrent_count + 1
		WHERE (CASE WHEN qc.day = EXCLUDED.day THEN qc.daily_count ELSE 0 END) < $4
		  AND (CASE WHEN qc.month = EXCLUDED.month THEN qc.monthly_count ELSE 0 END) < $5
		  AND qc.concurrent_count < $6
		RETURNING tenant_id, day, daily_count, month, monthly_count, concurrent_count;
	`
	var counters models.QuotaCounters
	err := r.db.QueryRowContext(ctx, query,
		tenantID, day, month,
		limits.DailyRuns, limits.MonthlyRuns, limits.ConcurrentRuns,
	).Scan(
		&counters.TenantID,
		&counters.Day,
		&counters.DailyCount,
		&counters.Month,
		&counters.MonthlyCount,
		&counters.ConcurrentCount,
	)
	if err == sql.ErrNoRows {
		// Rejected. Read the row so the caller can report which limit hit.
		counters, err := r.Counters(ctx, tenantID)
		if err != nil {
			return false, counters, err
		}
		return false, counters, nil
	}
	if err != nil {
		return false, counters, err
	}
	return true, counters, nil
}

func (r *quotaRepository) ReleaseSlot(ctx context.Context, tenantID string) error {
	const query = `
		UPDATE tenant.quota_counters
		SET concurrent_count = GREATEST(concurrent_count - 1, 0)
		WHERE tenant_id = $1;
	`
	_, err := r.db.ExecContext(ctx, query, tenantID)
	return err
}

func (r *quotaRepository) Counters(ctx context.Context, tenantID string) (models.QuotaCounters, error) {
	const query = `
		SELECT tenant_id, day, daily_count, month, monthly_count, concurrent_count
		FROM tenant.quota_counters
		WHERE tenant_id = $1;
	`
	var counters models.QuotaCounters
	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(
		&counters.TenantID,
		&counters.Day,
		&counters.DailyCount,
		&counters.Month,
		&counters.MonthlyCount,
		&counters.ConcurrentCount,
	)
	if err == sql.ErrNoRows {
		return models.QuotaCounters{TenantID: tenantID}, nil
	}
	return counters, err
}

package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/spendlens/spendlens-api/internal/models"
)

type ScheduleRepository interface {
	Create(ctx context.Context, schedule models.Schedule) (models.Schedule, error)
	List(ctx context.Context, tenantID string) ([]models.Schedule, error)
	SetEnabled(ctx context.Context, tenantID, scheduleID string, enabled bool) error
	// ClaimDue picks up to limit enabled schedules whose next-run time has
	// elapsed, advances their next_run_at, and returns them. Claimed rows are
	// locked with SKIP LOCKED so concurrent scheduler instances never double
	// trigger the same schedule.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.Schedule, error)
}

type scheduleRepository struct {
	db *sql.DB
}

func NewScheduleRepository(db *sql.DB) ScheduleRepository {
	return &scheduleRepository{db: db}
}

func (r *scheduleRepository) Create(ctx context.Context, schedule models.Schedule) (models.Schedule, error) {
	const query = `
		INSERT INTO tenant.schedules (tenant_id, provider, domain, job_name, frequency, enabled, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at;
	`
	err := r.db.QueryRowContext(ctx, query,
		schedule.TenantID,
		schedule.Provider,
		schedule.Domain,
		schedule.JobName,
		schedule.Frequency,
		schedule.Enabled,
		schedule.NextRunAt,
	).Scan(&schedule.ID, &schedule.CreatedAt, &schedule.UpdatedAt)
	return schedule, err
}

func (r *scheduleRepository) List(ctx context.Context, tenantID string) ([]models.Schedule, error) {
	const query = `
		SELECT id, tenant_id, provider, domain, job_name, frequency, enabled, next_run_at, created_at, updated_at
		FROM tenant.schedules
		WHERE tenant_id = $1
		ORDER BY created_at DESC;
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []models.Schedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, schedule)
	}
	return schedules, rows.Err()
}

func (r *scheduleRepository) SetEnabled(ctx context.Context, tenantID, scheduleID string, enabled bool) error {
	const query = `
		UPDATE tenant.schedules
		SET enabled = $1, updated_at = NOW()
		WHERE id = $2 AND tenant_id = $3;
	`
	res, err := r.db.ExecContext(ctx, query, enabled, scheduleID, tenantID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *scheduleRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.Schedule, error) {
	if limit <= 0 {
		limit = 20
	}
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin schedule claim")
	}
	defer tx.Rollback()

	const query = `
		UPDATE tenant.schedules s
		SET next_run_at = s.next_run_at + CASE s.frequency
				WHEN 'hourly' THEN INTERVAL '1 hour'
				ELSE INTERVAL '1 day'
			END,
			updated_at = NOW()
		FROM (
			SELECT id
			FROM tenant.schedules
			WHERE enabled AND next_run_at <= $1
			ORDER BY next_run_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		) due
		WHERE s.id = due.id
		RETURNING s.id, s.tenant_id, s.provider, s.domain, s.job_name, s.frequency, s.enabled, s.next_run_at, s.created_at, s.updated_at;
	`
	rows, err := tx.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "claim due schedules")
	}
	defer rows.Close()

	var claimed []models.Schedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return claimed, tx.Commit()
}

func scanSchedule(scanner interface{ Scan(dest ...interface{}) error }) (models.Schedule, error) {
	var schedule models.Schedule
	err := scanner.Scan(
		&schedule.ID,
		&schedule.TenantID,
		&schedule.Provider,
		&schedule.Domain,
		&schedule.JobName,
		&schedule.Frequency,
		&schedule.Enabled,
		&schedule.NextRunAt,
		&schedule.CreatedAt,
		&schedule.UpdatedAt,
	)
	return schedule, err
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/spendlens/spendlens-api/internal/models"
)

// RunRepository is the run ledger: the durable record of every execution
// attempt and the single writer of run status. Processors report outcomes to
// the executor, which goes through here; nothing else touches status.
type RunRepository interface {
	Create(ctx context.Context, run models.RunRecord) (models.RunRecord, error)
	Get(ctx context.Context, tenantID, runID string) (models.RunRecord, error)
	// Transition moves a run along an allowed state-machine edge. A move
	// from any other status returns ErrInvalidTransition.
	Transition(ctx context.Context, runID string, to models.RunStatus) error
	// Fail terminates a run from any non-terminal status with a structured
	// error. A run already terminal returns ErrInvalidTransition.
	Fail(ctx context.Context, runID, errorKind, errorMessage string) error
	// Complete finishes a processing run with its load metrics.
	Complete(ctx context.Context, runID string, recordsProcessed int64, targetLocation string) error
	List(ctx context.Context, tenantID, provider string, limit int) ([]models.RunRecord, error)
	Stats(ctx context.Context, tenantID string, days int) (models.RunStat, error)
	// SweepStuck force-fails every non-terminal run not updated since the
	// cutoff and returns the affected rows so their concurrency slots can be
	// released.
	SweepStuck(ctx context.Context, cutoff time.Time) ([]models.RunRecord, error)
}

type runRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) RunRepository {
	return &runRepository{db: db}
}

const runColumns = `id, tenant_id, provider, domain, job_name, status, error_kind, error_message,
	records_processed, target_location, created_at, updated_at, started_at, completed_at`

func (r *runRepository) Create(ctx context.Context, run models.RunRecord) (models.RunRecord, error) {
	const query = `
		INSERT INTO tenant.runs (id, tenant_id, provider, domain, job_name, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at;
	`
	run.Status = models.RunPending
	err := r.db.QueryRowContext(ctx, query,
		run.ID,
		run.TenantID,
		run.Provider,
		run.Domain,
		run.JobName,
		run.Status,
	).Scan(&run.CreatedAt, &run.UpdatedAt)
	return run, err
}

func (r *runRepository) Get(ctx context.Context, tenantID, runID string) (models.RunRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM tenant.runs
		WHERE id = $1 AND tenant_id = $2;
	`, runColumns)
	run, err := scanRun(r.db.QueryRowContext(ctx, query, runID, tenantID))
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	return run, err
}

func (r *runRepository) Transition(ctx context.Context, runID string, to models.RunStatus) error {
	sources := models.TransitionSources(to)
	if len(sources) == 0 {
		return ErrInvalidTransition
	}
	from := make([]string, len(sources))
	for i, s := range sources {
		from[i] = string(s)
	}

	const query = `
		UPDATE tenant.runs
		SET status       = $2,
			updated_at   = NOW(),
			started_at   = CASE WHEN $2 = 'running' AND started_at IS NULL THEN NOW() ELSE started_at END,
			completed_at = CASE WHEN $2 IN ('completed', 'failed', 'cancelled') THEN NOW() ELSE completed_at END
		WHERE id = $1 AND status = ANY($3);
	`
	res, err := r.db.ExecContext(ctx, query, runID, to, pq.Array(from))
	if err != nil {
		return err
	}
	return r.transitionResult(ctx, runID, res)
}

func (r *runRepository) Fail(ctx context.Context, runID, errorKind, errorMessage string) error {
	const query = `
		UPDATE tenant.runs
		SET status        = 'failed',
			error_kind    = $2,
			error_message = $3,
			updated_at    = NOW(),
			completed_at  = NOW()
		WHERE id = $1 AND status IN ('pending', 'validating', 'running', 'processing');
	`
	res, err := r.db.ExecContext(ctx, query, runID, errorKind, errorMessage)
	if err != nil {
		return err
	}
	return r.transitionResult(ctx, runID, res)
}

func (r *runRepository) Complete(ctx context.Context, runID string, recordsProcessed int64, targetLocation string) error {
	const query = `
		UPDATE tenant.runs
		SET status            = 'completed',
			records_processed = $2,
			target_location   = $3,
			updated_at        = NOW(),
			completed_at      = NOW()
		WHERE id = $1 AND status = 'processing';
	`
	res, err := r.db.ExecContext(ctx, query, runID, recordsProcessed, targetLocation)
	if err != nil {
		return err
	}
	return r.transitionResult(ctx, runID, res)
}

// transitionResult distinguishes "row missing" from "edge not allowed" when a
// guarded status update matched nothing.
func (r *runRepository) transitionResult(ctx context.Context, runID string, res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM tenant.runs WHERE id = $1)`, runID,
	).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

func (r *runRepository) List(ctx context.Context, tenantID, provider string, limit int) ([]models.RunRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT %s
		FROM tenant.runs
		WHERE tenant_id = $1
		  AND ($2 = '' OR provider = $2)
		ORDER BY created_at DESC
		LIMIT $3;
	`, runColumns)

	rows, err := r.db.QueryContext(ctx, query, tenantID, provider, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]models.RunRecord, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *runRepository) Stats(ctx context.Context, tenantID string, days int) (models.RunStat, error) {
	const query = `
		WITH days AS (
			SELECT generate_series(
				(current_date - ($1 - 1) * INTERVAL '1 day'),
				current_date,
				'1 day'::INTERVAL
			) AS day
		)
		SELECT
			days.day,
			COALESCE(SUM((r.status = 'completed')::int), 0) AS completed,
			COALESCE(SUM((r.status = 'failed')::int), 0)    AS failed,
			COALESCE(SUM((r.status IN ('validating', 'running', 'processing'))::int), 0) AS running,
			COALESCE(SUM((r.status = 'pending')::int), 0)   AS pending
		FROM days
		LEFT JOIN tenant.runs r
		ON r.created_at::DATE = days.day AND r.tenant_id = $2
		GROUP BY days.day
		ORDER BY days.day;
	`
	rows, err := r.db.QueryContext(ctx, query, days, tenantID)
	if err != nil {
		return models.RunStat{}, fmt.Errorf("run stats query error: %w", err)
	}
	defer rows.Close()

	var perDay []models.RunStatDay
	for rows.Next() {
		var stat models.RunStatDay
		if err := rows.Scan(&stat.Day, &stat.Completed, &stat.Failed, &stat.Running, &stat.Pending); err != nil {
			return models.RunStat{}, fmt.Errorf("failed to scan run stat: %w", err)
		}
		perDay = append(perDay, stat)
	}
	if err := rows.Err(); err != nil {
		return models.RunStat{}, err
	}

	const totalQuery = `
		SELECT
			COALESCE(COUNT(*), 0) AS total,
			COALESCE(SUM((status = 'completed')::int), 0) AS completed,
			COALESCE(SUM((status = 'failed')::int), 0)    AS failed,
			COALESCE(SUM((status IN ('validating', 'running', 'processing'))::int), 0) AS running
		FROM tenant.runs
		WHERE tenant_id = $1;
	`
	var stats models.RunStat
	row := r.db.QueryRowContext(ctx, totalQuery, tenantID)
	if err := row.Scan(&stats.Total, &stats.Completed, &stats.Failed, &stats.Running); err != nil {
		return models.RunStat{}, fmt.Errorf("run stats total scan error: %w", err)
	}

	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(stats.Total) * 100.0
	}
	stats.PerDay = perDay
	return stats, nil
}

func (r *runRepository) SweepStuck(ctx context.Context, cutoff time.Time) ([]models.RunRecord, error) {
	query := fmt.Sprintf(`
		UPDATE tenant.runs
		SET status        = 'failed',
			error_kind    = 'timeout_error',
			error_message = 'run exceeded maximum duration',
			updated_at    = NOW(),
			completed_at  = NOW()
		WHERE status IN ('pending', 'validating', 'running', 'processing')
		  AND updated_at < $1
		RETURNING %s;
	`, runColumns)

	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var swept []models.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		swept = append(swept, run)
	}
	return swept, rows.Err()
}

func scanRun(scanner interface{ Scan(dest ...interface{}) error }) (models.RunRecord, error) {
	var (
		run         models.RunRecord
		errKind     sql.NullString
		errMsg      sql.NullString
		targetLoc   sql.NullString
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := scanner.Scan(
		&run.ID,
		&run.TenantID,
		&run.Provider,
		&run.Domain,
		&run.JobName,
		&run.Status,
		&errKind,
		&errMsg,
		&run.RecordsProcessed,
		&targetLoc,
		&run.CreatedAt,
		&run.UpdatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return run, err
	}
	if errKind.Valid {
		run.ErrorKind = &errKind.String
	}
	if errMsg.Valid {
		run.ErrorMessage = &errMsg.String
	}
	if targetLoc.Valid {
		run.TargetLocation = &targetLoc.String
	}
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

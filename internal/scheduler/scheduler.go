// Package scheduler triggers due runs on tenants' behalf. It is a thin
// driver: enumerate due schedules, call submit. All validation and quota
// logic happens in the same admission path an ad-hoc run goes through.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/spendlens/spendlens-api/internal/apperr"
	"github.com/spendlens/spendlens-api/internal/models"
	"github.com/spendlens/spendlens-api/internal/repository"
)

// Submitter is the executor's entry point.
type Submitter interface {
	Submit(ctx context.Context, tenantID string, job models.JobKey, params map[string]string) (models.RunRecord, error)
}

type Config struct {
	TickInterval time.Duration
	BatchSize    int
}

type Scheduler struct {
	cfg       Config
	schedules repository.ScheduleRepository
	submitter Submitter
	logger    zerolog.Logger
	now       func() time.Time
}

func New(cfg Config, schedules repository.ScheduleRepository, submitter Submitter, logger zerolog.Logger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	return &Scheduler{
		cfg:       cfg,
		schedules: schedules,
		submitter: submitter,
		logger:    logger.With().Str("component", "scheduler").Logger(),
		now:       time.Now,
	}
}

// Start runs the tick loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info().Dur("tick", s.cfg.TickInterval).Msg("scheduler started")
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error().Err(err).Msg("scheduler tick failed")
			}
		}
	}
}

// Tick claims due schedules and submits a run for each. Rejections (quota,
// suspended subscription, revoked integration) are per-tenant conditions and
// only logged; one tenant's state never blocks another's schedule.
func (s *Scheduler) Tick(ctx context.Context) error {
	due, err := s.schedules.ClaimDue(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, schedule := range due {
		job := models.JobKey{Provider: schedule.Provider, Domain: schedule.Domain, Name: schedule.JobName}
		// No explicit params: the job's defaults (e.g. "yesterday") resolve
		// per run.
		run, err := s.submitter.Submit(ctx, schedule.TenantID, job, nil)
		if err != nil {
			event := s.logger.Warn().
				Str("tenant_id", schedule.TenantID).
				Str("job", job.String()).
				Str("schedule_id", schedule.ID)
			if kind, ok := apperr.KindOf(err); ok {
				event = event.Str("rejection", string(kind))
			}
			event.Err(err).Msg("scheduled run rejected")
			continue
		}
		s.logger.Info().
			Str("tenant_id", schedule.TenantID).
			Str("job", job.String()).
			Str("run_id", run.ID).
			Msg("scheduled run submitted")
	}
	return nil
}

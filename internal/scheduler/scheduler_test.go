package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spendlens/spendlens-api/internal/apperr"
	"github.com/spendlens/spendlens-api/internal/models"
	"github.com/stretchr/testify/require"
)

type memScheduleRepo struct {
	schedules []models.Schedule
	claimed   int
}

func (m *memScheduleRepo) Create(_ context.Context, schedule models.Schedule) (models.Schedule, error) {
	m.schedules = append(m.schedules, schedule)
	return schedule, nil
}

func (m *memScheduleRepo) List(_ context.Context, tenantID string) ([]models.Schedule, error) {
	return m.schedules, nil
}

func (m *memScheduleRepo) SetEnabled(_ context.Context, tenantID, scheduleID string, enabled bool) error {
	return nil
}

func (m *memScheduleRepo) ClaimDue(_ context.Context, now time.Time, limit int) ([]models.Schedule, error) {
	var due []models.Schedule
	for i := range m.schedules {
		if len(due) == limit {
			break
		}
		s := &m.schedules[i]
		if s.Enabled && !s.NextRunAt.After(now) {
			s.NextRunAt = s.NextRunAt.Add(s.Frequency.Interval())
			due = append(due, *s)
			m.claimed++
		}
	}
	return due, nil
}

type recordingSubmitter struct {
	submitted []models.JobKey
	errFor    map[string]error
}

func (r *recordingSubmitter) Submit(_ context.Context, tenantID string, job models.JobKey, params map[string]string) (models.RunRecord, error) {
	if err := r.errFor[tenantID]; err != nil {
		return models.RunRecord{}, err
	}
	r.submitted = append(r.submitted, job)
	return models.RunRecord{ID: "run-" + tenantID, TenantID: tenantID, Status: models.RunPending}, nil
}

func TestTickSubmitsDueSchedules(t *testing.T) {
	now := time.Date(2025, 5, 1, 6, 0, 0, 0, time.UTC)
	repo := &memScheduleRepo{schedules: []models.Schedule{
		{ID: "s-1", TenantID: "t-1", Provider: "aws", Domain: "cost", JobName: "daily_spend",
			Frequency: models.FrequencyDaily, Enabled: true, NextRunAt: now.Add(-time.Minute)},
		{ID: "s-2", TenantID: "t-2", Provider: "openai", Domain: "usage", JobName: "daily_tokens",
			Frequency: models.FrequencyHourly, Enabled: true, NextRunAt: now.Add(time.Hour)},
		{ID: "s-3", TenantID: "t-3", Provider: "gcp", Domain: "billing", JobName: "daily_spend",
			Frequency: models.FrequencyDaily, Enabled: false, NextRunAt: now.Add(-time.Hour)},
	}}
	submitter := &recordingSubmitter{}
	s := New(Config{}, repo, submitter, zerolog.Nop())
	s.now = func() time.Time { return now }

	require.NoError(t, s.Tick(context.Background()))

	// Only the enabled, due schedule fires.
	require.Equal(t, []models.JobKey{{Provider: "aws", Domain: "cost", Name: "daily_spend"}}, submitter.submitted)

	// Claimed schedule advanced; a second tick does not re-fire it.
	require.NoError(t, s.Tick(context.Background()))
	require.Len(t, submitter.submitted, 1)
}

func TestTickRejectionDoesNotBlockOtherTenants(t *testing.T) {
	now := time.Date(2025, 5, 1, 6, 0, 0, 0, time.UTC)
	repo := &memScheduleRepo{schedules: []models.Schedule{
		{ID: "s-1", TenantID: "t-over-quota", Provider: "aws", Domain: "cost", JobName: "daily_spend",
			Frequency: models.FrequencyDaily, Enabled: true, NextRunAt: now.Add(-time.Minute)},
		{ID: "s-2", TenantID: "t-2", Provider: "aws", Domain: "cost", JobName: "daily_spend",
			Frequency: models.FrequencyDaily, Enabled: true, NextRunAt: now.Add(-time.Minute)},
	}}
	submitter := &recordingSubmitter{errFor: map[string]error{
		"t-over-quota": apperr.New(apperr.KindQuotaExceeded, "daily run limit reached (6/6)"),
	}}
	s := New(Config{}, repo, submitter, zerolog.Nop())
	s.now = func() time.Time { return now }

	require.NoError(t, s.Tick(context.Background()))
	require.Len(t, submitter.submitted, 1)
}

func TestTickHonorsBatchSize(t *testing.T) {
	now := time.Date(2025, 5, 1, 6, 0, 0, 0, time.UTC)
	repo := &memScheduleRepo{}
	for i := 0; i < 5; i++ {
		repo.schedules = append(repo.schedules, models.Schedule{
			ID: "s", TenantID: "t", Provider: "aws", Domain: "cost", JobName: "daily_spend",
			Frequency: models.FrequencyDaily, Enabled: true, NextRunAt: now.Add(-time.Minute),
		})
	}
	submitter := &recordingSubmitter{}
	s := New(Config{BatchSize: 3}, repo, submitter, zerolog.Nop())
	s.now = func() time.Time { return now }

	require.NoError(t, s.Tick(context.Background()))
	require.Len(t, submitter.submitted, 3)
}

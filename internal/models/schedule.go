package models

import "time"

type ScheduleFrequency string

const (
	FrequencyHourly ScheduleFrequency = "hourly"
	FrequencyDaily  ScheduleFrequency = "daily"
)

// Interval returns the gap between scheduled runs.
func (f ScheduleFrequency) Interval() time.Duration {
	if f == FrequencyHourly {
		return time.Hour
	}
	return 24 * time.Hour
}

// Schedule triggers a job on a tenant's behalf. It carries no quota or
// credential logic; a scheduled run goes through the same admission path as
// an ad-hoc one.
type Schedule struct {
	ID        string            `json:"id" db:"id"`
	TenantID  string            `json:"tenant_id" db:"tenant_id"`
	Provider  string            `json:"provider" db:"provider"`
	Domain    string            `json:"domain" db:"domain"`
	JobName   string            `json:"job_name" db:"job_name"`
	Frequency ScheduleFrequency `json:"frequency" db:"frequency"`
	Enabled   bool              `json:"enabled" db:"enabled"`
	NextRunAt time.Time         `json:"next_run_at" db:"next_run_at"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt time.Time         `json:"updated_at" db:"updated_at"`
}

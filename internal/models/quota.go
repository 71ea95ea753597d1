package models

import "time"

// QuotaCounters is the per-tenant admission state: daily and monthly run
// counts plus the live concurrent-run count. The daily and monthly counters
// reset when their period rolls over; the concurrency counter is released on
// every terminal run state.
type QuotaCounters struct {
	TenantID        string    `json:"tenant_id" db:"tenant_id"`
	Day             time.Time `json:"day" db:"day"`
	DailyCount      int       `json:"daily_count" db:"daily_count"`
	Month           time.Time `json:"month" db:"month"`
	MonthlyCount    int       `json:"monthly_count" db:"monthly_count"`
	ConcurrentCount int       `json:"concurrent_count" db:"concurrent_count"`
}

// EffectiveDaily returns the daily count as of now, treating a rolled-over
// period as zero.
func (q QuotaCounters) EffectiveDaily(now time.Time) int {
	if q.Day.Format("2006-01-02") != now.Format("2006-01-02") {
		return 0
	}
	return q.DailyCount
}

// EffectiveMonthly returns the monthly count as of now, treating a
// rolled-over period as zero.
func (q QuotaCounters) EffectiveMonthly(now time.Time) int {
	if q.Month.Format("2006-01") != now.Format("2006-01") {
		return 0
	}
	return q.MonthlyCount
}

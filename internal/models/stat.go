package models

import "time"

// RunStatDay holds run counts for a single day.
type RunStatDay struct {
	Day       time.Time `json:"day" db:"day"`
	Completed int       `json:"completed" db:"completed"`
	Failed    int       `json:"failed" db:"failed"`
	Running   int       `json:"running" db:"running"`
	Pending   int       `json:"pending" db:"pending"`
}

// RunStat is the aggregated run stats over a period, plus per-day details.
type RunStat struct {
	Total       int          `json:"total" db:"total"`
	Completed   int          `json:"completed" db:"completed"`
	Failed      int          `json:"failed" db:"failed"`
	Running     int          `json:"running" db:"running"`
	SuccessRate float64      `json:"success_rate" db:"success_rate"`
	PerDay      []RunStatDay `json:"per_day" db:"per_day"`
}

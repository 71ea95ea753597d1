package models

import "time"

type SubscriptionStatus string

const (
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionSuspended SubscriptionStatus = "suspended"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// AllowsExecution reports whether a tenant in this subscription state may run
// pipelines. Any state outside trial/active is rejected at admission, before
// quota is consulted.
func (s SubscriptionStatus) AllowsExecution() bool {
	return s == SubscriptionTrial || s == SubscriptionActive
}

type SubscriptionTier string

const (
	TierStarter    SubscriptionTier = "starter"
	TierGrowth     SubscriptionTier = "growth"
	TierEnterprise SubscriptionTier = "enterprise"
)

// TierLimits bounds a tenant's run volume: daily and monthly run counters plus
// the number of runs that may execute at the same time.
type TierLimits struct {
	DailyRuns      int `json:"daily_runs"`
	MonthlyRuns    int `json:"monthly_runs"`
	ConcurrentRuns int `json:"concurrent_runs"`
}

var tierLimits = map[SubscriptionTier]TierLimits{
	TierStarter:    {DailyRuns: 6, MonthlyRuns: 120, ConcurrentRuns: 2},
	TierGrowth:     {DailyRuns: 24, MonthlyRuns: 600, ConcurrentRuns: 5},
	TierEnterprise: {DailyRuns: 96, MonthlyRuns: 2400, ConcurrentRuns: 20},
}

// LimitsForTier returns the quota limits for a tier, defaulting unknown tiers
// to starter.
func LimitsForTier(tier SubscriptionTier) TierLimits {
	if limits, ok := tierLimits[tier]; ok {
		return limits
	}
	return tierLimits[TierStarter]
}

type Tenant struct {
	ID                 string             `json:"id" db:"id"`
	Name               string             `json:"name" db:"name"`
	Environment        string             `json:"environment" db:"environment"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status" db:"subscription_status"`
	SubscriptionTier   SubscriptionTier   `json:"subscription_tier" db:"subscription_tier"`
	APIKeyHash         string             `json:"-" db:"api_key_hash"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`
}

func (t Tenant) Limits() TierLimits {
	return LimitsForTier(t.SubscriptionTier)
}

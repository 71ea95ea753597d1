package models

import "time"

// CostRecord is the normalized spend row every processor loads into the
// tenant's data store, regardless of which provider it came from.
type CostRecord struct {
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	Provider  string    `json:"provider" db:"provider"`
	Service   string    `json:"service" db:"service"`
	SKU       string    `json:"sku" db:"sku"`
	UsageDate time.Time `json:"usage_date" db:"usage_date"`
	Quantity  float64   `json:"quantity" db:"quantity"`
	Amount    float64   `json:"amount" db:"amount"`
	Currency  string    `json:"currency" db:"currency"`
}

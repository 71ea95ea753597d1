// Package datastore is the tenant data store collaborator. Each tenant's
// facts live in their own schema; the engine's only contract with the store
// is "replace succeeds or errors", with idempotent overwrite semantics for a
// given (tenant, table, date range).
package datastore

import (
	"context"
	"time"

	"github.com/spendlens/spendlens-api/internal/models"
)

// LoadResult reports what a load wrote and where.
type LoadResult struct {
	RecordsWritten int64  `json:"records_written"`
	TargetLocation string `json:"target_location"`
}

// Store writes normalized cost records with atomic range replace. Re-running
// the same range produces the same final stored state as running it once;
// the last writer is authoritative under overlapping runs.
type Store interface {
	ReplaceRange(ctx context.Context, tenantID, table string, start, end time.Time, records []models.CostRecord) (LoadResult, error)
}

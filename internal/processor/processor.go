// Package processor defines the extract/transform/load contract and the
// provider implementations behind it. Processors are stateless across
// invocations: everything a run needs arrives in the Input, so one processor
// instance safely serves concurrent runs for different tenants.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/spendlens/spendlens-api/internal/datastore"
	"github.com/spendlens/spendlens-api/internal/models"
)

// Input is the fully-resolved, per-run payload handed to a processor. The
// credential plaintext lives only here, for the span of this run.
type Input struct {
	TenantID   string
	RunID      string
	Job        models.JobKey
	Params     map[string]string
	Source     map[string]any
	Target     map[string]any
	Credential []byte
}

// DateRange reads the resolved start/end date parameters. A job with only a
// date parameter covers that single day.
func (in Input) DateRange() (time.Time, time.Time, error) {
	if date, ok := in.Params["date"]; ok && in.Params["start_date"] == "" {
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
		}
		return day, day, nil
	}
	start, err := time.Parse("2006-01-02", in.Params["start_date"])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start_date %q: %w", in.Params["start_date"], err)
	}
	end, err := time.Parse("2006-01-02", in.Params["end_date"])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end_date %q: %w", in.Params["end_date"], err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end_date %s precedes start_date %s", in.Params["end_date"], in.Params["start_date"])
	}
	return start, end, nil
}

// TargetTable reads the resolved target table name.
func (in Input) TargetTable() (string, error) {
	table, ok := in.Target["table"].(string)
	if !ok || table == "" {
		return "", fmt.Errorf("job %s target has no table", in.Job)
	}
	return table, nil
}

// Processor is one extract -> transform -> load implementation. Load must be
// idempotent for a given (tenant, date range): the scheduler may re-trigger a
// range that already ran, and the stored outcome has to match a single run.
type Processor interface {
	Extract(ctx context.Context, in Input) ([]models.CostRecord, error)
	Transform(ctx context.Context, in Input, records []models.CostRecord) ([]models.CostRecord, error)
	Load(ctx context.Context, in Input, records []models.CostRecord) (datastore.LoadResult, error)
}

// base supplies the identity transform and the shared range-replace load.
// Provider families embed it and override what differs.
type base struct {
	store datastore.Store
}

func (b base) Transform(_ context.Context, _ Input, records []models.CostRecord) ([]models.CostRecord, error) {
	return records, nil
}

func (b base) Load(ctx context.Context, in Input, records []models.CostRecord) (datastore.LoadResult, error) {
	start, end, err := in.DateRange()
	if err != nil {
		return datastore.LoadResult{}, err
	}
	table, err := in.TargetTable()
	if err != nil {
		return datastore.LoadResult{}, err
	}
	return b.store.ReplaceRange(ctx, in.TenantID, table, start, end, records)
}

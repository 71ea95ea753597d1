package processor

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/spendlens/spendlens-api/internal/datastore"
	"github.com/spendlens/spendlens-api/internal/models"
)

// GCPBillingProcessor reads the billing export rows for a date range. GCP
// reports gross cost plus a separate (negative) credits total; extraction
// nets the two so the stored figure is actual spend. The identity transform
// from base applies.
type GCPBillingProcessor struct {
	base
	client APIClient
}

func NewGCPBillingProcessor(client APIClient, store datastore.Store) *GCPBillingProcessor {
	return &GCPBillingProcessor{base: base{store: store}, client: client}
}

type gcpBillingPayload struct {
	Rows []struct {
		Service  string  `json:"service"`
		SKU      string  `json:"sku"`
		UsageDay string  `json:"usage_day"`
		Usage    float64 `json:"usage_amount"`
		Cost     float64 `json:"cost"`
		Credits  float64 `json:"credits"`
		Currency string  `json:"currency"`
	} `json:"rows"`
}

func (p *GCPBillingProcessor) Extract(ctx context.Context, in Input) ([]models.CostRecord, error) {
	start, end, err := in.DateRange()
	if err != nil {
		return nil, err
	}
	payload, err := p.client.FetchUsage(ctx, in.Credential, in.Source, start, end)
	if err != nil {
		return nil, errors.Wrap(err, "gcp billing extract")
	}

	var parsed gcpBillingPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, errors.Wrap(err, "parse gcp billing payload")
	}

	records := make([]models.CostRecord, 0, len(parsed.Rows))
	for _, row := range parsed.Rows {
		day, err := time.Parse("2006-01-02", row.UsageDay)
		if err != nil {
			return nil, errors.Wrapf(err, "gcp usage day %q", row.UsageDay)
		}
		records = append(records, models.CostRecord{
			TenantID:  in.TenantID,
			Provider:  "gcp",
			Service:   row.Service,
			SKU:       row.SKU,
			UsageDate: day,
			Quantity:  row.Usage,
			Amount:    row.Cost + row.Credits,
			Currency:  orDefault(row.Currency, "USD"),
		})
	}
	return records, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

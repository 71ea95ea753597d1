package processor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/spendlens/spendlens-api/internal/datastore"
	"github.com/spendlens/spendlens-api/internal/models"
)

// AWSCostProcessor pulls the cost-and-usage report for a date range and
// normalizes line items into cost records. Transform drops zero-amount lines
// (AWS emits one per active service even when usage rounded to zero).
type AWSCostProcessor struct {
	base
	client APIClient
}

func NewAWSCostProcessor(client APIClient, store datastore.Store) *AWSCostProcessor {
	return &AWSCostProcessor{base: base{store: store}, client: client}
}

type awsUsagePayload struct {
	ResultsByTime []struct {
		TimePeriod struct {
			Start string `json:"Start"`
		} `json:"TimePeriod"`
		Groups []struct {
			Keys    []string `json:"Keys"`
			Metrics struct {
				UnblendedCost struct {
					Amount string `json:"Amount"`
					Unit   string `json:"Unit"`
				} `json:"UnblendedCost"`
				UsageQuantity struct {
					Amount string `json:"Amount"`
				} `json:"UsageQuantity"`
			} `json:"Metrics"`
		} `json:"Groups"`
	} `json:"ResultsByTime"`
}

func (p *AWSCostProcessor) Extract(ctx context.Context, in Input) ([]models.CostRecord, error) {
	start, end, err := in.DateRange()
	if err != nil {
		return nil, err
	}
	payload, err := p.client.FetchUsage(ctx, in.Credential, in.Source, start, end)
	if err != nil {
		return nil, errors.Wrap(err, "aws cost extract")
	}

	var parsed awsUsagePayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, errors.Wrap(err, "parse aws cost payload")
	}

	var records []models.CostRecord
	for _, period := range parsed.ResultsByTime {
		day, err := time.Parse("2006-01-02", period.TimePeriod.Start)
		if err != nil {
			return nil, errors.Wrapf(err, "aws period start %q", period.TimePeriod.Start)
		}
		for _, group := range period.Groups {
			service, sku := groupKeys(group.Keys)
			records = append(records, models.CostRecord{
				TenantID:  in.TenantID,
				Provider:  "aws",
				Service:   service,
				SKU:       sku,
				UsageDate: day,
				Quantity:  parseFloat(group.Metrics.UsageQuantity.Amount),
				Amount:    parseFloat(group.Metrics.UnblendedCost.Amount),
				Currency:  orDefault(group.Metrics.UnblendedCost.Unit, "USD"),
			})
		}
	}
	return records, nil
}

func (p *AWSCostProcessor) Transform(_ context.Context, _ Input, records []models.CostRecord) ([]models.CostRecord, error) {
	filtered := records[:0]
	for _, rec := range records {
		if rec.Amount != 0 {
			filtered = append(filtered, rec)
		}
	}
	return filtered, nil
}

func groupKeys(keys []string) (service, sku string) {
	if len(keys) > 0 {
		service = keys[0]
	}
	if len(keys) > 1 {
		sku = keys[1]
	}
	return service, sku
}

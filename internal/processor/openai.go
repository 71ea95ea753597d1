package processor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/spendlens/spendlens-api/internal/datastore"
	"github.com/spendlens/spendlens-api/internal/models"
)

// OpenAIUsageProcessor pulls per-model token usage. The API reports token
// counts and cost in cents; Transform converts cents to currency units and
// collapses duplicate (model, day) lines the API sometimes emits per region.
type OpenAIUsageProcessor struct {
	base
	client APIClient
}

func NewOpenAIUsageProcessor(client APIClient, store datastore.Store) *OpenAIUsageProcessor {
	return &OpenAIUsageProcessor{base: base{store: store}, client: client}
}

type openAIUsagePayload struct {
	Data []struct {
		Model     string  `json:"model"`
		Date      string  `json:"date"`
		Tokens    float64 `json:"total_tokens"`
		CostCents float64 `json:"cost_in_cents"`
	} `json:"data"`
}

func (p *OpenAIUsageProcessor) Extract(ctx context.Context, in Input) ([]models.CostRecord, error) {
	start, end, err := in.DateRange()
	if err != nil {
		return nil, err
	}
	payload, err := p.client.FetchUsage(ctx, in.Credential, in.Source, start, end)
	if err != nil {
		return nil, errors.Wrap(err, "openai usage extract")
	}

	var parsed openAIUsagePayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, errors.Wrap(err, "parse openai usage payload")
	}

	records := make([]models.CostRecord, 0, len(parsed.Data))
	for _, row := range parsed.Data {
		day, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			return nil, errors.Wrapf(err, "openai usage date %q", row.Date)
		}
		records = append(records, models.CostRecord{
			TenantID:  in.TenantID,
			Provider:  "openai",
			Service:   "api",
			SKU:       row.Model,
			UsageDate: day,
			Quantity:  row.Tokens,
			Amount:    row.CostCents,
			Currency:  "USD",
		})
	}
	return records, nil
}

func (p *OpenAIUsageProcessor) Transform(_ context.Context, _ Input, records []models.CostRecord) ([]models.CostRecord, error) {
	type key struct {
		sku string
		day time.Time
	}
	merged := make(map[key]models.CostRecord)
	var order []key
	for _, rec := range records {
		k := key{sku: rec.SKU, day: rec.UsageDate}
		existing, ok := merged[k]
		if !ok {
			order = append(order, k)
			rec.Amount = rec.Amount / 100.0
			merged[k] = rec
			continue
		}
		existing.Quantity += rec.Quantity
		existing.Amount += rec.Amount / 100.0
		merged[k] = existing
	}
	out := make([]models.CostRecord, 0, len(merged))
	for _, k := range order {
		out = append(out, merged[k])
	}
	return out, nil
}

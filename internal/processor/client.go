package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// APIClient fetches a raw usage/billing payload from a provider API for a
// date range. One client per provider family; the credential plaintext is
// passed per call and never retained.
type APIClient interface {
	FetchUsage(ctx context.Context, credential []byte, source map[string]any, start, end time.Time) ([]byte, error)
}

// HTTPClient is the shared APIClient over a provider's REST billing API.
// Transient failures (5xx, network) retry with exponential backoff; client
// errors fail immediately.
type HTTPClient struct {
	baseURL string
	httpc   *http.Client
	logger  zerolog.Logger
}

func NewHTTPClient(baseURL string, logger zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With().Str("component", "provider_client").Str("base_url", baseURL).Logger(),
	}
}

type apiCredential struct {
	APIKey string `json:"api_key"`
}

func (c *HTTPClient) FetchUsage(ctx context.Context, credential []byte, source map[string]any, start, end time.Time) ([]byte, error) {
	var cred apiCredential
	if err := json.Unmarshal(credential, &cred); err != nil {
		return nil, errors.Wrap(err, "parse provider credential")
	}

	endpoint := "/v1/usage"
	if e, ok := source["endpoint"].(string); ok && e != "" {
		endpoint = e
	}
	url := fmt.Sprintf("%s%s?start_date=%s&end_date=%s",
		c.baseURL, endpoint, start.Format("2006-01-02"), end.Format("2006-01-02"))

	var payload []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+cred.APIKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode == http.StatusOK:
			payload = body
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			c.logger.Warn().Int("status", resp.StatusCode).Str("endpoint", endpoint).Msg("provider API transient failure, retrying")
			return fmt.Errorf("provider API returned %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("provider API returned %d: %s", resp.StatusCode, string(body)))
		}
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(operation, backoff.WithContext(expo, ctx)); err != nil {
		return nil, errors.Wrap(err, "fetch provider usage")
	}
	return payload, nil
}

// Package registry provides a client for the regulatory compliance registry.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/cropdoc/internal/model"
	"github.com/sells-group/cropdoc/internal/resilience"
)

// Submission is the registry's view of a recorded intervention.
type Submission struct {
	InterventionID string                     `json:"intervention_id"`
	FarmID         string                     `json:"farm_id"`
	ParcelID       string                     `json:"parcel_id"`
	Type           model.InterventionType     `json:"type"`
	StartedAt      time.Time                  `json:"started_at"`
	AreaHa         float64                    `json:"area_ha"`
	Products       []model.ProductApplication `json:"products,omitempty"`
	Location       *model.Location            `json:"location,omitempty"`
}

// NewSubmission builds the submission for a stored intervention.
func NewSubmission(rec *model.InterventionRecord, loc *model.Location) Submission {
	return Submission{
		InterventionID: rec.ID,
		FarmID:         rec.Payload.FarmID,
		ParcelID:       rec.Payload.ParcelID,
		Type:           rec.Payload.Type,
		StartedAt:      rec.Payload.StartedAt.UTC(),
		AreaHa:         rec.Payload.AreaHa,
		Products:       rec.Payload.Products,
		Location:       loc,
	}
}

// Verdict is the registry's compliance decision.
type Verdict struct {
	Compliant bool   `json:"compliant"`
	Detail    string `json:"detail,omitempty"`
}

// Client checks interventions against the registry.
type Client interface {
	CheckCompliance(ctx context.Context, sub Submission) (Verdict, error)
}

// Option configures the registry client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a registry client for the service at baseURL.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 20 * time.Second},
		limiter: rate.NewLimiter(5, 5),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("registry", "check_compliance")
	}
	return c
}

func (c *httpClient) CheckCompliance(ctx context.Context, sub Submission) (Verdict, error) {
	body, err := json.Marshal(sub)
	if err != nil {
		return Verdict{}, eris.Wrap(err, "registry: marshal submission")
	}

	v, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (Verdict, error) {
		return c.post(ctx, body)
	})
	if err != nil {
		return Verdict{}, eris.Wrapf(err, "registry: check compliance for %s", sub.InterventionID)
	}
	return v, nil
}

func (c *httpClient) post(ctx context.Context, payload []byte) (Verdict, error) {
	var v Verdict

	if err := c.limiter.Wait(ctx); err != nil {
		return v, eris.Wrap(err, "registry: rate limit")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/compliance-checks", bytes.NewReader(payload))
	if err != nil {
		return v, eris.Wrap(err, "registry: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return v, eris.Wrap(err, "registry: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return v, eris.Wrap(err, "registry: read body")
	}

	if resp.StatusCode != http.StatusOK {
		return v, resilience.StatusError("registry", resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, &v); err != nil {
		return v, eris.Wrap(err, "registry: parse response")
	}
	return v, nil
}

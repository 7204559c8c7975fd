// Package weather provides a client for the field-conditions service.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/cropdoc/internal/model"
	"github.com/sells-group/cropdoc/internal/resilience"
)

// Client fetches environmental readings for a location.
type Client interface {
	// CurrentConditions returns the readings observed at loc during window.
	// Readings the service does not report are left nil.
	CurrentConditions(ctx context.Context, loc model.Location, window model.TimeWindow) (model.Environment, error)
}

// Option configures the weather client.
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

// NewClient creates a weather client for the service at baseURL.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(10, 10),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("weather", "current_conditions")
	}
	return c
}

func (c *httpClient) CurrentConditions(ctx context.Context, loc model.Location, window model.TimeWindow) (model.Environment, error) {
	params := url.Values{
		"lat":  {strconv.FormatFloat(loc.Latitude, 'f', 5, 64)},
		"lon":  {strconv.FormatFloat(loc.Longitude, 'f', 5, 64)},
		"from": {window.From.UTC().Format(time.RFC3339)},
		"to":   {window.To.UTC().Format(time.RFC3339)},
	}
	reqURL := fmt.Sprintf("%s/v1/conditions?%s", c.baseURL, params.Encode())

	env, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (model.Environment, error) {
		return c.fetch(ctx, reqURL)
	})
	if err != nil {
		return model.Environment{}, eris.Wrap(err, "weather: current conditions")
	}
	return env, nil
}

func (c *httpClient) fetch(ctx context.Context, reqURL string) (model.Environment, error) {
	var env model.Environment

	if err := c.limiter.Wait(ctx); err != nil {
		return env, eris.Wrap(err, "weather: rate limit")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return env, eris.Wrap(err, "weather: build request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return env, eris.Wrap(err, "weather: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return env, eris.Wrap(err, "weather: read body")
	}

	if resp.StatusCode != http.StatusOK {
		return env, resilience.StatusError("weather", resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, &env); err != nil {
		return env, eris.Wrap(err, "weather: parse response")
	}
	return env, nil
}

// Package safety provides a client for the product safety-guideline service.
package safety

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

// Constraint bounds one environmental reading during application.
type Constraint struct {
	model.Predicate
	Reason string `json:"reason,omitempty"`
}

// Guidelines are the published safety rules for one subject.
type Guidelines struct {
	Subject     string       `json:"subject"`
	Text        string       `json:"text,omitempty"`
	Constraints []Constraint `json:"constraints,omitempty"`
}

// Violations returns a message per constraint broken by env. Readings that
// were not observed cannot violate a constraint.
func (g Guidelines) Violations(env model.Environment) []string {
	var out []string
	for _, c := range g.Constraints {
		v, ok := env.Value(c.Field)
		if !ok || c.Satisfied(env) {
			continue
		}
		msg := fmt.Sprintf("%s: %s %s outside %s", g.Subject, c.Field, strconv.FormatFloat(v, 'f', -1, 64), bounds(c.Predicate))
		if c.Reason != "" {
			msg += " (" + c.Reason + ")"
		}
		out = append(out, msg)
	}
	return out
}

func bounds(p model.Predicate) string {
	lo, hi := "-inf", "+inf"
	if p.Min != nil {
		lo = strconv.FormatFloat(*p.Min, 'f', -1, 64)
	}
	if p.Max != nil {
		hi = strconv.FormatFloat(*p.Max, 'f', -1, 64)
	}
	return "[" + lo + ", " + hi + "]"
}

// Client looks up safety guidelines.
type Client interface {
	// GuidelinesFor returns the guidelines for subject. An unknown subject
	// yields empty guidelines and no error.
	GuidelinesFor(ctx context.Context, subject string) (Guidelines, error)
}

// Option configures the safety client.
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

// NewClient creates a safety client for the service at baseURL.
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
		c.retry.OnRetry = resilience.RetryLogger("safety", "guidelines")
	}
	return c
}

func (c *httpClient) GuidelinesFor(ctx context.Context, subject string) (Guidelines, error) {
	reqURL := c.baseURL + "/v1/guidelines/" + url.PathEscape(subject)

	g, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (Guidelines, error) {
		return c.fetch(ctx, reqURL)
	})
	if err != nil {
		return Guidelines{}, eris.Wrapf(err, "safety: guidelines for %q", subject)
	}
	if g.Subject == "" {
		g.Subject = subject
	}
	return g, nil
}

func (c *httpClient) fetch(ctx context.Context, reqURL string) (Guidelines, error) {
	var g Guidelines

	if err := c.limiter.Wait(ctx); err != nil {
		return g, eris.Wrap(err, "safety: rate limit")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return g, eris.Wrap(err, "safety: build request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return g, eris.Wrap(err, "safety: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return g, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return g, eris.Wrap(err, "safety: read body")
	}

	if resp.StatusCode != http.StatusOK {
		return g, resilience.StatusError("safety", resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, &g); err != nil {
		return g, eris.Wrap(err, "safety: parse response")
	}
	return g, nil
}

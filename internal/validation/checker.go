// Package validation runs post-hoc compliance checks on recorded
// interventions through a durable, lease-based task queue.
package validation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/sells-group/cropdoc/internal/model"
	"github.com/sells-group/cropdoc/internal/resilience"
	"github.com/sells-group/cropdoc/pkg/registry"
	"github.com/sells-group/cropdoc/pkg/safety"
	"github.com/sells-group/cropdoc/pkg/weather"
)

// Check names, in execution order.
const (
	CheckRegistry = "registry"
	CheckWeather  = "weather"
	CheckSafety   = "safety"
)

// CheckError reports which check failed.
type CheckError struct {
	Check string
	Err   error
}

func (e *CheckError) Error() string { return e.Check + ": " + e.Err.Error() }

func (e *CheckError) Unwrap() error { return e.Err }

// Checker runs the ordered collaborator checks for one intervention.
type Checker struct {
	registry registry.Client
	weather  weather.Client
	safety   safety.Client

	breakers      *resilience.ServiceBreakers
	callTimeout   time.Duration
	weatherWindow time.Duration
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithBreakers sets the per-collaborator circuit breakers.
func WithBreakers(sb *resilience.ServiceBreakers) CheckerOption {
	return func(c *Checker) { c.breakers = sb }
}

// WithCallTimeout bounds each collaborator call.
func WithCallTimeout(d time.Duration) CheckerOption {
	return func(c *Checker) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithWeatherWindow sets how far back from the start the weather lookup
// reaches when the intervention has no end time.
func WithWeatherWindow(d time.Duration) CheckerOption {
	return func(c *Checker) {
		if d > 0 {
			c.weatherWindow = d
		}
	}
}

// NewChecker creates a Checker over the three collaborators.
func NewChecker(reg registry.Client, wx weather.Client, sf safety.Client, opts ...CheckerOption) *Checker {
	c := &Checker{
		registry:      reg,
		weather:       wx,
		safety:        sf,
		breakers:      resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig()),
		callTimeout:   10 * time.Second,
		weatherWindow: 6 * time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes the registry, weather and safety checks in order and stops at
// the first non-compliant verdict. A collaborator error is returned as a
// *CheckError along with the verdicts gathered so far.
func (c *Checker) Run(ctx context.Context, rec *model.InterventionRecord) ([]model.CheckVerdict, error) {
	log := zap.L().With(zap.String("component", "validation"), zap.String("intervention_id", rec.ID))
	loc := locate(rec.Payload)

	var verdicts []model.CheckVerdict

	v, err := call(ctx, c, CheckRegistry, func(ctx context.Context) (registry.Verdict, error) {
		return c.registry.CheckCompliance(ctx, registry.NewSubmission(rec, loc))
	})
	if err != nil {
		return verdicts, &CheckError{Check: CheckRegistry, Err: err}
	}
	verdicts = append(verdicts, model.CheckVerdict{Check: CheckRegistry, Compliant: v.Compliant, Detail: v.Detail})
	if !v.Compliant {
		return verdicts, nil
	}

	var env model.Environment
	if loc == nil {
		log.Debug("no location on intervention, skipping weather lookup")
		verdicts = append(verdicts, model.CheckVerdict{Check: CheckWeather, Compliant: true, Detail: "no location recorded"})
	} else {
		env, err = call(ctx, c, CheckWeather, func(ctx context.Context) (model.Environment, error) {
			return c.weather.CurrentConditions(ctx, *loc, c.window(rec.Payload))
		})
		if err != nil {
			return verdicts, &CheckError{Check: CheckWeather, Err: err}
		}
		verdicts = append(verdicts, model.CheckVerdict{Check: CheckWeather, Compliant: true, Detail: describeReadings(env)})
	}

	for _, subject := range rec.Payload.Subjects() {
		g, err := call(ctx, c, CheckSafety, func(ctx context.Context) (safety.Guidelines, error) {
			return c.safety.GuidelinesFor(ctx, subject)
		})
		if err != nil {
			return verdicts, &CheckError{Check: CheckSafety, Err: err}
		}

		if violations := g.Violations(env); len(violations) > 0 {
			verdicts = append(verdicts, model.CheckVerdict{
				Check:  CheckSafety,
				Detail: strings.Join(violations, "; "),
			})
			return verdicts, nil
		}
		verdicts = append(verdicts, model.CheckVerdict{Check: CheckSafety, Compliant: true, Detail: subject})
	}

	return verdicts, nil
}

// call runs fn under the collaborator's breaker with a per-call timeout.
func call[T any](ctx context.Context, c *Checker, service string, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return resilience.ExecuteVal(cctx, c.breakers.Get(service), fn)
}

func (c *Checker) window(p model.InterventionPayload) model.TimeWindow {
	if !p.EndedAt.IsZero() {
		return model.TimeWindow{From: p.StartedAt.UTC(), To: p.EndedAt.UTC()}
	}
	return model.WindowEnding(p.StartedAt, c.weatherWindow)
}

// locate returns the payload location, or the centroid of its boundary.
func locate(p model.InterventionPayload) *model.Location {
	if p.Location != nil {
		return p.Location
	}
	if len(p.Boundary) == 0 {
		return nil
	}

	var g geom.T
	if err := geojson.Unmarshal(p.Boundary, &g); err != nil {
		zap.L().Warn("validation: unreadable parcel boundary", zap.Error(eris.Wrap(err, "decode geojson")))
		return nil
	}
	centroid, err := xy.Centroid(g)
	if err != nil || len(centroid) < 2 {
		zap.L().Warn("validation: boundary has no centroid", zap.Error(err))
		return nil
	}
	return &model.Location{Latitude: centroid[1], Longitude: centroid[0]}
}

func describeReadings(env model.Environment) string {
	var parts []string
	for _, f := range model.EnvFields {
		if v, ok := env.Value(f); ok {
			parts = append(parts, fmt.Sprintf("%s=%g", f, v))
		}
	}
	if len(parts) == 0 {
		return "no readings"
	}
	return strings.Join(parts, " ")
}

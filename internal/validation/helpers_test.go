package validation

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/cropdoc/internal/model"
	"github.com/sells-group/cropdoc/internal/resilience"
	"github.com/sells-group/cropdoc/internal/store"
	"github.com/sells-group/cropdoc/pkg/registry"
	"github.com/sells-group/cropdoc/pkg/safety"
)

func ptr(v float64) *float64 { return &v }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Now().Add(time.Second)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeRegistry struct {
	mu       sync.Mutex
	verdict  registry.Verdict
	failures []error
	delay    time.Duration
	calls    atomic.Int32
}

func (f *fakeRegistry) CheckCompliance(ctx context.Context, _ registry.Submission) (registry.Verdict, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return registry.Verdict{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return registry.Verdict{}, err
	}
	return f.verdict, nil
}

type fakeWeather struct {
	env   model.Environment
	err   error
	calls atomic.Int32
	last  atomic.Pointer[model.Location]
}

func (f *fakeWeather) CurrentConditions(_ context.Context, loc model.Location, _ model.TimeWindow) (model.Environment, error) {
	f.calls.Add(1)
	f.last.Store(&loc)
	return f.env, f.err
}

type fakeSafety struct {
	guidelines map[string]safety.Guidelines
	calls      atomic.Int32
}

func (f *fakeSafety) GuidelinesFor(_ context.Context, subject string) (safety.Guidelines, error) {
	f.calls.Add(1)
	if g, ok := f.guidelines[subject]; ok {
		return g, nil
	}
	return safety.Guidelines{Subject: subject}, nil
}

func compliant() *fakeRegistry {
	return &fakeRegistry{verdict: registry.Verdict{Compliant: true}}
}

func calmWeather() *fakeWeather {
	return &fakeWeather{env: model.Environment{TemperatureC: ptr(16), WindKPH: ptr(8)}}
}

func windLimit() *fakeSafety {
	return &fakeSafety{guidelines: map[string]safety.Guidelines{
		"Prosaro": {
			Subject:     "Prosaro",
			Constraints: []safety.Constraint{{Predicate: model.Predicate{Field: model.EnvWindKPH, Max: ptr(15)}, Reason: "drift"}},
		},
	}}
}

func transient() error {
	return resilience.NewTransientError(errors.New("registry: status 503"), 503)
}

func sprayPayload() model.InterventionPayload {
	return model.InterventionPayload{
		FarmID:    "farm-7",
		ParcelID:  "p-3",
		Type:      model.InterventionSpraying,
		StartedAt: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
		AreaHa:    4.5,
		Products:  []model.ProductApplication{{Name: "Prosaro", Dose: 1, Unit: "l/ha"}},
		Location:  &model.Location{Latitude: 52.1, Longitude: 5.2},
	}
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "validation.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Minute, MaxBackoff: time.Minute, Multiplier: 1}
}

func newTestPool(st store.ValidationStore, checker *Checker, clk *clock) *Pool {
	p := NewPool(st, checker, PoolConfig{Workers: 2, BatchSize: 5, Lease: time.Minute, PollInterval: 10 * time.Millisecond, Retry: testRetry()})
	p.now = clk.Now
	return p
}

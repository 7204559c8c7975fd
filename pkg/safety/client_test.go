package safety

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cropdoc/internal/model"
	"github.com/sells-group/cropdoc/internal/resilience"
)

func ptr(v float64) *float64 { return &v }

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1}
}

func TestGuidelinesFor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/guidelines/Prosaro%20250", r.URL.EscapedPath())
		_, _ = w.Write([]byte(`{
			"text": "Do not spray in wind above 15 km/h.",
			"constraints": [{"field": "wind_kph", "max": 15, "reason": "drift"}]
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", WithRetry(fastRetry()))
	g, err := c.GuidelinesFor(context.Background(), "Prosaro 250")
	require.NoError(t, err)
	assert.Equal(t, "Prosaro 250", g.Subject)
	require.Len(t, g.Constraints, 1)
	assert.Equal(t, model.EnvWindKPH, g.Constraints[0].Field)
	assert.InDelta(t, 15, *g.Constraints[0].Max, 1e-9)
	assert.Equal(t, "drift", g.Constraints[0].Reason)
}

func TestGuidelinesFor_UnknownSubject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	g, err := NewClient(srv.URL, "").GuidelinesFor(context.Background(), "water")
	require.NoError(t, err)
	assert.Equal(t, "water", g.Subject)
	assert.Empty(t, g.Constraints)
}

func TestGuidelinesFor_TransientExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", WithRetry(fastRetry())).GuidelinesFor(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestViolations(t *testing.T) {
	g := Guidelines{
		Subject: "Prosaro",
		Constraints: []Constraint{
			{Predicate: model.Predicate{Field: model.EnvWindKPH, Max: ptr(15)}, Reason: "drift"},
			{Predicate: model.Predicate{Field: model.EnvTemperatureC, Min: ptr(5), Max: ptr(25)}},
			{Predicate: model.Predicate{Field: model.EnvRainfallMM, Max: ptr(2)}},
		},
	}

	env := model.Environment{WindKPH: ptr(22), TemperatureC: ptr(18)}
	assert.Equal(t, []string{"Prosaro: wind_kph 22 outside [-inf, 15] (drift)"}, g.Violations(env))

	env = model.Environment{WindKPH: ptr(10), TemperatureC: ptr(30.5)}
	assert.Equal(t, []string{"Prosaro: temperature_c 30.5 outside [5, 25]"}, g.Violations(env))

	assert.Empty(t, g.Violations(model.Environment{}))
}

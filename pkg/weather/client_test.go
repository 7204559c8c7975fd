package weather

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

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1}
}

func window() model.TimeWindow {
	return model.WindowEnding(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC), time.Hour)
}

func TestCurrentConditions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/conditions", r.URL.Path)
		assert.Equal(t, "52.10000", r.URL.Query().Get("lat"))
		assert.Equal(t, "5.20000", r.URL.Query().Get("lon"))
		assert.Equal(t, "2026-05-04T11:00:00Z", r.URL.Query().Get("from"))
		assert.Equal(t, "2026-05-04T12:00:00Z", r.URL.Query().Get("to"))
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"temperature_c": 18.5, "wind_kph": 12}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", WithRetry(fastRetry()))
	env, err := c.CurrentConditions(context.Background(), model.Location{Latitude: 52.1, Longitude: 5.2}, window())
	require.NoError(t, err)
	require.NotNil(t, env.TemperatureC)
	assert.InDelta(t, 18.5, *env.TemperatureC, 1e-9)
	require.NotNil(t, env.WindKPH)
	assert.Nil(t, env.HumidityPct)
}

func TestCurrentConditions_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"humidity_pct": 80}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", WithRetry(fastRetry()))
	env, err := c.CurrentConditions(context.Background(), model.Location{}, window())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.InDelta(t, 80, *env.HumidityPct, 1e-9)
}

func TestCurrentConditions_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
		calls     int32
	}{
		{"bad request", http.StatusBadRequest, `{"error":"bad lat"}`, false, 1},
		{"rate limited", http.StatusTooManyRequests, ``, true, 3},
		{"gateway timeout", http.StatusGatewayTimeout, ``, true, 3},
		{"bad json", http.StatusOK, `{`, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "", WithRetry(fastRetry()))
			_, err := c.CurrentConditions(context.Background(), model.Location{}, window())
			require.Error(t, err)
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
			assert.Equal(t, tt.calls, calls.Load())
			assert.Contains(t, err.Error(), "weather:")
		})
	}
}

func TestCurrentConditions_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(srv.URL, "", WithRateLimit(1), WithRetry(fastRetry()))
	_, err := c.CurrentConditions(ctx, model.Location{}, window())
	assert.ErrorIs(t, err, context.Canceled)
}
